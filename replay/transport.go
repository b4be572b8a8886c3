package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/grafana/webcat/common"
)

// handlerTransport serves requests in-process with an http.Handler.
type handlerTransport struct {
	handler http.Handler
}

func (t *handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sreq := req.Clone(req.Context())
	if sreq.Body == nil {
		sreq.Body = http.NoBody
	}
	sreq.RequestURI = req.URL.RequestURI()
	sreq.RemoteAddr = "127.0.0.1:1234"
	sreq.Host = req.URL.Host

	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, sreq)

	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

type request struct {
	method      string
	url         *url.URL
	body        []byte
	contentType string
}

// do sends r and follows redirects until a non-redirect response, which
// becomes the current document.
func (d *Driver) do(ctx context.Context, r *request) error {
	method, u, body, contentType := r.method, r.url, r.body, r.contentType
	var referer string
	if d.doc != nil {
		referer = d.doc.URL()
	}

	for redirects := 0; ; redirects++ {
		d.logger.Debugf("replay:do", "%s %s", method, u)

		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building request %s %s: %w", method, u, err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("requesting %s %s: %w", method, u, err)
		}

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			return d.load(u, resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if redirects >= d.maxRedirects {
			return fmt.Errorf("%w: gave up after %d redirects at %s", common.ErrTooManyRedirects, redirects, u)
		}
		next, err := u.Parse(location)
		if err != nil {
			return fmt.Errorf("parsing redirect location %q: %w", location, err)
		}
		d.logger.Debugf("replay:do", "%d redirect to %s", resp.StatusCode, next)

		if resp.StatusCode != http.StatusTemporaryRedirect && resp.StatusCode != http.StatusPermanentRedirect {
			if method != http.MethodHead {
				method = http.MethodGet
			}
			body, contentType = nil, ""
		}
		referer = u.String()
		u = next
	}
}

func (d *Driver) load(u *url.URL, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	buf := d.pool.Get()
	defer d.pool.Put(buf)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return fmt.Errorf("reading response from %s: %w", u, err)
	}

	doc, err := common.NewDocument(u.String(), buf.String())
	if err != nil {
		return err
	}
	d.doc = doc
	d.status = resp.StatusCode
	d.header = resp.Header
	d.logger.Debugf("replay:load", "status:%d url:%s doc:%d", resp.StatusCode, u, doc.ID())

	return nil
}
