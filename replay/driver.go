// Package replay implements a driver that talks HTTP to the application
// directly, either in-process through an http.Handler or over the network,
// and keeps the page state in immutable document snapshots.
package replay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/oxtoacart/bpool"
	"golang.org/x/net/publicsuffix"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/log"
)

// Ensure Driver implements the api.Driver interface.
var _ api.Driver = &Driver{}

// DefaultMaxRedirects bounds redirect chains when Options leaves it unset.
const DefaultMaxRedirects = 20

// Options configures a replay Driver.
type Options struct {
	// MaxRedirects is the number of redirects followed before giving up.
	MaxRedirects int
	// Host names in-process handler targets.
	Host string
	// Timeout bounds requests to remote targets.
	Timeout  time.Duration
	OpenFile common.FileOpener
	Logger   *log.Logger
}

// Driver replays browser requests against the application.
type Driver struct {
	base         *url.URL
	client       *http.Client
	maxRedirects int
	openFile     common.FileOpener
	pool         *bpool.BufferPool
	logger       *log.Logger

	doc    *common.Document
	status int
	header http.Header
}

// New returns a driver for target, which must be an http.Handler, a base URL
// string or a *url.URL.
func New(target any, opts Options) (*Driver, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Host == "" {
		opts.Host = "www.example.com"
	}
	if opts.OpenFile == nil {
		opts.OpenFile = common.OpenLocalFile
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var base *url.URL
	switch t := target.(type) {
	case http.Handler:
		base = &url.URL{Scheme: "http", Host: opts.Host, Path: "/"}
		client.Transport = &handlerTransport{handler: t}
	case *url.URL:
		base, err = remoteBase(t.String())
	case string:
		base, err = remoteBase(t)
	default:
		return nil, fmt.Errorf("unsupported application target %T", target)
	}
	if err != nil {
		return nil, err
	}

	return &Driver{
		base:         base,
		client:       client,
		maxRedirects: opts.MaxRedirects,
		openFile:     opts.OpenFile,
		pool:         bpool.NewBufferPool(8),
		logger:       opts.Logger,
	}, nil
}

func remoteBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing application URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("application URL %q must be an absolute http(s) URL", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Visit navigates to path, resolved against the application base URL.
func (d *Driver) Visit(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parsing path %q: %w", path, err)
	}
	d.logger.Debugf("replay:Visit", "path:%q", path)

	return d.do(ctx, &request{method: http.MethodGet, url: d.base.ResolveReference(ref)})
}

// Document returns the current document snapshot.
func (d *Driver) Document(context.Context) (api.Document, error) {
	if d.doc == nil {
		return nil, common.ErrNoDocument
	}
	return d.doc, nil
}

// CurrentURL returns the URL of the current document.
func (d *Driver) CurrentURL(context.Context) (string, error) {
	if d.doc == nil {
		return "", common.ErrNoDocument
	}
	return d.doc.URL(), nil
}

// StatusCode returns the status of the last response.
func (d *Driver) StatusCode() int {
	return d.status
}

// ResponseHeaders returns the headers of the last response.
func (d *Driver) ResponseHeaders() http.Header {
	return d.header.Clone()
}

// Find runs a CSS query over the current snapshot.
func (d *Driver) Find(_ context.Context, scope api.ElementHandle, selector string) ([]api.ElementHandle, error) {
	if d.doc == nil {
		return nil, common.ErrNoDocument
	}
	if scope == nil {
		scope = d.doc.Root()
	}
	if err := d.checkCurrent(scope); err != nil {
		return nil, err
	}
	return scope.Query(selector)
}

// Close releases idle connections.
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *Driver) checkCurrent(els ...api.ElementHandle) error {
	if d.doc == nil {
		return common.ErrNoDocument
	}
	for _, el := range els {
		if el == nil {
			continue
		}
		if el.Document().ID() != d.doc.ID() {
			return fmt.Errorf("%w: %s", common.ErrStaleElement, el)
		}
	}
	return nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
