// Package chromium implements a driver backed by a Chrome or Chromium
// browser spoken to over the Chrome DevTools Protocol.
package chromium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/tidwall/gjson"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/cdp"
	"github.com/grafana/webcat/chromium/js"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/storage"
)

// Ensure Driver implements the api.Driver interface.
var _ api.Driver = &Driver{}

const (
	defaultTimeout = 30 * time.Second
	pollInterval   = 50 * time.Millisecond
	// settleDelay is how long an action may take to start a navigation.
	settleDelay = 300 * time.Millisecond
)

// Options configures a chromium Driver.
type Options struct {
	// ExecutablePath of the browser, looked up when empty.
	ExecutablePath string
	Headless       bool
	// Args are extra "name=value" browser flags.
	Args []string
	// WSURL connects to a running browser instead of launching one.
	WSURL string
	// Timeout bounds every wait for the browser.
	Timeout time.Duration
	Logger  *log.Logger
}

// Driver drives a page of a browser.
type Driver struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sctx    context.Context
	base    *url.URL
	timeout time.Duration
	logger  *log.Logger

	client           *cdp.Client
	proc             *process
	browserContextID string
	stopDialogs      func()

	doc     *common.Document
	stale   bool
	markers int64
}

// New starts or connects to a browser and opens a page for the application
// at appURL.
func New(ctx context.Context, appURL string, opts Options) (_ *Driver, err error) {
	base, err := url.Parse(appURL)
	if err != nil {
		return nil, fmt.Errorf("parsing application URL %q: %w", appURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("application URL %q must be an absolute http(s) URL", appURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Driver{
		ctx:     dctx,
		cancel:  cancel,
		base:    base,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		stale:   true,
	}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	wsURL := opts.WSURL
	if wsURL == "" {
		if d.proc, err = d.launch(opts); err != nil {
			return nil, err
		}
		wsURL = d.proc.wsURL
	}

	d.client = cdp.NewClient(dctx, d.logger)
	if err = d.client.Connect(wsURL); err != nil {
		return nil, err
	}
	if err = d.openPage(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Driver) launch(opts Options) (*process, error) {
	path := opts.ExecutablePath
	if path == "" {
		if path = ExecutablePath(); path == "" {
			return nil, errors.New("no chromium executable found, set WEBCAT_CHROMIUM_PATH")
		}
	}

	var dataDir storage.Dir
	if err := dataDir.Make("", ""); err != nil {
		return nil, err
	}
	args, err := parseArgs(prepareFlags(opts.Headless, dataDir.Dir, opts.Args))
	if err != nil {
		_ = dataDir.Cleanup()
		return nil, err
	}
	d.logger.Debugf("chromium:launch", "path:%q args:%v", path, args)

	return launch(d.ctx, path, args, &dataDir, d.timeout, d.logger)
}

// openPage creates an isolated browser context with one page and attaches
// to it.
func (d *Driver) openPage() error {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	var err error
	if d.browserContextID, err = d.client.Target.CreateBrowserContext(ctx, true); err != nil {
		return err
	}
	targetID, err := d.client.Target.CreateTarget(ctx, "about:blank", d.browserContextID)
	if err != nil {
		return err
	}
	sessionID, err := d.client.Target.AttachToTarget(ctx, targetID)
	if err != nil {
		return err
	}
	d.sctx = cdp.WithSessionID(d.ctx, sessionID)

	dialogs, stop := d.client.Subscribe(d.sctx, cdproto.EventPageJavascriptDialogOpening)
	d.stopDialogs = stop
	go d.acceptDialogs(dialogs)

	return d.client.Page.Enable(cdp.WithSessionID(ctx, sessionID))
}

// acceptDialogs accepts JavaScript dialogs as they open so scripts never
// block the page.
func (d *Driver) acceptDialogs(dialogs <-chan *cdp.Event) {
	for range dialogs {
		ctx, cancel := context.WithTimeout(d.sctx, d.timeout)
		if err := d.client.Page.HandleJavaScriptDialog(ctx, true); err != nil {
			d.logger.Debugf("chromium:acceptDialogs", "%v", err)
		}
		cancel()
	}
}

// Visit navigates to path, resolved against the application URL.
func (d *Driver) Visit(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parsing path %q: %w", path, err)
	}
	u := d.base.ResolveReference(ref).String()
	d.logger.Debugf("chromium:Visit", "url:%q", u)

	return d.act(ctx, func(ctx context.Context) error {
		_, err := d.client.Page.Navigate(ctx, u, "")
		return err
	})
}

// Document returns the current document snapshot, taking a new one after
// any action.
func (d *Driver) Document(ctx context.Context) (api.Document, error) {
	doc, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Driver) snapshot(ctx context.Context) (*common.Document, error) {
	if !d.stale {
		return d.doc, nil
	}
	raw, err := d.call(ctx, js.SnapshotScript)
	if err != nil {
		return nil, fmt.Errorf("taking a snapshot: %w", err)
	}
	doc, err := common.NewDocument(gjson.GetBytes(raw, "url").String(), gjson.GetBytes(raw, "html").String())
	if err != nil {
		return nil, err
	}
	d.logger.Debugf("chromium:snapshot", "url:%q doc:%d", doc.URL(), doc.ID())
	d.doc, d.stale = doc, false

	return doc, nil
}

// CurrentURL returns the URL of the current document.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	doc, err := d.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return doc.URL(), nil
}

// Find runs a CSS query in the page below scope.
func (d *Driver) Find(ctx context.Context, scope api.ElementHandle, selector string) ([]api.ElementHandle, error) {
	doc, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	path := []int{}
	if scope != nil {
		if err := d.checkCurrent(scope); err != nil {
			return nil, err
		}
		if p := scope.Path(); p != nil {
			path = p
		}
	}

	raw, err := d.call(ctx, js.FindScript, path, selector)
	if err != nil {
		if strings.Contains(err.Error(), "not a valid selector") {
			return nil, fmt.Errorf("%w %q: %v", common.ErrInvalidSelector, selector, err)
		}
		return nil, fmt.Errorf("finding %q: %w", selector, err)
	}

	var paths [][]int
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, fmt.Errorf("decoding element paths: %w", err)
	}
	els := make([]api.ElementHandle, 0, len(paths))
	for _, p := range paths {
		el, err := doc.ElementAt(p)
		if err != nil {
			// The page changed since the snapshot.
			d.stale = true
			return nil, err
		}
		els = append(els, el)
	}

	return els, nil
}

// SetValue types value into a text-like input or a textarea.
func (d *Driver) SetValue(ctx context.Context, el api.ElementHandle, value string) error {
	d.logger.Debugf("chromium:SetValue", "el:%s value:%q", el, value)
	if err := common.CheckValueSettable(el); err != nil {
		return err
	}
	return d.elementAction(ctx, el, "value", common.TruncateToMaxLength(el, value))
}

// SetChecked clicks a checkbox or radio button unless it already is in the
// wanted state.
func (d *Driver) SetChecked(ctx context.Context, el api.ElementHandle, checked bool) error {
	d.logger.Debugf("chromium:SetChecked", "el:%s checked:%t", el, checked)
	if err := common.CheckCheckable(el); err != nil {
		return err
	}
	return d.elementAction(ctx, el, "checked", checked)
}

// SetSelected selects or deselects an option.
func (d *Driver) SetSelected(ctx context.Context, option api.ElementHandle, selected bool) error {
	d.logger.Debugf("chromium:SetSelected", "option:%q selected:%t", option.Text(), selected)
	if err := common.CheckSelectable(option); err != nil {
		return err
	}
	return d.elementAction(ctx, option, "selected", selected)
}

// AttachFile sets the files of a file input.
func (d *Driver) AttachFile(ctx context.Context, el api.ElementHandle, path string) error {
	d.logger.Debugf("chromium:AttachFile", "el:%s path:%q", el, path)
	if err := common.CheckFileInput(el); err != nil {
		return err
	}
	if err := d.checkCurrent(el); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	expr, err := callExpression(js.ElementScript, el.Path())
	if err != nil {
		return err
	}
	objectID, err := d.client.Runtime.EvaluateHandle(ctx, expr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", el, err)
	}
	defer func() { _ = d.client.Runtime.ReleaseObject(ctx, objectID) }()

	d.stale = true
	return d.client.DOM.SetFileInputFiles(ctx, objectID, []string{abs})
}

// Click clicks el and waits for a navigation it starts.
func (d *Driver) Click(ctx context.Context, el api.ElementHandle) error {
	d.logger.Debugf("chromium:Click", "el:%s", el)
	return d.elementAction(ctx, el, "click", nil)
}

// Submit clicks button, or submits form when there is none.
func (d *Driver) Submit(ctx context.Context, form, button api.ElementHandle) error {
	d.logger.Debugf("chromium:Submit", "form:%s button:%v", form, button)
	if button != nil {
		return d.elementAction(ctx, button, "click", nil)
	}
	return d.elementAction(ctx, form, "submit", nil)
}

// Close closes the page and, if the driver launched it, the browser.
func (d *Driver) Close() error {
	d.logger.Debugf("chromium:Close", "")

	var err error
	if d.client != nil && d.sctx != nil {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		if d.proc != nil {
			err = d.client.Browser.Close(ctx)
		} else {
			err = d.client.Target.DisposeBrowserContext(ctx, d.browserContextID)
		}
		cancel()
	}
	if d.stopDialogs != nil {
		d.stopDialogs()
	}
	if d.client != nil {
		_ = d.client.Disconnect()
	}
	if d.proc != nil {
		if err != nil || d.sctx == nil {
			d.proc.kill()
		} else {
			d.proc.wait(d.timeout)
		}
	}
	d.cancel()

	return err
}

// elementAction runs an action script on el and waits for the page to
// settle.
func (d *Driver) elementAction(ctx context.Context, el api.ElementHandle, action string, arg any) error {
	if err := d.checkCurrent(el); err != nil {
		return err
	}
	return d.act(ctx, func(ctx context.Context) error {
		if _, err := d.call(ctx, js.ActionScript, el.Path(), action, arg); err != nil {
			return fmt.Errorf("%s on %s: %w", action, el, err)
		}
		return nil
	})
}

// act marks the window, runs fn and waits for the navigation fn may have
// started to complete. Any action invalidates the current snapshot.
func (d *Driver) act(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	marker := strconv.FormatInt(atomic.AddInt64(&d.markers, 1), 10)
	if _, err := d.call(ctx, js.MarkerScript, marker, true); err != nil {
		return fmt.Errorf("marking the page: %w", err)
	}
	loading, stop := d.client.Subscribe(d.sctx, cdproto.EventPageFrameStartedLoading)
	defer stop()

	d.stale = true
	if err := fn(ctx); err != nil {
		return err
	}

	return d.waitSettled(ctx, marker, loading)
}

// waitSettled returns once the marked window is replaced by a loaded
// document, or once no navigation started within settleDelay.
func (d *Driver) waitSettled(ctx context.Context, marker string, loading <-chan *cdp.Event) error {
	navigating := false
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loading:
			navigating = true
		default:
		}

		raw, err := d.call(ctx, js.MarkerScript, marker, false)
		switch {
		case err == nil:
			marked := gjson.GetBytes(raw, "marked").Bool()
			ready := gjson.GetBytes(raw, "ready").String()
			if !marked && ready == "complete" {
				return nil
			}
			if marked && !navigating && time.Since(start) > settleDelay {
				return nil
			}
		case ctx.Err() != nil:
			return fmt.Errorf("waiting for the page to load: %w", ctx.Err())
		case errors.Is(err, cdp.ErrClosed):
			return err
		default:
			// The execution context goes away while navigating.
			d.logger.Tracef("chromium:waitSettled", "%v", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for the page to load: %w", ctx.Err())
		}
	}
}

func (d *Driver) checkCurrent(el api.ElementHandle) error {
	if d.doc == nil || d.stale || el.Document().ID() != d.doc.ID() {
		return fmt.Errorf("%w: %s", common.ErrStaleElement, el)
	}
	return nil
}

func (d *Driver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	return cdp.WithSessionID(ctx, cdp.GetSessionID(d.sctx)), cancel
}

// call evaluates script in the page with args and returns the JSON result.
func (d *Driver) call(ctx context.Context, script string, args ...any) ([]byte, error) {
	expr, err := callExpression(script, args...)
	if err != nil {
		return nil, err
	}
	if cdp.GetSessionID(ctx) == "" {
		var cancel context.CancelFunc
		ctx, cancel = d.withTimeout(ctx)
		defer cancel()
	}
	return d.client.Runtime.Evaluate(ctx, expr)
}

func callExpression(script string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding script arguments: %w", err)
	}
	return "(" + strings.TrimSpace(script) + ").apply(null, " + string(b) + ")", nil
}
