package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/log"
)

// Ensure Driver implements the api.Driver interface.
var _ api.Driver = &Driver{}

const defaultTimeout = 30 * time.Second

// Options configures a bridge Driver.
type Options struct {
	// Target is the application URL the remote driver opens.
	Target  string
	Timeout time.Duration
	Logger  *log.Logger
}

// Driver forwards driver operations to a bridge server and mirrors the
// remote document locally.
type Driver struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *log.Logger

	mu     sync.Mutex
	lastID int64

	doc      *common.Document
	remoteID uint64
	status   int
	stale    bool
	closed   bool
}

// Dial connects to the bridge server at serverURL and starts a remote
// driver for opts.Target.
func Dial(ctx context.Context, serverURL string, opts Options) (*Driver, error) {
	if serverURL == "" {
		return nil, errors.New("bridge: no server URL, set WEBCAT_BRIDGE_URL")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("bridge: parsing websocket server URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dialing server: %w", err)
	}

	d := &Driver{
		conn:    conn,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		stale:   true,
	}
	if _, err := d.call(ctx, cmdStart, startData{Target: opts.Target}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return d, nil
}

// Visit navigates the remote driver to path.
func (d *Driver) Visit(ctx context.Context, path string) error {
	d.stale = true
	_, err := d.call(ctx, cmdVisit, visitData{Path: path})
	return err
}

// Document returns the mirror of the remote document, fetching it again
// after any action.
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
	raw, err := d.call(ctx, cmdDocument, nil)
	if err != nil {
		return nil, err
	}
	var data documentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("bridge: decoding document: %w", err)
	}
	doc, err := common.NewDocument(data.URL, data.HTML)
	if err != nil {
		return nil, err
	}
	d.logger.Debugf("bridge:snapshot", "url:%q remote:%d doc:%d", data.URL, data.ID, doc.ID())
	d.doc, d.remoteID, d.status, d.stale = doc, data.ID, data.Status, false

	return doc, nil
}

// StatusCode returns the HTTP status of the last fetched document when the
// remote driver reports one.
func (d *Driver) StatusCode() int {
	return d.status
}

// CurrentURL returns the URL of the remote document.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	raw, err := d.call(ctx, cmdCurrentURL, nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(raw, "url").String(), nil
}

// Find runs a CSS query on the remote document below scope.
func (d *Driver) Find(ctx context.Context, scope api.ElementHandle, selector string) ([]api.ElementHandle, error) {
	doc, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	req := findData{Doc: d.remoteID, Selector: selector}
	if scope != nil {
		ref, err := d.ref(scope)
		if err != nil {
			return nil, err
		}
		req.Scope = ref.Path
	}

	raw, err := d.call(ctx, cmdFind, req)
	if err != nil {
		return nil, err
	}
	var paths [][]int
	if err := json.Unmarshal([]byte(gjson.GetBytes(raw, "paths").Raw), &paths); err != nil {
		return nil, fmt.Errorf("bridge: decoding element paths: %w", err)
	}
	els := make([]api.ElementHandle, 0, len(paths))
	for _, p := range paths {
		el, err := doc.ElementAt(p)
		if err != nil {
			return nil, err
		}
		els = append(els, el)
	}

	return els, nil
}

// SetValue sets the value of a text-like input or a textarea.
func (d *Driver) SetValue(ctx context.Context, el api.ElementHandle, value string) error {
	return d.elementCall(ctx, cmdSetValue, el, elementData{Value: value})
}

// SetChecked checks or unchecks a checkbox or radio button.
func (d *Driver) SetChecked(ctx context.Context, el api.ElementHandle, checked bool) error {
	return d.elementCall(ctx, cmdSetChecked, el, elementData{Checked: checked})
}

// SetSelected selects or deselects an option.
func (d *Driver) SetSelected(ctx context.Context, option api.ElementHandle, selected bool) error {
	return d.elementCall(ctx, cmdSetSelected, option, elementData{Selected: selected})
}

// AttachFile uploads the file at path to the server and attaches the copy.
func (d *Driver) AttachFile(ctx context.Context, el api.ElementHandle, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}
	return d.elementCall(ctx, cmdAttachFile, el, elementData{
		Name:    filepath.Base(path),
		Content: content,
	})
}

// Click clicks el.
func (d *Driver) Click(ctx context.Context, el api.ElementHandle) error {
	return d.elementCall(ctx, cmdClick, el, elementData{})
}

// Submit submits form, through button when it is not nil.
func (d *Driver) Submit(ctx context.Context, form, button api.ElementHandle) error {
	var (
		data submitData
		err  error
	)
	if data.Form, err = d.ref(form); err != nil {
		return err
	}
	if button != nil {
		if data.Button, err = d.ref(button); err != nil {
			return err
		}
	}
	d.stale = true
	_, err = d.call(ctx, cmdSubmit, data)
	return err
}

// Close closes the remote driver and the connection.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.call(ctx, cmdClose, nil)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if cerr := d.conn.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("bridge: closing websocket connection: %w", cerr)
	}
	return err
}

func (d *Driver) elementCall(ctx context.Context, command string, el api.ElementHandle, data elementData) error {
	ref, err := d.ref(el)
	if err != nil {
		return err
	}
	data.El = ref
	d.stale = true
	_, err = d.call(ctx, command, data)
	return err
}

// ref translates a handle of the local mirror to its remote address.
func (d *Driver) ref(el api.ElementHandle) (*elementRef, error) {
	if el == nil {
		return nil, fmt.Errorf("%w: nil element", common.ErrNotAFormControl)
	}
	if d.doc == nil || d.stale || el.Document().ID() != d.doc.ID() {
		return nil, fmt.Errorf("%w: %s", common.ErrStaleElement, el)
	}
	return &elementRef{Doc: d.remoteID, Path: el.Path()}, nil
}

// call sends command and waits for its reply. Calls are serialized.
func (d *Driver) call(ctx context.Context, command string, data any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("bridge: driver is closed")
	}

	d.lastID++
	req := request{ID: d.lastID, Command: command}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("bridge: marshaling %s: %w", command, err)
		}
		req.Data = b
	}
	d.logger.Debugf("bridge:call", "id:%d command:%s", req.ID, command)

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = d.conn.SetWriteDeadline(deadline)
	_ = d.conn.SetReadDeadline(deadline)

	if err := d.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("bridge: sending %s: %w", command, err)
	}
	for {
		var rep reply
		if err := d.conn.ReadJSON(&rep); err != nil {
			return nil, fmt.Errorf("bridge: reading reply to %s: %w", command, err)
		}
		if rep.ID != req.ID {
			d.logger.Warnf("bridge:call", "dropping reply id:%d waiting for id:%d", rep.ID, req.ID)
			continue
		}
		if rep.Error != nil {
			return nil, rep.Error
		}
		return rep.Data, nil
	}
}
