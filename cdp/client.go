// Package cdp speaks the Chrome DevTools Protocol over a websocket.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/grafana/webcat/cdp/domains"
	"github.com/grafana/webcat/log"
)

const wsWriteBufferSize = 1 << 20

// ErrClosed is returned for commands sent after the connection went away.
var ErrClosed = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser.
type Client struct {
	ctx    context.Context
	logger *log.Logger

	Browser domains.Browser
	DOM     domains.DOM
	Page    domains.Page
	Runtime domains.Runtime
	Target  domains.Target

	wsURL  string
	conn   *websocket.Conn
	msgID  int64
	sendCh chan *cdproto.Message

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	watcher   *eventWatcher
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	c := &Client{
		ctx:     ctx,
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // Buffered to avoid blocking in Execute
		pending: make(map[int64]chan *cdproto.Message),
		watcher: newEventWatcher(),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.DOM = domains.NewDOM(c)
	c.Page = domains.NewPage(c)
	c.Runtime = domains.NewRuntime(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(wsURL string) error {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	wsd := websocket.Dialer{
		HandshakeTimeout: 60 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}
	conn, _, err := wsd.DialContext(c.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %q: %w", wsURL, err)
	}
	c.logger.Debugf("cdp:Connect", "established CDP connection to %q", wsURL)
	c.conn = conn
	c.wsURL = wsURL

	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Disconnect closes the connection to the browser.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.shutdown(ErrClosed)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("sending websocket close message: %w", err)
	}
	return nil
}

// Done is closed when the connection goes away.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection went away.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Subscribe returns a channel notified of the given events of the session
// saved in ctx, and a function that unsubscribes and closes the channel.
func (c *Client) Subscribe(ctx context.Context, events ...cdproto.MethodType) (<-chan *Event, func()) {
	return c.watcher.subscribe(GetSessionID(ctx), events...)
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive. The session ID saved in ctx routes the command to its target;
// without one the command goes to the browser.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	id := atomic.AddInt64(&c.msgID, 1)
	c.logger.Debugf("cdp:Execute", "id:%d sid:%q method:%q", id, GetSessionID(ctx), method)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:        id,
		SessionID: target.SessionID(GetSessionID(ctx)),
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = recvCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return c.closedErr(method)
	case <-ctx.Done():
		return fmt.Errorf("sending %s: %w", method, ctx.Err())
	}

	select {
	case reply := <-recvCh:
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", method, reply.Error)
		}
		if res != nil {
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return c.closedErr(method)
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", method, ctx.Err())
	}
}

func (c *Client) closedErr(method string) error {
	return fmt.Errorf("%s: %w", method, c.Err())
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		c.watcher.close()
	})
}

func (c *Client) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("cdp:recv", "wsURL:%q err:%v", c.wsURL, err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		c.logger.Tracef("cdp:recv", "<- %s", buf)

		var msg cdproto.Message
		decoder := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&decoder)
		if err := decoder.Error(); err != nil {
			c.logger.Errorf("cdp:recv", "decoding CDP message: %v", err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- &msg
			}
		case msg.Method != "":
			ev, err := cdproto.UnmarshalMessage(&msg)
			if err != nil {
				c.logger.Debugf("cdp:recv", "ignoring event %s: %v", msg.Method, err)
				continue
			}
			if !c.watcher.notify(&Event{Name: msg.Method, Data: ev, sessionID: msg.SessionID}) {
				c.logger.Warnf("cdp:recv", "subscriber too slow, dropped %s", msg.Method)
			}
		default:
			c.logger.Errorf("cdp:recv", "ignoring malformed incoming CDP message (missing id or method): %s", buf)
		}
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			var encoder jwriter.Writer
			msg.MarshalEasyJSON(&encoder)
			buf, err := encoder.BuildBytes()
			if err != nil {
				c.failPending(msg.ID, fmt.Errorf("encoding %s: %w", msg.Method, err))
				continue
			}
			c.logger.Tracef("cdp:send", "-> %s", buf)
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, c.ctx.Err()))
			return
		}
	}
}

// failPending answers the command id with err.
func (c *Client) failPending(id int64, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	c.pendingMu.Unlock()
	if ok {
		ch <- &cdproto.Message{ID: id, Error: &cdproto.Error{Message: err.Error()}}
	}
}
