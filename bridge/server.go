package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oxtoacart/bpool"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/browserprocess"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/storage"
)

// Opener starts the driver a bridge session forwards to.
type Opener func(ctx context.Context, target string) (api.Driver, error)

// Server hosts one driver per websocket connection.
type Server struct {
	open     Opener
	logger   *log.Logger
	tmpDir   string
	upgrader websocket.Upgrader
	pool     *bpool.BufferPool

	mu       sync.Mutex
	sessions map[string]*serverSession
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// TmpDir holds the per session upload directories, the system default
	// when empty.
	TmpDir string
	Logger *log.Logger
}

// NewServer returns a Server opening drivers with open.
func NewServer(open Opener, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	return &Server{
		open:     open,
		logger:   opts.Logger,
		tmpDir:   opts.TmpDir,
		pool:     bpool.NewBufferPool(16),
		sessions: make(map[string]*serverSession),
	}
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ServeHTTP upgrades the request to a websocket and serves commands until
// the connection goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("bridge:ServeHTTP", "upgrading connection: %v", err)
		return
	}

	id := uuid.NewString()
	ss := &serverSession{
		id:     id,
		conn:   conn,
		server: s,
		logger: s.logger,
	}
	if err := ss.uploads.Make(s.tmpDir, ""); err != nil {
		s.logger.Errorf("bridge:ServeHTTP", "session:%s %v", id, err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.sessions[id] = ss
	s.mu.Unlock()
	s.logger.Infof("bridge:ServeHTTP", "session:%s connected from %s", id, r.RemoteAddr)

	ctx, cancel := context.WithCancel(browserprocess.WithSessionID(r.Context(), id))
	defer func() {
		ss.shutdown(ctx)
		cancel()

		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.logger.Infof("bridge:ServeHTTP", "session:%s disconnected", id)
	}()

	ss.serve(ctx)
}

// serverSession is the state of one connection.
type serverSession struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	logger  *log.Logger
	uploads storage.Dir

	driver api.Driver
	doc    api.Document
	closed bool
}

func (ss *serverSession) serve(ctx context.Context) {
	for {
		_, message, err := ss.conn.ReadMessage()
		if websocket.IsCloseError(err,
			websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
		) {
			return
		}
		if err != nil {
			ss.logger.Debugf("bridge:serve", "session:%s reading websocket message: %v", ss.id, err)
			return
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			ss.logger.Warnf("bridge:serve", "session:%s unmarshaling command: %v", ss.id, err)
			continue
		}
		ss.logger.Debugf("bridge:serve", "session:%s id:%d command:%s", ss.id, req.ID, req.Command)

		rep := reply{ID: req.ID}
		data, err := ss.handle(ctx, req)
		if err != nil {
			rep.Error = toRemoteError(err)
		} else if data != nil {
			if rep.Data, err = json.Marshal(data); err != nil {
				rep.Error = toRemoteError(err)
			}
		}
		if err := ss.send(rep); err != nil {
			ss.logger.Debugf("bridge:serve", "session:%s %v", ss.id, err)
			return
		}
		if ss.closed {
			return
		}
	}
}

func (ss *serverSession) send(rep reply) error {
	buf := ss.server.pool.Get()
	defer ss.server.pool.Put(buf)

	if err := json.NewEncoder(buf).Encode(rep); err != nil {
		return fmt.Errorf("marshaling reply: %w", err)
	}
	if err := ss.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (ss *serverSession) handle(ctx context.Context, req request) (any, error) {
	if req.Command == cmdStart {
		return ss.start(ctx, req.Data)
	}
	if ss.driver == nil {
		return nil, &RemoteError{Code: codeBadRequest, Message: fmt.Sprintf("%s before start", req.Command)}
	}

	switch req.Command {
	case cmdVisit:
		var data visitData
		if err := decode(req.Data, &data); err != nil {
			return nil, err
		}
		return nil, ss.driver.Visit(ctx, data.Path)
	case cmdDocument:
		return ss.document(ctx)
	case cmdCurrentURL:
		u, err := ss.driver.CurrentURL(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": u}, nil
	case cmdFind:
		return ss.find(ctx, req.Data)
	case cmdSetValue, cmdSetChecked, cmdSetSelected, cmdAttachFile, cmdClick:
		return nil, ss.elementAction(ctx, req.Command, req.Data)
	case cmdSubmit:
		var data submitData
		if err := decode(req.Data, &data); err != nil {
			return nil, err
		}
		form, err := ss.element(data.Form)
		if err != nil {
			return nil, err
		}
		var button api.ElementHandle
		if data.Button != nil {
			if button, err = ss.element(data.Button); err != nil {
				return nil, err
			}
		}
		return nil, ss.driver.Submit(ctx, form, button)
	case cmdClose:
		ss.closed = true
		return nil, nil
	}

	return nil, &RemoteError{Code: codeBadRequest, Message: fmt.Sprintf("unknown command %q", req.Command)}
}

func (ss *serverSession) start(ctx context.Context, raw json.RawMessage) (any, error) {
	if ss.driver != nil {
		return nil, &RemoteError{Code: codeBadRequest, Message: "session already started"}
	}
	var data startData
	if err := decode(raw, &data); err != nil {
		return nil, err
	}
	drv, err := ss.server.open(ctx, data.Target)
	if err != nil {
		return nil, err
	}
	ss.driver = drv
	ss.logger.Debugf("bridge:start", "session:%s target:%q", ss.id, data.Target)

	return map[string]string{"session": ss.id}, nil
}

func (ss *serverSession) document(ctx context.Context) (any, error) {
	doc, err := ss.driver.Document(ctx)
	if err != nil {
		return nil, err
	}
	ss.doc = doc

	data := documentData{ID: doc.ID(), URL: doc.URL(), HTML: doc.Body()}
	if sc, ok := ss.driver.(interface{ StatusCode() int }); ok {
		data.Status = sc.StatusCode()
	}
	return data, nil
}

func (ss *serverSession) find(ctx context.Context, raw json.RawMessage) (any, error) {
	var data findData
	if err := decode(raw, &data); err != nil {
		return nil, err
	}
	var scope api.ElementHandle
	if data.Scope != nil {
		var err error
		if scope, err = ss.element(&elementRef{Doc: data.Doc, Path: data.Scope}); err != nil {
			return nil, err
		}
	} else if ss.doc == nil || ss.doc.ID() != data.Doc {
		return nil, fmt.Errorf("%w: document %d", common.ErrStaleElement, data.Doc)
	}

	els, err := ss.driver.Find(ctx, scope, data.Selector)
	if err != nil {
		return nil, err
	}
	paths := make([][]int, 0, len(els))
	for _, el := range els {
		paths = append(paths, el.Path())
	}
	return map[string][][]int{"paths": paths}, nil
}

func (ss *serverSession) elementAction(ctx context.Context, command string, raw json.RawMessage) error {
	var data elementData
	if err := decode(raw, &data); err != nil {
		return err
	}
	el, err := ss.element(data.El)
	if err != nil {
		return err
	}

	switch command {
	case cmdSetValue:
		return ss.driver.SetValue(ctx, el, data.Value)
	case cmdSetChecked:
		return ss.driver.SetChecked(ctx, el, data.Checked)
	case cmdSetSelected:
		return ss.driver.SetSelected(ctx, el, data.Selected)
	case cmdAttachFile:
		path, err := ss.store(data.Name, data.Content)
		if err != nil {
			return err
		}
		return ss.driver.AttachFile(ctx, el, path)
	default:
		return ss.driver.Click(ctx, el)
	}
}

// element resolves ref against the document last sent to the client.
func (ss *serverSession) element(ref *elementRef) (api.ElementHandle, error) {
	if ref == nil {
		return nil, &RemoteError{Code: codeBadRequest, Message: "missing element"}
	}
	if ss.doc == nil || ss.doc.ID() != ref.Doc {
		return nil, fmt.Errorf("%w: document %d", common.ErrStaleElement, ref.Doc)
	}
	return ss.doc.ElementAt(ref.Path)
}

// store writes an uploaded file into the session directory, keeping its
// base name.
func (ss *serverSession) store(name string, content []byte) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", &RemoteError{Code: codeBadRequest, Message: "missing file name"}
	}
	dir, err := os.MkdirTemp(ss.uploads.Dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("storing %q: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("storing %q: %w", name, err)
	}
	ss.logger.Debugf("bridge:store", "session:%s path:%q size:%d", ss.id, path, len(content))

	return path, nil
}

// shutdown closes the driver and kills what it left behind.
func (ss *serverSession) shutdown(ctx context.Context) {
	if ss.driver != nil {
		if err := ss.driver.Close(); err != nil {
			ss.logger.Warnf("bridge:shutdown", "session:%s closing driver: %v", ss.id, err)
		}
	}
	browserprocess.ForceProcessShutdown(ctx)
	if err := ss.uploads.Cleanup(); err != nil {
		ss.logger.Warnf("bridge:shutdown", "session:%s %v", ss.id, err)
	}
	_ = ss.conn.Close()
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &RemoteError{Code: codeBadRequest, Message: "missing command data"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RemoteError{Code: codeBadRequest, Message: err.Error()}
	}
	return nil
}
