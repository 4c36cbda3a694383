package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub000/internal/agent"
	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/store"
	"github.com/1jehuang/jcode-sub000/internal/timeline"
	"github.com/1jehuang/jcode-sub000/pkg/logger"
)

// Server is the jcoded IPC server: it accepts any number of client
// connections over a single Unix domain socket (named pipe on Windows),
// and fans each session's turn events out to every connection subscribed
// to it. A session only ever runs one turn at a time; a second "message"
// request for a session already mid-turn waits on a per-session mutex
// rather than running concurrently. Each request waits in its own
// goroutine, so requests that are waiting together are not guaranteed to
// run in the order they arrived.
type Server struct {
	listener   net.Listener
	socketPath string

	store  *store.Store
	pool   *llm.Pool
	engine *agent.Engine

	hub *hub

	turnLocksMu sync.Mutex
	turnLocks   map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	onReload func()
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithOnReload sets a callback invoked when a client requests a hot
// reload (the process is expected to re-exec itself after finishing the
// callback).
func WithOnReload(fn func()) ServerOption {
	return func(s *Server) { s.onReload = fn }
}

// NewServer creates a jcoded IPC server backed by st for session
// persistence, pool for provider lookup, and eng for turn execution.
func NewServer(st *store.Store, pool *llm.Pool, eng *agent.Engine, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:     st,
		pool:      pool,
		engine:    eng,
		hub:       newHub(),
		turnLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	socketPath := s.getSocketPath()
	s.socketPath = socketPath

	if runtime.GOOS != "windows" {
		os.Remove(socketPath)
	}

	listener, err := s.listen(socketPath)
	if err != nil {
		return fmt.Errorf("ipc: start server: %w", err)
	}
	s.listener = listener

	if runtime.GOOS != "windows" {
		if err := os.Chmod(socketPath, 0600); err != nil {
			logger.Warnf("ipc: failed to set socket permissions: %v", err)
		}
	}

	logger.Infof("ipc: listening on %s", socketPath)
	go s.acceptLoop()
	return nil
}

// Stop cancels the server context and closes the listener. Connections
// that are already open are not closed here: each one's read loop returns
// once it has handled its next request, or when the client hangs up.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if runtime.GOOS != "windows" && s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	logger.Info().Msg("ipc: server stopped")
	return nil
}

// SocketPath returns the socket path in use.
func (s *Server) SocketPath() string { return s.socketPath }

func (s *Server) getSocketPath() string {
	if runtime.GOOS == "windows" {
		return WindowsPipeName
	}
	return SocketPath
}

func (s *Server) listen(path string) (net.Listener, error) {
	if runtime.GOOS == "windows" {
		return listenPipe(path)
	}
	return net.Listen("unix", path)
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				logger.Warnf("ipc: accept: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

// turnLockFor returns the mutex serializing turns for sessionID.
func (s *Server) turnLockFor(sessionID string) *sync.Mutex {
	s.turnLocksMu.Lock()
	defer s.turnLocksMu.Unlock()
	l, ok := s.turnLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.turnLocks[sessionID] = l
	}
	return l
}

// handleConnection services one client connection: it reads Requests
// until EOF/error, dispatching each to the matching handler, and runs a
// dedicated writer goroutine draining the connection's subscriber queue.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	dec := NewDecoder(conn)
	enc := NewEncoder(conn)

	var encMu sync.Mutex
	writeEvent := func(ev ServerEvent) error {
		encMu.Lock()
		defer encMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return enc.EncodeEvent(&ev)
	}

	sub := &subscriber{id: uuid.New().String(), send: make(chan ServerEvent, subscriberSendBuffer)}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range sub.send {
			if err := writeEvent(ev); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.unsubscribeAll(sub)
		close(sub.send)
		<-writerDone
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		req, err := dec.DecodeRequest()
		if err != nil {
			return
		}

		s.handleRequest(conn, sub, req, writeEvent)
	}
}

func (s *Server) handleRequest(conn net.Conn, sub *subscriber, req *Request, writeEvent func(ServerEvent) error) {
	switch req.Type {
	case ReqPing:
		writeEvent(ServerEvent{Type: EvtPong, ReplyTo: req.ID})

	case ReqSubscribe:
		sub.session = req.SessionID
		s.hub.subscribe(req.SessionID, sub)
		writeEvent(ServerEvent{Type: EvtAck, SessionID: req.SessionID, ReplyTo: req.ID})

	case ReqGetHistory:
		sess, err := s.store.Load(req.SessionID)
		if err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		writeEvent(ServerEvent{Type: EvtHistory, SessionID: req.SessionID, ReplyTo: req.ID, Messages: sess.MessagesForProvider()})

	case ReqState:
		sess, err := s.store.Load(req.SessionID)
		if err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		model := ""
		if sess.Model != nil {
			model = *sess.Model
		}
		writeEvent(ServerEvent{Type: EvtState, SessionID: req.SessionID, ReplyTo: req.ID, Model: model})

	case ReqSetModel, ReqCycleModel:
		sess, err := s.store.Load(req.SessionID)
		if err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		model := req.Model
		if req.Type == ReqCycleModel {
			model = s.nextModel(sess)
		}
		sess.Model = &model
		if err := sess.Save(); err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		writeEvent(ServerEvent{Type: EvtModelChanged, SessionID: req.SessionID, ReplyTo: req.ID, Model: model})

	case ReqTimeline:
		sess, err := s.store.Load(req.SessionID)
		if err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		events := timeline.Since(timeline.Build(sess), req.Since)
		data, err := json.Marshal(events)
		if err != nil {
			writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: err.Error()})
			return
		}
		writeEvent(ServerEvent{Type: EvtTimeline, SessionID: req.SessionID, ReplyTo: req.ID, Timeline: data})

	case ReqResumeSession, ReqClear:
		// Both are no-ops at the ipc layer beyond acking: resume is
		// satisfied by get_history, and clear is a client-side view reset
		// (the on-disk history is never discarded).
		writeEvent(ServerEvent{Type: EvtAck, SessionID: req.SessionID, ReplyTo: req.ID})

	case ReqCancel:
		s.engine.Cancel(req.SessionID)
		writeEvent(ServerEvent{Type: EvtAck, SessionID: req.SessionID, ReplyTo: req.ID})

	case ReqSoftInterrupt:
		s.engine.Interrupt(req.SessionID, agent.Interrupt{Text: req.Text, Urgent: req.Urgent})
		writeEvent(ServerEvent{Type: EvtAck, SessionID: req.SessionID, ReplyTo: req.ID})

	case ReqReload:
		writeEvent(ServerEvent{Type: EvtReloading, SessionID: req.SessionID, ReplyTo: req.ID})
		if s.onReload != nil {
			go s.onReload()
		}

	case ReqMessage:
		go s.runTurn(req)

	default:
		writeEvent(ServerEvent{Type: EvtError, SessionID: req.SessionID, ReplyTo: req.ID, Error: "unknown request type"})
	}
}

// runTurn serializes turn execution per session and fans every emitted
// event out through the hub to whichever connections subscribed.
func (s *Server) runTurn(req *Request) {
	lock := s.turnLockFor(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.Load(req.SessionID)
	if err != nil {
		s.hub.broadcast(req.SessionID, ServerEvent{Type: EvtError, SessionID: req.SessionID, Error: err.Error()})
		return
	}

	model := ""
	if sess.Model != nil {
		model = *sess.Model
	}
	prov, err := s.pool.GetOrDefault(model, "chat")
	if err != nil {
		s.hub.broadcast(req.SessionID, ServerEvent{Type: EvtError, SessionID: req.SessionID, Error: err.Error()})
		return
	}

	events, err := s.engine.RunTurn(s.ctx, req.SessionID, req.Text, prov)
	if err != nil {
		s.hub.broadcast(req.SessionID, ServerEvent{Type: EvtError, SessionID: req.SessionID, Error: err.Error()})
		return
	}

	for ev := range events {
		wire := FromStreamEvent(req.SessionID, ev)
		if wire.Type == "" {
			continue
		}
		s.hub.broadcast(req.SessionID, wire)
	}
}

func (s *Server) nextModel(sess *store.Session) string {
	models := s.pool.Models()
	if len(models) == 0 {
		return ""
	}
	current := ""
	if sess.Model != nil {
		current = *sess.Model
	}
	for i, m := range models {
		if m == current {
			return models[(i+1)%len(models)]
		}
	}
	return models[0]
}
