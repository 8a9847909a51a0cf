package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/1ureka/babymonitor/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventType distinguishes connection lifecycle events.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event reports a connection joining or leaving the server.
type Event struct {
	Type EventType
	Conn *Conn
}

// ServerConfig configures a signaling Server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":554". Use "127.0.0.1:0" in tests.
	Addr string

	// Handlers are mounted on the router next to the WebSocket endpoint,
	// keyed by path (e.g. "/metrics").
	Handlers map[string]http.Handler
}

// Server is the baby-side WebSocket server. It accepts any number of
// concurrent parent connections.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	httpSrv  *http.Server
	events   chan Event

	mu      sync.Mutex
	conns   map[string]*Conn
	started bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a server. Nothing is bound until Start.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:    cfg,
		events: make(chan Event, 16),
		conns:  make(map[string]*Conn),
		done:   make(chan struct{}),
	}
}

// Start binds the listening socket and begins accepting connections. A
// bind failure is returned to the caller; the server is then unusable.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start WS server on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleWS)
	for path, h := range s.cfg.Handlers {
		router.Handle(path, h)
	}
	s.httpSrv = &http.Server{Handler: router}
	s.started = true

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("WS server stopped: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Events returns the connection lifecycle stream. It is closed after Close
// once every pending event has been delivered or abandoned.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Connections returns a snapshot of the open connections.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("WS upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	conn := newConn(ws)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn.ID()] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	util.LogDebug("[%s] parent connected from %s", conn.ID(), conn.RemoteAddr())
	s.emit(Event{Type: EventConnected, Conn: conn})

	go func() {
		defer s.wg.Done()
		select {
		case <-conn.Done():
		case <-s.done:
			conn.Close()
		}

		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()

		util.LogDebug("[%s] parent disconnected", conn.ID())
		s.emit(Event{Type: EventDisconnected, Conn: conn})
	}()
}

func (s *Server) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Close stops accepting connections, closes every open one and finally
// closes the event stream. Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	httpSrv := s.httpSrv
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		// http.Server.Close does not touch hijacked WebSocket conns; the
		// per-conn watchers above close those.
		err = httpSrv.Close()
	}

	s.wg.Wait()
	close(s.events)
	return err
}
