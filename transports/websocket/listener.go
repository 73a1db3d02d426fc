package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
)

const (
	defaultReadLimit    = 4 << 20
	defaultWriteTimeout = 10 * time.Second
	eventBuffer         = 64
)

// ListenerConfig holds configuration for the listener
type ListenerConfig struct {
	Logger       *slog.Logger
	ReadLimit    int64
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// ListenerOption configures the listener
type ListenerOption func(*ListenerConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ListenerOption {
	return func(c *ListenerConfig) {
		c.Logger = logger
	}
}

// WithReadLimit sets the maximum size of an inbound message in bytes
func WithReadLimit(limit int64) ListenerOption {
	return func(c *ListenerConfig) {
		c.ReadLimit = limit
	}
}

// WithWriteTimeout sets the deadline for writing one frame
func WithWriteTimeout(timeout time.Duration) ListenerOption {
	return func(c *ListenerConfig) {
		c.WriteTimeout = timeout
	}
}

// WithCheckOrigin sets the origin check applied to upgrade requests.
// By default every origin is accepted; plugin sandboxes send a null origin.
func WithCheckOrigin(check func(r *http.Request) bool) ListenerOption {
	return func(c *ListenerConfig) {
		c.CheckOrigin = check
	}
}

// Listener accepts plugin connections over WebSocket on any path
type Listener struct {
	config   *ListenerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	session *session
}

// session is one Listen..Close cycle
type session struct {
	ln     net.Listener
	server *http.Server
	events chan bridge.Event
	done   chan struct{}

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewListener creates a listener
func NewListener(opts ...ListenerOption) *Listener {
	config := &ListenerConfig{
		Logger:       slog.Default(),
		ReadLimit:    defaultReadLimit,
		WriteTimeout: defaultWriteTimeout,
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(config)
	}

	return &Listener{
		config: config,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// Listen binds addr and serves WebSocket upgrades until Close
func (l *Listener) Listen(ctx context.Context, addr string) (<-chan bridge.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		return nil, fmt.Errorf("listener already serving on %s", l.session.ln.Addr())
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &contracts.TransportFatalError{Addr: addr, Err: err}
	}

	s := &session{
		ln:     ln,
		events: make(chan bridge.Event, eventBuffer),
		done:   make(chan struct{}),
		conns:  make(map[*Conn]struct{}),
	}
	s.server = &http.Server{
		Handler:           l.handler(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.session = s

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()

	l.logger.Debug("websocket listener bound", "addr", ln.Addr().String())
	return s.events, nil
}

// Addr returns the bound address, or "" when not listening
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return ""
	}
	return l.session.ln.Addr().String()
}

// Close stops the server and closes every accepted connection. The events
// channel is closed once all connection readers have exited.
func (l *Listener) Close() error {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.mu.Unlock()

	if s == nil {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.done)
	err := s.server.Close()
	for _, c := range conns {
		_ = c.Close()
	}

	s.wg.Wait()
	close(s.events)

	if err != nil {
		return fmt.Errorf("failed to close websocket server: %w", err)
	}
	return nil
}

func (l *Listener) handler(s *session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error
			l.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		conn := newConn(ws, "ws-"+uuid.NewString()[:8], l.config.WriteTimeout)
		ws.SetReadLimit(l.config.ReadLimit)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		l.logger.Debug("websocket connection accepted", "peer", conn.ID(), "remote", r.RemoteAddr)
		go l.readLoop(s, conn)
	})
}

// readLoop publishes Connected, then one Frame per message, then Disconnected
func (l *Listener) readLoop(s *session, conn *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.emit(bridge.Event{Kind: bridge.EventConnected, Peer: conn})

	var readErr error
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		s.emit(bridge.Event{Kind: bridge.EventFrame, Peer: conn, Data: data})
	}

	locallyClosed := !conn.IsOpen()
	conn.markClosed()
	_ = conn.ws.Close()

	var disconnectErr error
	if !locallyClosed && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		disconnectErr = readErr
	}
	s.emit(bridge.Event{Kind: bridge.EventDisconnected, Peer: conn, Err: disconnectErr})
}

// emit delivers an event unless the session is shutting down
func (s *session) emit(ev bridge.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
