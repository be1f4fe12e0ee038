// Package ws is the WebSocket frontend: it upgrades HTTP requests, binds each
// connection to a player in a named session and pumps frames both ways.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/gameserver"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

const defaultPingInterval = 30 * time.Second

// SessionSource resolves room names to running sessions.
type SessionSource interface {
	GetOrCreate(name string) (*gameserver.Session, error)
	Count() int
}

// Acceptor serves the WebSocket endpoint and the health check, dispatching
// each connection to the session named by its ?room= query parameter.
type Acceptor struct {
	cfg         config.HTTPConfig
	defaultRoom string
	outboxSize  int
	sessions    SessionSource
	logger      *zap.Logger
	upgrader    websocket.Upgrader

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: httpCfg and sessCfg must have passed validation; sessions and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe or mounted via Handler.
func NewAcceptor(httpCfg config.HTTPConfig, sessCfg config.SessionConfig, sessions SessionSource, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:         httpCfg,
		defaultRoom: sessCfg.DefaultRoom,
		outboxSize:  sessCfg.OutboxSize,
		sessions:    sessions,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: httpCfg.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: httpCfg.HandshakeTimeout,
	}
	return a
}

// Handler returns the routes served by the acceptor: /ws and /health.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", a)
	mux.Handle("/health", HealthHandler(a.sessions.Count))
	return mux
}

// ListenAndServe binds the configured address and serves until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Start runs ListenAndServe so the acceptor can be managed as a lifecycle service.
func (a *Acceptor) Start() error {
	return a.ListenAndServe()
}

// Stop closes the listener, tells every open connection to go away and waits
// for their pumps to exit.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	room := r.URL.Query().Get("room")
	if room == "" {
		room = a.defaultRoom
	}

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxMessageBytes)
	a.handleConn(conn, room)
}

// handleConn performs the join handshake and then pumps frames.
func (a *Acceptor) handleConn(conn *Conn, room string) {
	start := time.Now()
	addr := conn.RemoteAddr()
	logger := a.logger.With(zap.String("remote_addr", addr), zap.String("room", room))

	req, err := a.readJoin(conn)
	if err != nil {
		logger.Debug("join handshake failed", zap.Error(err))
		_ = conn.WriteError(protocol.ErrCodeNotJoined, err.Error())
		conn.CloseWith(websocket.ClosePolicyViolation, "join required")
		return
	}

	session, err := a.sessions.GetOrCreate(room)
	if errors.Is(err, gameserver.ErrUnknownRoom) {
		logger.Info("unknown room requested")
		_ = conn.WriteError(protocol.ErrCodeUnknownRoom, err.Error())
		conn.CloseWith(websocket.ClosePolicyViolation, "unknown room")
		return
	}
	if err != nil {
		logger.Warn("resolving session", zap.Error(err))
		_ = conn.WriteError(protocol.ErrCodeInternal, "session unavailable")
		conn.CloseWith(websocket.CloseTryAgainLater, "session unavailable")
		return
	}

	outbox := gameserver.NewOutbox(uuid.NewString(), a.outboxSize)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HandshakeTimeout)
	player, err := session.Join(ctx, outbox, req)
	cancel()
	if err != nil {
		code := protocol.ErrCodeInternal
		if errors.Is(err, gameserver.ErrSessionFull) {
			code = protocol.ErrCodeSessionFull
		}
		logger.Info("join refused", zap.Error(err))
		_ = conn.WriteError(code, err.Error())
		conn.CloseWith(websocket.CloseTryAgainLater, "join refused")
		return
	}
	logger = logger.With(zap.String("session_id", player.ID))

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		a.writePump(conn, outbox, logger)
	}()

	consented := a.readPump(conn, session, player.ID, logger)
	if !consented {
		session.Leave(player.ID, false)
	}
	<-pumpDone

	logger.Info("connection closed",
		zap.Bool("consented", consented),
		zap.Duration("duration", time.Since(start)),
	)
}

// readJoin waits for the first frame, which must be a join.
func (a *Acceptor) readJoin(conn *Conn) (protocol.JoinRequest, error) {
	var req protocol.JoinRequest
	frame, err := conn.ReadFrameWithin(a.cfg.HandshakeTimeout)
	if err != nil {
		return req, fmt.Errorf("reading join: %w", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		return req, err
	}
	if env.Type != protocol.TypeJoin {
		return req, fmt.Errorf("expected %q, got %q", protocol.TypeJoin, env.Type)
	}
	if len(env.Payload) > 0 {
		if err := env.Decode(&req); err != nil {
			return req, err
		}
	}
	return req, nil
}

// readPump forwards inbound frames to the session until the transport fails
// or the client sends leave.
//
// Postcondition: Returns true when the client left voluntarily.
func (a *Acceptor) readPump(conn *Conn, session *gameserver.Session, sessionID string, logger *zap.Logger) bool {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", zap.Error(err))
			}
			return false
		}
		if env, err := protocol.Decode(frame); err == nil && env.Type == protocol.TypeLeave {
			session.Leave(sessionID, true)
			return true
		}
		if err := session.Deliver(sessionID, frame); err != nil {
			return false
		}
	}
}

// writePump drains the outbox onto the socket and keeps the connection alive
// with pings. It owns closing the socket.
func (a *Acceptor) writePump(conn *Conn, outbox *gameserver.Outbox, logger *zap.Logger) {
	interval := a.cfg.PingInterval()
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-outbox.Frames():
			if !ok {
				conn.CloseWith(websocket.CloseNormalClosure, "")
				return
			}
			if err := conn.WriteFrame(frame); err != nil {
				logger.Debug("write failed", zap.Error(err))
				outbox.Close()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WritePing(); err != nil {
				logger.Debug("ping failed", zap.Error(err))
				outbox.Close()
				_ = conn.Close()
				return
			}
		case <-a.quit:
			outbox.Close()
			conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}
