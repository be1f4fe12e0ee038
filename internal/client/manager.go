// Package client is the client side of the sync protocol: it owns one
// transport to a session, keeps a mirror of remote entities and reconnects
// with a bounded fixed-delay policy.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectPending
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectPending:
		return "reconnect_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock supplies the current time and delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the client's single connection to a session.
//
// All methods are safe for concurrent use. Handlers run on the goroutine that
// caused the event: the Connect caller, the read loop or the reconnect timer.
type Manager struct {
	cfg    config.ClientConfig
	dialer Dialer
	clock  Clock
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	gen            uint64
	transport      Transport
	attempts       int
	reconnectTimer Timer
	cancelDial     context.CancelFunc
	failedEmitted  bool
	name, mapID    string
	sessionID      string
	mirror         *Mirror
	lastPosition   time.Time
	handlers       []EventHandler
}

// NewManager creates a disconnected manager.
//
// Precondition: cfg must have passed validation; dialer and logger must be non-nil.
func NewManager(cfg config.ClientConfig, dialer Dialer, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		clock:  wallClock{},
		logger: logger,
		mirror: NewMirror(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// On registers h for every subsequent event.
func (m *Manager) On(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	handlers := append([]EventHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, e := range events {
		for _, h := range handlers {
			h(e)
		}
	}
}

// Connect dials the server, joins as name on mapID and waits for the welcome.
//
// Precondition: The manager is Disconnected or ReconnectPending.
// Postcondition: On success the manager is Connected and "connected" has been
// emitted. On failure a *ConnectionError is returned and a reconnect is
// scheduled unless the attempt cap was reached.
func (m *Manager) Connect(ctx context.Context, name, mapID string) error {
	m.mu.Lock()
	if m.state == Connecting || m.state == Connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.stopReconnectLocked()
	m.name, m.mapID = name, mapID
	m.attempts = 0
	m.failedEmitted = false
	gen := m.beginLocked()
	m.mu.Unlock()

	return m.establish(ctx, gen)
}

func (m *Manager) beginLocked() uint64 {
	m.state = Connecting
	m.gen++
	return m.gen
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != ReconnectPending {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	gen = m.beginLocked()
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.String("url", m.cfg.ServerURL))
	_ = m.establish(context.Background(), gen)
}

// establish runs one handshake for generation gen.
func (m *Manager) establish(ctx context.Context, gen uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrCancelled
	}
	m.cancelDial = cancel
	name, mapID := m.name, m.mapID
	m.mu.Unlock()

	t, welcome, err := m.handshake(ctx, name, mapID)

	m.mu.Lock()
	if m.gen == gen {
		m.cancelDial = nil
	}
	if m.gen != gen || m.state != Connecting {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return ErrCancelled
	}
	if err != nil {
		cerr := &ConnectionError{URL: m.cfg.ServerURL, Attempt: m.attempts, Err: err}
		events := m.failLocked(cerr)
		m.mu.Unlock()
		m.logger.Warn("connect failed", zap.Error(cerr))
		m.emit(events...)
		return cerr
	}

	m.transport = t
	m.state = Connected
	m.attempts = 0
	m.failedEmitted = false
	m.sessionID = welcome.SessionID
	events := append([]Event{{Type: EventConnected, SessionID: welcome.SessionID}}, m.mirror.Reset(welcome.SessionID, welcome.State)...)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("session_id", welcome.SessionID), zap.String("url", m.cfg.ServerURL))
	m.emit(events...)
	go m.readLoop(gen, t)
	return nil
}

// handshake dials, sends join and reads until the welcome arrives.
func (m *Manager) handshake(ctx context.Context, name, mapID string) (Transport, protocol.Welcome, error) {
	var welcome protocol.Welcome

	t, err := m.dialer.Dial(ctx, m.cfg.ServerURL)
	if err != nil {
		return nil, welcome, err
	}
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	frame, err := protocol.Encode(protocol.TypeJoin, protocol.JoinRequest{Name: name, MapID: mapID})
	if err == nil {
		err = t.WriteFrame(frame)
	}
	if err != nil {
		_ = t.Close()
		return nil, welcome, fmt.Errorf("sending join: %w", err)
	}

	for {
		frame, err := t.ReadFrame()
		if err != nil {
			_ = t.Close()
			if ctx.Err() != nil {
				return nil, welcome, ctx.Err()
			}
			return nil, welcome, fmt.Errorf("awaiting welcome: %w", err)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeWelcome:
			if err := env.Decode(&welcome); err != nil {
				_ = t.Close()
				return nil, welcome, err
			}
			if !stop() {
				_ = t.Close()
				return nil, welcome, ctx.Err()
			}
			return t, welcome, nil
		case protocol.TypeError:
			var e protocol.Error
			_ = env.Decode(&e)
			_ = t.Close()
			return nil, welcome, &ServerError{Code: e.Code, Message: e.Message}
		}
	}
}

// failLocked applies the bounded reconnect policy after a failure.
func (m *Manager) failLocked(cause error) []Event {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = Disconnected
		if m.failedEmitted {
			return nil
		}
		m.failedEmitted = true
		return []Event{{Type: EventReconnectFailed, Err: cause}}
	}
	m.attempts++
	m.state = ReconnectPending
	gen := m.gen
	m.reconnectTimer = m.clock.AfterFunc(m.cfg.ReconnectDelay, func() { m.reconnect(gen) })
	return nil
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		frame, err := t.ReadFrame()
		if err != nil {
			m.dropped(gen, err)
			return
		}
		m.handleFrame(gen, frame)
	}
}

// dropped handles loss of the live transport.
func (m *Manager) dropped(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.sessionID = ""
	m.mirror.Clear()
	m.gen++
	cerr := &ConnectionError{URL: m.cfg.ServerURL, Attempt: m.attempts, Err: err}
	events := append([]Event{{Type: EventDisconnected, Err: cerr}}, m.failLocked(cerr)...)
	m.mu.Unlock()

	_ = t.Close()
	m.logger.Warn("connection lost", zap.Error(err))
	m.emit(events...)
}

func (m *Manager) handleFrame(gen uint64, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		m.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	events, err := m.applyLocked(env)
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("dropping message", zap.String("type", env.Type), zap.Error(err))
		return
	}
	m.emit(events...)
}

// applyLocked updates the mirror from one server message.
func (m *Manager) applyLocked(env protocol.Envelope) ([]Event, error) {
	one := func(e Event, ok bool) []Event {
		if !ok {
			return nil
		}
		return []Event{e}
	}

	switch env.Type {
	case protocol.TypeState:
		var p state.RoomPatch
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return m.mirror.ApplyPatch(p)
	case protocol.TypeWelcome:
		var w protocol.Welcome
		if err := env.Decode(&w); err != nil {
			return nil, err
		}
		m.sessionID = w.SessionID
		return m.mirror.Reset(w.SessionID, w.State), nil
	case protocol.TypePlayerJoined:
		var pj protocol.PlayerJoined
		if err := env.Decode(&pj); err != nil {
			return nil, err
		}
		pj.Player.ID = pj.SessionID
		return one(m.mirror.UpsertPlayer(pj.Player)), nil
	case protocol.TypePlayerLeft:
		var pl protocol.PlayerLeft
		if err := env.Decode(&pl); err != nil {
			return nil, err
		}
		return one(m.mirror.RemovePlayer(pl.SessionID)), nil
	case protocol.TypePlayerMapChange:
		var pmc protocol.PlayerMapChange
		if err := env.Decode(&pmc); err != nil {
			return nil, err
		}
		events := one(m.mirror.MovePlayer(pmc))
		return append(events, Event{Type: EventPlayerMapChange, SessionID: pmc.SessionID, Payload: pmc}), nil
	case protocol.TypePlayerAttack:
		var pa protocol.PlayerAttack
		if err := env.Decode(&pa); err != nil {
			return nil, err
		}
		return []Event{{Type: EventPlayerAttack, SessionID: pa.SessionID, Payload: pa}}, nil
	case protocol.TypePlayerHit:
		var ph protocol.PlayerHit
		if err := env.Decode(&ph); err != nil {
			return nil, err
		}
		m.mirror.HitPlayer(ph)
		return []Event{{Type: EventPlayerHit, SessionID: ph.SessionID, Payload: ph}}, nil
	case protocol.TypeMonsterDamaged:
		var md protocol.MonsterDamaged
		if err := env.Decode(&md); err != nil {
			return nil, err
		}
		m.mirror.DamageMonster(md)
		return []Event{{Type: EventMonsterDamaged, SessionID: md.AttackerID, Payload: md}}, nil
	case protocol.TypeMonsterDeath:
		var d protocol.MonsterDeath
		if err := env.Decode(&d); err != nil {
			return nil, err
		}
		m.mirror.KillMonster(d.MonsterID)
		return []Event{{Type: EventMonsterDeath, SessionID: d.KillerID, Payload: d}}, nil
	case protocol.TypeMonsterRespawn:
		var r protocol.MonsterRespawn
		if err := env.Decode(&r); err != nil {
			return nil, err
		}
		m.mirror.UpsertMonster(r.Monster)
		return []Event{{Type: EventMonsterRespawn, Payload: r}}, nil
	case protocol.TypeChat:
		var c protocol.Chat
		if err := env.Decode(&c); err != nil {
			return nil, err
		}
		return []Event{{Type: EventChat, SessionID: c.SessionID, Payload: c}}, nil
	case protocol.TypeError:
		var e protocol.Error
		if err := env.Decode(&e); err != nil {
			return nil, err
		}
		return []Event{{Type: EventError, Payload: e, Err: &ServerError{Code: e.Code, Message: e.Message}}}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// Disconnect closes the transport, cancels any pending reconnect and clears
// the mirror. Safe to call in any state and more than once.
//
// Postcondition: The manager is Disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Disconnected && m.transport == nil && m.reconnectTimer == nil {
		m.mu.Unlock()
		return
	}
	wasConnected := m.state == Connected
	m.gen++
	m.stopReconnectLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	t := m.transport
	m.transport = nil
	m.state = Disconnected
	m.sessionID = ""
	m.mirror.Clear()
	m.mu.Unlock()

	if t != nil {
		if frame, err := protocol.Encode(protocol.TypeLeave, nil); err == nil {
			_ = t.WriteFrame(frame)
		}
		_ = t.Close()
	}
	m.logger.Info("disconnected")
	if wasConnected {
		m.emit(Event{Type: EventDisconnected})
	}
}

func (m *Manager) send(msgType string, payload any) error {
	m.mu.Lock()
	t := m.transport
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || t == nil {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := t.WriteFrame(frame); err != nil {
		return fmt.Errorf("sending %s: %w", msgType, err)
	}
	return nil
}

// SendPosition sends the local transform unless one was sent less than
// PositionInterval ago.
//
// Postcondition: Returns false, nil when the call was throttled.
func (m *Manager) SendPosition(mv protocol.Move) (bool, error) {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return false, ErrNotConnected
	}
	now := m.clock.Now()
	if !m.lastPosition.IsZero() && now.Sub(m.lastPosition) < m.cfg.PositionInterval {
		m.mu.Unlock()
		return false, nil
	}
	prev := m.lastPosition
	m.lastPosition = now
	m.mu.Unlock()

	if err := m.send(protocol.TypeMove, mv); err != nil {
		// A failed write does not use up the window.
		m.mu.Lock()
		if m.lastPosition.Equal(now) {
			m.lastPosition = prev
		}
		m.mu.Unlock()
		return false, err
	}
	return true, nil
}

// SendAttack announces a skill use.
func (m *Manager) SendAttack(a protocol.Attack) error {
	return m.send(protocol.TypeAttack, a)
}

// SendMonsterDamage reports damage dealt to a monster.
func (m *Manager) SendMonsterDamage(monsterID string, damage int, critical bool) error {
	return m.send(protocol.TypeDamageMonster, protocol.DamageMonster{MonsterID: monsterID, Damage: damage, IsCritical: critical})
}

// SendPlayerDamaged reports damage the local player took.
func (m *Manager) SendPlayerDamaged(damage, currentHP int) error {
	return m.send(protocol.TypePlayerDamaged, protocol.PlayerDamaged{Damage: damage, CurrentHP: currentHP})
}

// SendChat sends chat text. The server truncates long text.
func (m *Manager) SendChat(text string) error {
	return m.send(protocol.TypeChat, protocol.Chat{Text: text})
}

// SendMapChange moves the local player to another map.
func (m *Manager) SendMapChange(mapID string, x, y float64) error {
	return m.send(protocol.TypeChangeMap, protocol.ChangeMap{MapID: mapID, X: x, Y: y})
}

// SendStatsUpdate overwrites the local player's display stats.
func (m *Manager) SendStatsUpdate(level, maxHP int, job string) error {
	return m.send(protocol.TypeUpdateStats, protocol.UpdateStats{Level: level, MaxHP: maxHP, Job: job})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id assigned by the server, or "" when not connected.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Attempts returns the number of reconnect attempts made since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// RemotePlayers returns copies of every mirrored remote player in id order.
func (m *Manager) RemotePlayers() []state.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirror.Players()
}

// RemotePlayer returns a copy of one mirrored remote player.
func (m *Manager) RemotePlayer(id string) (state.Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirror.Player(id)
}

// Monsters returns copies of every mirrored monster in id order.
func (m *Manager) Monsters() []state.Monster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirror.Monsters()
}
