// Package gameserver implements the authoritative session: canonical shared
// state, inbound message handling, fixed-rate delta broadcast and the timers
// that remove and respawn monsters.
package gameserver

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/monster"
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

var (
	// ErrNotJoined is returned for messages from a session id with no player.
	ErrNotJoined = errors.New("not joined")
	// ErrSessionClosed is returned after the room or session has shut down.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionFull is returned when a join would exceed the player cap.
	ErrSessionFull = errors.New("session full")
	// ErrUnknownMessage is returned for message types the room does not handle.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrBadPayload is returned for payloads that fail decoding or validation.
	ErrBadPayload = errors.New("bad payload")
)

const maxNameLength = 32

// member binds a joined player to its transport.
type member struct {
	sessionID string
	conn      Conn
}

// Room is the single-threaded core of a session. It owns the canonical state
// and every connection bound to it.
//
// Concurrency: a Room is not safe for concurrent use. Session serializes all
// calls, including timer callbacks, onto one goroutine.
type Room struct {
	name   string
	cfg    config.SessionConfig
	world  *state.Room
	sent   *state.Room
	sched  Scheduler
	logger *zap.Logger
	rng    func(n int) int
	newID  func() string

	members map[string]*member // session id -> member
	byConn  map[string]string  // transport id -> session id
	spawns  map[string]monster.Spawn
	catalog *monster.Catalog
	timers  map[string]Timer

	chat   *ChatHandler
	combat *CombatHandler
	closed bool
}

// RoomOption customizes a Room.
type RoomOption func(*Room)

// WithCatalog seeds the room with the catalog's spawns and enables respawn.
func WithCatalog(c *monster.Catalog) RoomOption {
	return func(r *Room) { r.catalog = c }
}

// WithIDGenerator replaces the uuid session id generator.
func WithIDGenerator(fn func() string) RoomOption {
	return func(r *Room) { r.newID = fn }
}

// WithRand replaces the random source used for fallback player names.
// fn(n) must return a value in [0, n).
func WithRand(fn func(n int) int) RoomOption {
	return func(r *Room) { r.rng = fn }
}

// NewRoom creates a room using cfg for defaults and sched for all delayed work.
//
// Precondition: sched and logger must be non-nil; cfg must have passed validation.
// Postcondition: Catalog spawns, when configured, are present in the canonical state.
func NewRoom(name string, cfg config.SessionConfig, sched Scheduler, logger *zap.Logger, opts ...RoomOption) (*Room, error) {
	world := state.NewRoom(cfg.DefaultMap)
	r := &Room{
		name:    name,
		cfg:     cfg,
		world:   world,
		sched:   sched,
		logger:  logger.With(zap.String("room", name)),
		rng:     rand.IntN,
		newID:   uuid.NewString,
		members: make(map[string]*member),
		byConn:  make(map[string]string),
		spawns:  make(map[string]monster.Spawn),
		timers:  make(map[string]Timer),
		chat:    NewChatHandler(cfg.ChatMaxLength),
		combat:  NewCombatHandler(world),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog != nil {
		for _, sp := range r.catalog.Spawns {
			m, err := r.catalog.NewMonster(sp)
			if err != nil {
				return nil, fmt.Errorf("seeding room %s: %w", name, err)
			}
			r.spawns[sp.ID] = sp
			r.world.Monsters[m.ID] = m
		}
	}
	r.sent = r.world.Clone()
	return r, nil
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// World exposes the canonical state for read-only inspection.
func (r *Room) World() *state.Room {
	return r.world
}

// PlayerCount returns the number of joined players.
func (r *Room) PlayerCount() int {
	return len(r.world.Players)
}

// SessionFor returns the session id bound to the transport connection connID.
func (r *Room) SessionFor(connID string) (string, bool) {
	id, ok := r.byConn[connID]
	return id, ok
}

// Join creates a player for conn, sends it a welcome snapshot and announces it
// to everyone else. Joining again over the same connection returns the
// existing player unchanged.
//
// Precondition: conn must be non-nil.
// Postcondition: Exactly one player exists for conn, or an error is returned.
func (r *Room) Join(conn Conn, req protocol.JoinRequest) (*state.Player, error) {
	if r.closed {
		return nil, ErrSessionClosed
	}
	if id, ok := r.byConn[conn.ID()]; ok {
		return r.world.Players[id], nil
	}
	if len(r.world.Players) >= r.cfg.MaxPlayers {
		return nil, ErrSessionFull
	}

	id := r.newID()
	if _, taken := r.world.Players[id]; taken {
		return nil, fmt.Errorf("session id %s already in use", id)
	}
	p := &state.Player{
		ID:          id,
		Name:        r.displayName(req.Name),
		X:           r.cfg.SpawnX,
		Y:           r.cfg.SpawnY,
		State:       state.PlayerIdle,
		FacingRight: true,
		Level:       1,
		CurrentHP:   100,
		MaxHP:       100,
		Job:         "Beginner",
		MapID:       req.MapID,
	}
	if p.MapID == "" {
		p.MapID = r.world.MapID
	}

	r.world.Players[id] = p
	r.members[id] = &member{sessionID: id, conn: conn}
	r.byConn[conn.ID()] = id

	r.sendTo(id, protocol.TypeWelcome, protocol.Welcome{SessionID: id, State: r.world.Clone()})
	if _, ok := r.members[id]; !ok {
		return nil, fmt.Errorf("session %s dropped before welcome: %w", id, ErrSessionClosed)
	}
	r.broadcast(protocol.TypePlayerJoined, protocol.PlayerJoined{SessionID: id, Player: *p}, id)

	r.logger.Info("player joined",
		zap.String("session_id", id),
		zap.String("name", p.Name),
		zap.String("map_id", p.MapID),
		zap.Int("players", len(r.world.Players)),
	)
	return p, nil
}

func (r *Room) displayName(name string) string {
	name = truncateRunes(name, maxNameLength)
	if name == "" {
		return fmt.Sprintf("Player%d", r.rng(1000))
	}
	return name
}

// Leave removes the player for sessionID and announces the departure. Both a
// consented leave and a transport drop remove the record.
//
// Postcondition: Returns false when no such player exists.
func (r *Room) Leave(sessionID string, consented bool) bool {
	m, ok := r.members[sessionID]
	if !ok {
		return false
	}
	delete(r.members, sessionID)
	delete(r.byConn, m.conn.ID())
	delete(r.world.Players, sessionID)
	m.conn.Close()

	r.broadcast(protocol.TypePlayerLeft, protocol.PlayerLeft{SessionID: sessionID, Consented: consented}, sessionID)
	r.logger.Info("player left",
		zap.String("session_id", sessionID),
		zap.Bool("consented", consented),
		zap.Int("players", len(r.world.Players)),
	)
	return true
}

// HandleFrame decodes a raw frame from sessionID and dispatches it.
func (r *Room) HandleFrame(sessionID string, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBadPayload, err)
		r.reject(sessionID, protocol.ErrCodeBadMessage, err)
		return err
	}
	return r.HandleMessage(sessionID, env)
}

// HandleMessage applies one inbound message from sessionID. Invalid messages
// are dropped and answered with an error message to the sender only; the
// connection stays open.
//
// Postcondition: Canonical state is unchanged when an error is returned.
func (r *Room) HandleMessage(sessionID string, env protocol.Envelope) error {
	if r.closed {
		return ErrSessionClosed
	}
	p, ok := r.world.Players[sessionID]
	if !ok {
		return ErrNotJoined
	}

	var err error
	switch env.Type {
	case protocol.TypeMove:
		err = r.handleMove(p, env)
	case protocol.TypeAttack:
		err = r.handleAttack(p, env)
	case protocol.TypeDamageMonster:
		err = r.handleDamageMonster(p, env)
	case protocol.TypePlayerDamaged:
		err = r.handlePlayerDamaged(p, env)
	case protocol.TypeChat:
		err = r.handleChat(p, env)
	case protocol.TypeChangeMap:
		err = r.handleChangeMap(p, env)
	case protocol.TypeUpdateStats:
		err = r.handleUpdateStats(p, env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	if err != nil {
		r.reject(sessionID, protocol.ErrCodeBadMessage, err)
		r.logger.Debug("message rejected",
			zap.String("session_id", sessionID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
	}
	return err
}

func decodePayload(env protocol.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func (r *Room) handleMove(p *state.Player, env protocol.Envelope) error {
	var mv protocol.Move
	if err := decodePayload(env, &mv); err != nil {
		return err
	}
	if !protocol.Finite(mv.X, mv.Y, mv.VelocityX, mv.VelocityY) {
		return fmt.Errorf("%w: non-finite coordinates", ErrBadPayload)
	}
	if mv.State != "" && !mv.State.Valid() {
		return fmt.Errorf("%w: unknown player state %q", ErrBadPayload, mv.State)
	}

	p.X, p.Y = mv.X, mv.Y
	p.VelocityX, p.VelocityY = mv.VelocityX, mv.VelocityY
	if mv.State != "" {
		p.State = mv.State
	}
	p.FacingRight = mv.FacingRight
	p.Animation = mv.Animation
	p.IsAttacking = mv.IsAttacking
	p.ActiveSkill = mv.ActiveSkill
	return nil
}

func (r *Room) handleAttack(p *state.Player, env protocol.Envelope) error {
	var a protocol.Attack
	if err := decodePayload(env, &a); err != nil {
		return err
	}
	if !protocol.Finite(a.X, a.Y) {
		return fmt.Errorf("%w: non-finite coordinates", ErrBadPayload)
	}
	r.broadcast(protocol.TypePlayerAttack, r.combat.Attack(p, a), p.ID)
	return nil
}

func (r *Room) handleDamageMonster(p *state.Player, env protocol.Envelope) error {
	var d protocol.DamageMonster
	if err := decodePayload(env, &d); err != nil {
		return err
	}
	if d.Damage < 0 {
		return fmt.Errorf("%w: negative damage %d", ErrBadPayload, d.Damage)
	}

	res, ok := r.combat.DamageMonster(p.ID, d)
	if !ok {
		return nil
	}
	r.broadcast(protocol.TypeMonsterDamaged, res.Damaged, "")
	if res.Killed {
		r.broadcast(protocol.TypeMonsterDeath, protocol.MonsterDeath{MonsterID: d.MonsterID, KillerID: p.ID}, "")
		r.scheduleRemoval(d.MonsterID)
	}
	return nil
}

func (r *Room) handlePlayerDamaged(p *state.Player, env protocol.Envelope) error {
	var d protocol.PlayerDamaged
	if err := decodePayload(env, &d); err != nil {
		return err
	}
	if d.Damage < 0 {
		return fmt.Errorf("%w: negative damage %d", ErrBadPayload, d.Damage)
	}
	r.broadcast(protocol.TypePlayerHit, r.combat.PlayerDamaged(p, d), p.ID)
	return nil
}

func (r *Room) handleChat(p *state.Player, env protocol.Envelope) error {
	var c protocol.Chat
	if err := decodePayload(env, &c); err != nil {
		return err
	}
	r.broadcast(protocol.TypeChat, r.chat.Say(p, c.Text), "")
	return nil
}

func (r *Room) handleChangeMap(p *state.Player, env protocol.Envelope) error {
	var cm protocol.ChangeMap
	if err := decodePayload(env, &cm); err != nil {
		return err
	}
	if cm.MapID == "" {
		return fmt.Errorf("%w: empty map id", ErrBadPayload)
	}
	if !protocol.Finite(cm.X, cm.Y) {
		return fmt.Errorf("%w: non-finite coordinates", ErrBadPayload)
	}
	p.MapID, p.X, p.Y = cm.MapID, cm.X, cm.Y
	r.broadcast(protocol.TypePlayerMapChange, protocol.PlayerMapChange{
		SessionID: p.ID,
		MapID:     cm.MapID,
		X:         cm.X,
		Y:         cm.Y,
	}, "")
	return nil
}

func (r *Room) handleUpdateStats(p *state.Player, env protocol.Envelope) error {
	var us protocol.UpdateStats
	if err := decodePayload(env, &us); err != nil {
		return err
	}
	if us.Level < 0 || us.MaxHP < 0 {
		return fmt.Errorf("%w: negative stats", ErrBadPayload)
	}
	p.Level, p.MaxHP, p.Job = us.Level, us.MaxHP, us.Job
	return nil
}

// SpawnMonster adds m to canonical state, replacing any monster with the same id.
// The next tick replicates it.
//
// Precondition: m must be non-nil with a non-empty ID.
func (r *Room) SpawnMonster(m *state.Monster) {
	r.cancelTimer(removalKey(m.ID))
	r.cancelTimer(respawnKey(m.ID))
	r.world.Monsters[m.ID] = m
}

func removalKey(id string) string { return "remove:" + id }
func respawnKey(id string) string { return "respawn:" + id }

func (r *Room) scheduleRemoval(monsterID string) {
	key := removalKey(monsterID)
	r.cancelTimer(key)
	r.timers[key] = r.sched.AfterFunc(r.cfg.MonsterRemovalDelay, func() {
		delete(r.timers, key)
		r.removeMonster(monsterID)
	})
}

func (r *Room) removeMonster(monsterID string) {
	if r.closed {
		return
	}
	delete(r.world.Monsters, monsterID)
	r.logger.Debug("monster removed", zap.String("monster_id", monsterID))

	sp, ok := r.spawns[monsterID]
	if !ok {
		return
	}
	delay := sp.RespawnDelay()
	if delay <= 0 {
		return
	}
	key := respawnKey(monsterID)
	r.timers[key] = r.sched.AfterFunc(delay, func() {
		delete(r.timers, key)
		r.respawn(sp)
	})
}

func (r *Room) respawn(sp monster.Spawn) {
	if r.closed {
		return
	}
	if _, exists := r.world.Monsters[sp.ID]; exists {
		return
	}
	m, err := r.catalog.NewMonster(sp)
	if err != nil {
		r.logger.Error("respawn failed", zap.String("monster_id", sp.ID), zap.Error(err))
		return
	}
	r.world.Monsters[m.ID] = m
	r.broadcast(protocol.TypeMonsterRespawn, protocol.MonsterRespawn{Monster: *m}, "")
	r.logger.Debug("monster respawned", zap.String("monster_id", m.ID))
}

func (r *Room) cancelTimer(key string) {
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}

// PendingTimers returns the number of scheduled, unfired timers.
func (r *Room) PendingTimers() int {
	return len(r.timers)
}

// Tick advances the room clock by delta and broadcasts the field-level changes
// since the previous broadcast. Nothing is sent when only the clock moved.
//
// Postcondition: ServerTime never decreases.
func (r *Room) Tick(delta time.Duration) {
	if r.closed {
		return
	}
	if delta > 0 {
		r.world.ServerTime += float64(delta) / float64(time.Millisecond)
	}

	patch := state.Diff(r.sent, r.world)
	if patch.Empty() {
		r.sent.ServerTime = r.world.ServerTime
		return
	}
	r.sent = r.world.Clone()
	r.broadcast(protocol.TypeState, patch, "")
}

// Close cancels every pending timer and closes every connection.
//
// Postcondition: No timer callback touches the room after Close returns.
func (r *Room) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
	for id, m := range r.members {
		m.conn.Close()
		delete(r.members, id)
	}
	clear(r.byConn)
	r.logger.Info("room closed")
}

func (r *Room) reject(sessionID string, code int, err error) {
	r.sendTo(sessionID, protocol.TypeError, protocol.Error{Code: code, Message: err.Error()})
}

func (r *Room) sendTo(sessionID, msgType string, payload any) {
	m, ok := r.members[sessionID]
	if !ok {
		return
	}
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		r.logger.Error("encoding message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := m.conn.Send(frame); err != nil {
		r.drop(sessionID, err)
	}
}

// broadcast sends a message to every member except excludeID. Delivery
// follows session id order.
func (r *Room) broadcast(msgType string, payload any, excludeID string) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		r.logger.Error("encoding broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != excludeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	failed := make(map[string]error)
	for _, id := range ids {
		if err := r.members[id].conn.Send(frame); err != nil {
			failed[id] = err
		}
	}
	for _, id := range ids {
		if err, ok := failed[id]; ok {
			r.drop(id, err)
		}
	}
}

// drop removes a member whose connection refused a frame. Patches are diffed
// against one shared baseline, so a member that missed one can only recover
// through a fresh welcome.
func (r *Room) drop(sessionID string, err error) {
	r.logger.Warn("dropping connection that missed a frame",
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
	r.Leave(sessionID, false)
}
