// Package sim runs scripted players against a session. It is used for load
// and smoke testing and by the development server.
package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/client"
	"github.com/cory-johannsen/worldsync/internal/client/interp"
	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/dice"
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
	"github.com/cory-johannsen/worldsync/internal/server"
)

// ErrGaveUp is returned by Run when the manager exhausted its reconnect attempts.
var ErrGaveUp = errors.New("reconnect attempts exhausted")

const (
	frameInterval = 16 * time.Millisecond
	walkSpeed     = 120.0 // units per second
)

var attackDamage = dice.MustParse("2d10+1")

// Bot is one simulated player. It wanders, occasionally attacks a monster it
// can see and keeps an interpolated view of everyone else.
type Bot struct {
	name    string
	mapID   string
	manager *client.Manager
	view    *interp.Interpolator
	logger  *zap.Logger
	rng     *rand.Rand
	roller  *dice.Roller

	mu    sync.Mutex
	x, y  float64
	dirX  float64
	stats Stats

	failed chan struct{}
}

// Stats counts what a bot observed.
type Stats struct {
	Joined   int
	Left     int
	Updates  int
	Attacks  int
	Messages int
}

// NewBot creates a bot that connects through dialer.
//
// Precondition: cfg must have passed validation; dialer and logger must be non-nil.
func NewBot(name, mapID string, cfg config.Config, dialer client.Dialer, logger *zap.Logger, seed uint64) *Bot {
	b := &Bot{
		name:    name,
		mapID:   mapID,
		manager: client.NewManager(cfg.Client, dialer, logger.Named("client")),
		view:    interp.New(cfg.Interpolation),
		logger:  logger,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		roller:  dice.NewRoller(seed, logger.Named("dice")),
		x:       cfg.Session.SpawnX,
		y:       cfg.Session.SpawnY,
		dirX:    1,
		failed:  make(chan struct{}),
	}
	b.manager.On(b.handle)
	return b
}

// Manager exposes the underlying connection manager.
func (b *Bot) Manager() *client.Manager {
	return b.manager
}

// View exposes the interpolated positions of remote players.
func (b *Bot) View() *interp.Interpolator {
	return b.view
}

// Stats returns a copy of the bot's counters.
func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bot) handle(e client.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch e.Type {
	case client.EventPlayerJoined:
		b.stats.Joined++
	case client.EventPlayerLeft:
		b.stats.Left++
		b.view.Remove(e.SessionID)
	case client.EventPlayerUpdated:
		b.stats.Updates++
	case client.EventPlayerAttack:
		b.stats.Attacks++
	case client.EventChat:
		b.stats.Messages++
	case client.EventReconnectFailed:
		select {
		case <-b.failed:
		default:
			close(b.failed)
		}
	case client.EventError:
		b.logger.Debug("server error", zap.Error(e.Err))
	}
}

// Run connects and plays until ctx is cancelled or reconnection gives up.
//
// Postcondition: The manager is disconnected when Run returns.
func (b *Bot) Run(ctx context.Context) error {
	defer b.manager.Disconnect()

	if err := b.manager.Connect(ctx, b.name, b.mapID); err != nil {
		b.logger.Warn("initial connect failed, retrying", zap.Error(err))
	}

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.failed:
			return ErrGaveUp
		case now := <-ticker.C:
			b.frame(now.Sub(last))
			last = now
		}
	}
}

// frame advances the bot one render frame.
func (b *Bot) frame(dt time.Duration) {
	remotes := b.manager.RemotePlayers()
	targets := make([]interp.Target, 0, len(remotes))
	for _, p := range remotes {
		targets = append(targets, interp.Target{ID: p.ID, X: p.X, Y: p.Y})
	}
	b.view.Sync(targets)
	b.view.Advance()

	if b.manager.State() != client.Connected {
		return
	}

	b.mu.Lock()
	if b.rng.IntN(120) == 0 {
		b.dirX = -b.dirX
	}
	b.x += b.dirX * walkSpeed * dt.Seconds()
	mv := protocol.Move{X: b.x, Y: b.y, VelocityX: b.dirX * walkSpeed, State: state.PlayerWalk, FacingRight: b.dirX > 0, Animation: "walk"}
	attack := b.rng.IntN(200) == 0
	b.mu.Unlock()

	if _, err := b.manager.SendPosition(mv); err != nil {
		b.logger.Debug("send position", zap.Error(err))
	}
	if attack {
		b.attack(mv)
	}
}

func (b *Bot) attack(mv protocol.Move) {
	_ = b.manager.SendAttack(protocol.Attack{SkillID: "slash", X: mv.X, Y: mv.Y, FacingRight: mv.FacingRight})
	for _, m := range b.manager.Monsters() {
		if m.Dead() || (m.MapID != "" && m.MapID != b.mapID) {
			continue
		}
		hit := b.roller.Roll(attackDamage)
		_ = b.manager.SendMonsterDamage(m.ID, hit.Total, hit.Critical(attackDamage.Sides))
		return
	}
}

// Service adapts the bot to a lifecycle service. Stop cancels Run and waits
// for it to return.
func (b *Bot) Service() *server.FuncService {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			defer close(done)
			return b.Run(ctx)
		},
		StopFn: func() {
			cancel()
			<-done
		},
	}
}
