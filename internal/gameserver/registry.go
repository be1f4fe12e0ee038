package gameserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/monster"
)

// ErrUnknownRoom is returned by GetOrCreate for names outside the configured room set.
var ErrUnknownRoom = errors.New("unknown room")

// SessionFactory builds an unstarted session for a room name.
type SessionFactory func(name string) (*Session, error)

// NewSessionFactory returns a factory that builds sessions from cfg, seeding
// each room from catalog when it is non-nil.
//
// Precondition: cfg must have passed validation; logger must be non-nil.
func NewSessionFactory(cfg config.SessionConfig, catalog *monster.Catalog, logger *zap.Logger) SessionFactory {
	return func(name string) (*Session, error) {
		return NewSession(cfg.TickInterval(), cfg.InboxSize, logger, func(sched Scheduler) (*Room, error) {
			var opts []RoomOption
			if catalog != nil {
				opts = append(opts, WithCatalog(catalog))
			}
			return NewRoom(name, cfg, sched, logger, opts...)
		})
	}
}

// Registry owns every running session by name. Sessions are independent and
// share no mutable state. Only the names given to NewRegistry can be created,
// so clients cannot grow the session set.
//
// All methods are safe for concurrent use.
type Registry struct {
	ctx     context.Context
	cancel  context.CancelFunc
	factory SessionFactory
	logger  *zap.Logger
	rooms   map[string]bool

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
}

// NewRegistry creates an empty registry. Sessions it starts stop when ctx is
// cancelled or StopAll is called.
//
// Precondition: rooms must be non-empty; factory and logger must be non-nil.
func NewRegistry(ctx context.Context, rooms []string, factory SessionFactory, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	allowed := make(map[string]bool, len(rooms))
	for _, name := range rooms {
		allowed[name] = true
	}
	return &Registry{
		ctx:      ctx,
		cancel:   cancel,
		factory:  factory,
		logger:   logger,
		rooms:    allowed,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the running session for name, starting one if needed.
//
// Precondition: name must be non-empty.
// Postcondition: Returns a started session, ErrUnknownRoom for names outside
// the room set, or ErrSessionClosed after StopAll.
func (r *Registry) GetOrCreate(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrSessionClosed
	}
	if s, ok := r.sessions[name]; ok {
		return s, nil
	}
	if !r.rooms[name] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
	s, err := r.factory(name)
	if err != nil {
		return nil, fmt.Errorf("creating session %q: %w", name, err)
	}
	s.Start(r.ctx)
	r.sessions[name] = s
	r.logger.Info("session created", zap.String("room", name), zap.Int("sessions", len(r.sessions)))
	return s, nil
}

// Get returns the session for name, if running.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Names returns the session names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll stops every session. Later GetOrCreate calls fail.
//
// Postcondition: Every session goroutine has exited.
func (r *Registry) StopAll() {
	r.mu.Lock()
	r.stopped = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.cancel()
	for _, s := range sessions {
		s.Stop()
	}
	r.logger.Info("all sessions stopped", zap.Int("count", len(sessions)))
}

// Start blocks until StopAll is called, letting the registry run as a
// lifecycle service.
func (r *Registry) Start() error {
	<-r.ctx.Done()
	return nil
}

// Stop is StopAll.
func (r *Registry) Stop() {
	r.StopAll()
}
