package gameserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// Session runs one Room on a dedicated goroutine. Joins, leaves, inbound
// frames, timer callbacks and ticks are queued on an inbox and each runs to
// completion before the next starts.
//
// All exported methods are safe for concurrent use.
type Session struct {
	room     *Room
	interval time.Duration
	inbox    chan func()
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewSession builds a session whose room is created by newRoom with a
// scheduler bound to the session goroutine.
//
// Precondition: interval > 0; inboxSize > 0; newRoom and logger must be non-nil.
// Postcondition: Returns an unstarted Session, or the error from newRoom.
func NewSession(interval time.Duration, inboxSize int, logger *zap.Logger, newRoom func(Scheduler) (*Room, error)) (*Session, error) {
	s := &Session{
		interval: interval,
		inbox:    make(chan func(), inboxSize),
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	room, err := newRoom(actorScheduler{post: s.post})
	if err != nil {
		return nil, err
	}
	s.room = room
	s.logger = logger.With(zap.String("room", room.Name()))
	return s, nil
}

// Name returns the room name.
func (s *Session) Name() string {
	return s.room.Name()
}

// Start launches the session goroutine. It returns immediately. The session
// stops when ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	last := time.Now()

	s.logger.Info("session started", zap.Duration("tick_interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.room.Close()
			return
		case <-s.quit:
			s.room.Close()
			return
		case fn := <-s.inbox:
			fn()
		case now := <-ticker.C:
			s.room.Tick(now.Sub(last))
			last = now
		}
	}
}

// Stop halts the session and closes the room. Safe to call multiple times,
// and before Start.
//
// Postcondition: The room is closed and the session goroutine, if any, has exited.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	s.startOnce.Do(func() {
		s.room.Close()
		close(s.done)
	})
	<-s.done
}

// Done is closed once the session goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// post queues fn for the session goroutine. It blocks while the inbox is full
// and returns false once the session has stopped.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	case <-s.done:
		return false
	}
}

// call runs fn on the session goroutine and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	queued := make(chan bool, 1)
	go func() {
		queued <- s.post(func() {
			fn()
			close(finished)
		})
	}()
	select {
	case ok := <-queued:
		if !ok {
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join joins conn to the room and returns a copy of the new player.
//
// Postcondition: On success the welcome message has already been queued on conn.
func (s *Session) Join(ctx context.Context, conn Conn, req protocol.JoinRequest) (state.Player, error) {
	var (
		p   state.Player
		err error
	)
	joinFn := func() {
		var joined *state.Player
		if joined, err = s.room.Join(conn, req); err == nil {
			p = *joined
		}
	}
	if cerr := s.call(ctx, joinFn); cerr != nil {
		// The join may still run after the caller gave up.
		s.post(func() {
			if id, ok := s.room.SessionFor(conn.ID()); ok {
				s.room.Leave(id, false)
			}
		})
		return state.Player{}, cerr
	}
	if err != nil {
		return state.Player{}, err
	}
	return p, nil
}

// Leave removes the player for sessionID. It does not wait for completion.
func (s *Session) Leave(sessionID string, consented bool) {
	s.post(func() { s.room.Leave(sessionID, consented) })
}

// Deliver queues an inbound frame from sessionID. It blocks while the inbox is
// full, which pushes back on the reading connection.
//
// Postcondition: Returns ErrSessionClosed once the session has stopped.
func (s *Session) Deliver(sessionID string, frame []byte) error {
	ok := s.post(func() {
		if err := s.room.HandleFrame(sessionID, frame); err != nil {
			s.logger.Debug("frame dropped", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
	if !ok {
		return ErrSessionClosed
	}
	return nil
}

// PlayerCount returns the number of joined players.
func (s *Session) PlayerCount(ctx context.Context) (int, error) {
	var n int
	if err := s.call(ctx, func() { n = s.room.PlayerCount() }); err != nil {
		return 0, err
	}
	return n, nil
}

// SpawnMonster adds m to the room on the session goroutine.
func (s *Session) SpawnMonster(ctx context.Context, m state.Monster) error {
	return s.call(ctx, func() { s.room.SpawnMonster(&m) })
}

// Snapshot returns a deep copy of the canonical state.
func (s *Session) Snapshot(ctx context.Context) (*state.Room, error) {
	var snap *state.Room
	if err := s.call(ctx, func() { snap = s.room.World().Clone() }); err != nil {
		return nil, err
	}
	return snap, nil
}
