package gameserver

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// recordingConn captures every frame sent to it.
type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newRecordingConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrOutboxClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (c *recordingConn) ofType(t *testing.T, msgType string) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range c.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// manualScheduler fires timers only when Advance moves its clock past them.
type manualScheduler struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() { t.stopped = true }

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.seq++
	t := &manualTimer{at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Advance runs every due timer in deadline order, including timers scheduled
// by callbacks that fall within the window.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at != due[j].at {
				return due[i].at < due[j].at
			}
			return due[i].seq < due[j].seq
		})
		next := due[0]
		s.now = next.at
		next.fired = true
		next.fn()
	}
	s.now = target
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		DefaultRoom:         "world",
		Rooms:               []string{"arena"},
		DefaultMap:          "town",
		MaxPlayers:          16,
		TickRateHz:          20,
		SpawnX:              400,
		SpawnY:              300,
		ChatMaxLength:       200,
		MonsterRemovalDelay: time.Second,
		OutboxSize:          64,
		InboxSize:           64,
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestRoom(t *testing.T, opts ...RoomOption) (*Room, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	opts = append([]RoomOption{WithIDGenerator(sequentialIDs())}, opts...)
	r, err := NewRoom("world", testSessionConfig(), sched, zap.NewNop(), opts...)
	require.NoError(t, err)
	return r, sched
}
