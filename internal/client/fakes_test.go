package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// fakeTransport is an in-memory Transport. Frames pushed by the test are
// returned by ReadFrame in order.
type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (t *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case <-t.closed:
		return nil, io.EOF
	default:
	}
	select {
	case f := <-t.in:
		return f, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteFrame(frame []byte) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeErr; err != nil {
		t.writeErr = nil
		return err
	}
	t.written = append(t.written, frame)
	return nil
}

// failNextWrite makes the next WriteFrame return err.
func (t *fakeTransport) failNextWrite(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) push(tb testing.TB, msgType string, payload any) {
	tb.Helper()
	frame, err := protocol.Encode(msgType, payload)
	require.NoError(tb, err)
	t.in <- frame
}

func (t *fakeTransport) sent(tb testing.TB, msgType string) []protocol.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range t.written {
		env, err := protocol.Decode(f)
		require.NoError(tb, err)
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out transports from script, one call per dial.
type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	script func(n int) (Transport, error)
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	return d.script(n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

var errRefused = errors.New("connection refused")

func failingDialer() *fakeDialer {
	return &fakeDialer{script: func(int) (Transport, error) { return nil, errRefused }}
}

// welcomeTransport returns a transport whose first inbound frame is a welcome.
func welcomeTransport(tb testing.TB, selfID string, snap *state.Room) *fakeTransport {
	t := newFakeTransport()
	t.push(tb, protocol.TypeWelcome, protocol.Welcome{SessionID: selfID, State: snap})
	return t
}

// manualClock runs timers only when the test fires them.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

// FirePending runs every live timer and reports how many ran.
func (c *manualClock) FirePending() int {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.pending = nil
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// recorder collects events from any goroutine.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		ServerURL:            "ws://test/ws",
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		PositionInterval:     50 * time.Millisecond,
	}
}

func newTestManager(dialer Dialer) (*Manager, *manualClock, *recorder) {
	clock := newManualClock()
	rec := &recorder{}
	m := NewManager(testClientConfig(), dialer, zap.NewNop(), WithClock(clock))
	m.On(rec.handle)
	return m, clock, rec
}

func twoPlayerRoom() *state.Room {
	r := state.NewRoom("town")
	r.Players["s1"] = &state.Player{ID: "s1", Name: "Me", X: 10, Y: 20, MapID: "town"}
	r.Players["s2"] = &state.Player{ID: "s2", Name: "Other", X: 30, Y: 40, MapID: "town"}
	r.Monsters["m1"] = &state.Monster{ID: "m1", Type: "slime", HP: 10, MaxHP: 10, State: state.MonsterIdle}
	return r
}
