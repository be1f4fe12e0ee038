package gameserver

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a revocable delayed callback.
type Timer interface {
	// Stop prevents the callback from running. Safe to call multiple times.
	Stop()
}

// Scheduler creates delayed callbacks.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// DelayTimer fires a callback after a duration unless stopped.
// It is safe for concurrent use.
type DelayTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDelayTimer creates and starts a timer that calls onFire after d.
// onFire runs on its own goroutine.
//
// Precondition: onFire must not be nil.
// Postcondition: onFire will be called unless Stop is called first.
func NewDelayTimer(d time.Duration, onFire func()) *DelayTimer {
	dt := &DelayTimer{}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.timer = time.AfterFunc(d, func() {
		dt.mu.Lock()
		stopped := dt.stopped
		dt.stopped = true
		dt.mu.Unlock()
		if !stopped {
			onFire()
		}
	})
	return dt
}

// Stop prevents the callback from firing.
//
// Postcondition: onFire will not be called after Stop returns, unless it was
// already running.
func (dt *DelayTimer) Stop() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.stopped = true
	dt.timer.Stop()
}

// WallScheduler runs callbacks on timer goroutines.
type WallScheduler struct{}

// AfterFunc schedules fn after d.
func (WallScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return NewDelayTimer(d, fn)
}

// actorScheduler delivers timer callbacks through a session inbox so they run
// on the session goroutine, interleaved with messages and ticks.
type actorScheduler struct {
	post func(func()) bool
}

type actorTimer struct {
	cancelled atomic.Bool
	timer     *DelayTimer
}

func (t *actorTimer) Stop() {
	t.cancelled.Store(true)
	t.timer.Stop()
}

// AfterFunc schedules fn to run on the session goroutine after d. Stopping the
// timer after it fired but before the session ran fn still suppresses fn.
func (s actorScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	at := &actorTimer{}
	at.timer = NewDelayTimer(d, func() {
		s.post(func() {
			if !at.cancelled.Load() {
				fn()
			}
		})
	})
	return at
}
