package gameserver_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cory-johannsen/worldsync/internal/gameserver"
)

func TestDelayTimer_Fires(t *testing.T) {
	var fired atomic.Int32
	gameserver.NewDelayTimer(20*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "fires exactly once")
}

func TestDelayTimer_StopPreventsFire(t *testing.T) {
	var fired atomic.Bool
	dt := gameserver.NewDelayTimer(30*time.Millisecond, func() { fired.Store(true) })
	dt.Stop()
	dt.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestWallScheduler_AfterFunc(t *testing.T) {
	var fired atomic.Bool
	var s gameserver.Scheduler = gameserver.WallScheduler{}
	s.AfterFunc(10*time.Millisecond, func() { fired.Store(true) })

	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}
