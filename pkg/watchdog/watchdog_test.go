package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogExpires(t *testing.T) {
	var fired atomic.Int32
	w := New(20*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	assert.Eventually(t, w.Expired, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatchdogReset(t *testing.T) {
	var fired atomic.Int32
	w := New(80*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	for i := 0; i < 6; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Reset()
	}
	assert.Zero(t, fired.Load())
	assert.False(t, w.Expired())
}

func TestWatchdogStop(t *testing.T) {
	var fired atomic.Int32
	w := New(10*time.Millisecond, func() { fired.Add(1) })
	w.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, fired.Load())
	w.Reset()
	assert.False(t, w.Expired())
}
