// Package watchdog restarts the process when a loop stops reporting progress.
package watchdog

import (
	"sync"
	"time"
)

// Watchdog calls onExpire once if Reset is not called within timeout.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	lock    sync.Mutex
	timer   *time.Timer
	expired bool
	stopped bool
}

func New(timeout time.Duration, onExpire func()) *Watchdog {
	w := &Watchdog{timeout: timeout, onExpire: onExpire}
	w.timer = time.AfterFunc(timeout, w.expire)

	return w
}

func (w *Watchdog) expire() {
	w.lock.Lock()
	if w.expired || w.stopped {
		w.lock.Unlock()
		return
	}
	w.expired = true
	w.lock.Unlock()

	w.onExpire()
}

// Reset restarts the countdown. It has no effect once the watchdog expired.
func (w *Watchdog) Reset() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.expired || w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *Watchdog) Stop() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.stopped = true
	w.timer.Stop()
}

func (w *Watchdog) Expired() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.expired
}
