package camera

import "errors"

var ErrGuardUninitialized = errors.New("frame buffer guard is not initialized")

// Guard gives one goroutine at a time access to the frame buffer slot.
// Acquire waits without a timeout and waiters are not served in FIFO order.
type Guard struct {
	sem chan struct{}
}

func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

func (g *Guard) Acquire() error {
	if g == nil || g.sem == nil {
		return ErrGuardUninitialized
	}
	g.sem <- struct{}{}
	return nil
}

// Release is a no-op on a guard nobody holds.
func (g *Guard) Release() {
	if g == nil || g.sem == nil {
		return
	}
	select {
	case <-g.sem:
	default:
	}
}

func (g *Guard) Held() bool {
	return g != nil && g.sem != nil && len(g.sem) == 1
}
