// Package clock provides the wall clock used for absolute scheduling.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done.
	SleepUntil(ctx context.Context, t time.Time) error
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (r Real) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, r, t)
}

func sleepUntil(ctx context.Context, c Clock, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryFunc returns the offset of the local clock against a time server.
type QueryFunc func(server string) (time.Duration, error)

func QueryNTP(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err = resp.Validate(); err != nil {
		return 0, err
	}

	return resp.ClockOffset, nil
}

// NTP is a clock corrected by the offset measured against an NTP server.
// Devices without an RTC boot with a wrong local clock, and the timelapse grid
// should line up with real time once the network is available.
type NTP struct {
	server string
	query  QueryFunc
	logger *zap.SugaredLogger

	lock   sync.RWMutex
	offset time.Duration
}

func NewNTP(server string, logger *zap.SugaredLogger) *NTP {
	return &NTP{server: server, query: QueryNTP, logger: logger}
}

func (n *NTP) WithQuery(q QueryFunc) *NTP {
	n.query = q
	return n
}

// Sync measures the offset once. On failure the previous offset is kept.
func (n *NTP) Sync() error {
	offset, err := n.query(n.server)
	if err != nil {
		n.logger.Warnf("ntp: query %s err: %s", n.server, err)
		return err
	}
	n.lock.Lock()
	n.offset = offset
	n.lock.Unlock()
	n.logger.Infof("ntp: clock offset %s", offset)

	return nil
}

// Run syncs every interval until ctx is done.
func (n *NTP) Run(ctx context.Context, interval time.Duration) {
	_ = n.Sync()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = n.Sync()
		case <-ctx.Done():
			return
		}
	}
}

func (n *NTP) Offset() time.Duration {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.offset
}

func (n *NTP) Now() time.Time {
	return time.Now().Add(n.Offset())
}

func (n *NTP) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, n, t)
}
