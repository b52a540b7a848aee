package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/clock"
	"timelapse-cam/pkg/storage"
	"timelapse-cam/pkg/storage/consts"
)

var (
	ErrCaptureFailed = errors.New("capture failed")
	ErrNoStorage     = errors.New("storage is not available")
)

type Camera interface {
	Capture() camera.CaptureResult
	CapturedBuffer() *camera.FrameBuffer
	ReturnBuffer()
}

type Sink interface {
	Healthy() bool
	EnsureDirectory(dir string) error
	CountExisting(dir string) (int, error)
	// LastNumber is the highest photo number already used in dir.
	LastNumber(dir, prefix string) (int, error)
	Write(name string, data []byte) error
}

type Watchdog interface {
	Reset()
}

type Options struct {
	Period time.Duration

	Dir    string
	Prefix string
	Suffix string

	Clock    clock.Clock
	Watchdog Watchdog
	// Lock is held around every capture. Share it with anything that changes
	// camera settings.
	Lock sync.Locker
}

type Stats struct {
	Ticks           int64 `json:"ticks"`
	Skipped         int64 `json:"skipped"`
	Saved           int64 `json:"saved"`
	CaptureFailures int64 `json:"captureFailures"`
	SaveFailures    int64 `json:"saveFailures"`
	PhotoCount      int64 `json:"photoCount"`
}

// Scheduler takes a photo every period and hands it to the sink. Ticks sit on
// a fixed grid starting at Run, so slow captures do not shift later ones.
type Scheduler struct {
	camera Camera
	sink   Sink
	logger *zap.SugaredLogger

	period         time.Duration
	dir            string
	prefix, suffix string
	clock          clock.Clock
	wd             Watchdog
	lock           sync.Locker

	connected bool
	count     atomic.Int64

	ticks, skipped, saved      atomic.Int64
	captureFailures, saveFails atomic.Int64
}

func New(cam Camera, sink Sink, logger *zap.SugaredLogger, opts Options) (*Scheduler, error) {
	if opts.Period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", opts.Period)
	}
	if opts.Dir == "" {
		opts.Dir = consts.DefaultPhotoDir
	}
	if opts.Prefix == "" {
		opts.Prefix = consts.DefaultPhotoPrefix
	}
	if opts.Suffix == "" {
		opts.Suffix = consts.DefaultImageExt
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}

	s := &Scheduler{
		camera: cam,
		sink:   sink,
		logger: logger,
		period: opts.Period,
		dir:    opts.Dir,
		prefix: opts.Prefix,
		suffix: opts.Suffix,
		clock:  opts.Clock,
		wd:     opts.Watchdog,
		lock:   opts.Lock,
	}
	s.lock.Lock()
	s.connect()
	s.lock.Unlock()

	return s, nil
}

// connect prepares the photo directory and seeds the counter from the photos
// already stored. It is retried on every photo until it succeeds. Callers hold
// s.lock.
func (s *Scheduler) connect() bool {
	if s.connected {
		return true
	}
	if !s.sink.Healthy() {
		return false
	}
	if err := s.sink.EnsureDirectory(s.dir); err != nil {
		s.logger.Errorf("scheduler: create %s err: %s", s.dir, err)
		return false
	}
	n, err := s.sink.CountExisting(s.dir)
	if err != nil {
		s.logger.Errorf("scheduler: count photos in %s err: %s", s.dir, err)
		return false
	}
	last, err := s.sink.LastNumber(s.dir, s.prefix)
	if err != nil {
		s.logger.Errorf("scheduler: find last photo in %s err: %s", s.dir, err)
		return false
	}
	// deleted photos leave gaps, never hand out a number that is still in use
	seed := max(n, last)
	s.count.Store(int64(seed))
	s.connected = true
	s.logger.Infof("scheduler: storage connected, photo count: %d, next photo: %d", n, seed+1)

	return true
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infof("scheduler: started, period %s", s.period)
	next := s.clock.Now()
	for {
		if ctx.Err() != nil {
			break
		}
		s.Tick()

		next = next.Add(s.period)
		now := s.clock.Now()
		if !next.After(now) {
			missed := now.Sub(next)/s.period + 1
			next = next.Add(missed * s.period)
			s.logger.Warnf("scheduler: capture overran, skipping %d tick(s)", missed)
		}
		if next.Sub(now) > s.period {
			// the clock stepped back, keep the wait within one period
			s.logger.Warnf("scheduler: clock moved back by %s, re-anchoring", next.Sub(now)-s.period)
			next = now.Add(s.period)
		}
		if err := s.clock.SleepUntil(ctx, next); err != nil {
			break
		}
	}
	s.logger.Info("scheduler: stopped!")

	return nil
}

// Tick feeds the watchdog and takes one photo when storage is available.
func (s *Scheduler) Tick() {
	s.ticks.Add(1)
	if s.wd != nil {
		s.wd.Reset()
	}

	start := s.clock.Now()
	if !s.sink.Healthy() {
		s.skipped.Add(1)
		s.logger.Debug("scheduler: storage unhealthy, skipping")
		return
	}
	if name, err := s.TakePhoto(); err == nil {
		s.logger.Infof("scheduler: took %s to save %s", s.clock.Now().Sub(start), name)
	}
}

// TakePhoto captures and stores one photo, returning its name.
func (s *Scheduler) TakePhoto() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.connect() {
		return "", ErrNoStorage
	}

	res := s.camera.Capture()
	if !res.Success {
		s.captureFailures.Add(1)
		s.logger.Warnf("scheduler: capture %s failed", res.Session)
		return "", ErrCaptureFailed
	}
	defer s.camera.ReturnBuffer()

	if !s.sink.Healthy() {
		s.skipped.Add(1)
		return "", ErrNoStorage
	}

	fb := s.camera.CapturedBuffer()
	name := storage.PhotoName(s.dir, s.prefix, int(s.count.Load())+1, s.suffix)
	if err := s.sink.Write(name, fb.Bytes()); err != nil {
		s.saveFails.Add(1)
		s.logger.Errorf("scheduler: failed to save photo %s: %s", name, err)
		return "", err
	}
	s.count.Add(1)
	s.saved.Add(1)
	s.logger.Infof("scheduler: photo saved: %s (%s)", name, humanize.Bytes(uint64(fb.Len())))

	return name, nil
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:           s.ticks.Load(),
		Skipped:         s.skipped.Load(),
		Saved:           s.saved.Load(),
		CaptureFailures: s.captureFailures.Load(),
		SaveFailures:    s.saveFails.Load(),
		PhotoCount:      s.count.Load(),
	}
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

func (s *Scheduler) Dir() string {
	return s.dir
}
