package schedule

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/camera/cameratest"
)

type fakeClock struct {
	lock   sync.Mutex
	now    time.Time
	wakes  []time.Time
	limit  int
	cancel context.CancelFunc
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.wakes = append(c.wakes, t)
	if t.After(c.now) {
		c.now = t
	}
	if len(c.wakes) >= c.limit {
		c.cancel()
	}

	return ctx.Err()
}

type memSink struct {
	lock     sync.Mutex
	healthy  bool
	existing int
	writeErr error
	dirs     []string
	files    map[string][]byte
	names    []string
}

func newMemSink() *memSink {
	return &memSink{healthy: true, files: make(map[string][]byte)}
}

func (m *memSink) Healthy() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.healthy
}

func (m *memSink) EnsureDirectory(dir string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.dirs = append(m.dirs, dir)
	return nil
}

func (m *memSink) CountExisting(dir string) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	n := m.existing
	for name := range m.files {
		if strings.HasPrefix(name, dir+"/") {
			n++
		}
	}
	return n, nil
}

func (m *memSink) LastNumber(dir, prefix string) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	last := 0
	for name := range m.files {
		if path.Dir(name) != dir {
			continue
		}
		base := strings.TrimSuffix(path.Base(name), ".jpg")
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(base, prefix)); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

func (m *memSink) Write(name string, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[name] = append([]byte(nil), data...)
	m.names = append(m.names, name)
	return nil
}

// slowCamera makes every capture take d on the fake clock.
type slowCamera struct {
	Camera
	clock *fakeClock
	d     time.Duration
}

func (c slowCamera) Capture() camera.CaptureResult {
	c.clock.Advance(c.d)
	return c.Camera.Capture()
}

// jumpCamera steps the fake clock once, during the first capture.
type jumpCamera struct {
	Camera
	clock  *fakeClock
	jump   time.Duration
	jumped bool
}

func (c *jumpCamera) Capture() camera.CaptureResult {
	if !c.jumped {
		c.jumped = true
		c.clock.Advance(c.jump)
	}
	return c.Camera.Capture()
}

type countingWatchdog struct{ resets int }

func (w *countingWatchdog) Reset() { w.resets++ }

func newEngine(t *testing.T, lengths ...int) (*camera.Engine, *cameratest.Driver) {
	t.Helper()
	d := cameratest.NewDriver(lengths...)
	logger := zaptest.NewLogger(t).Sugar()
	conf := camera.NewConfigurator(d, camera.DefaultBoard(), logger,
		camera.WithSleep(func(time.Duration) {}),
		camera.WithRestart(func(error) {}),
	)
	e := camera.NewEngine(conf, camera.DefaultSettings(), logger)
	_, err := e.Init()
	require.NoError(t, err)

	return e, d
}

func TestRunKeepsFixedGrid(t *testing.T) {
	engine, driver := newEngine(t)
	sink := newMemSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start, limit: 4, cancel: cancel}
	wd := &countingWatchdog{}

	s, err := New(slowCamera{engine, clk, 3 * time.Second}, sink, zaptest.NewLogger(t).Sugar(), Options{
		Period:   10 * time.Second,
		Clock:    clk,
		Watchdog: wd,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []time.Time{
		start.Add(10 * time.Second),
		start.Add(20 * time.Second),
		start.Add(30 * time.Second),
		start.Add(40 * time.Second),
	}, clk.wakes)
	assert.Equal(t, 4, wd.resets)
	assert.Equal(t, []string{
		"photos/photo_1.jpg", "photos/photo_2.jpg", "photos/photo_3.jpg", "photos/photo_4.jpg",
	}, sink.names)
	assert.Equal(t, int64(4), s.Stats().Saved)
	assert.Zero(t, driver.Outstanding())
}

func TestRunSkipsMissedTicks(t *testing.T) {
	engine, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start, limit: 2, cancel: cancel}

	s, err := New(slowCamera{engine, clk, 25 * time.Second}, newMemSink(), zaptest.NewLogger(t).Sugar(), Options{
		Period: 10 * time.Second,
		Clock:  clk,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []time.Time{
		start.Add(30 * time.Second),
		start.Add(60 * time.Second),
	}, clk.wakes)
}

func TestRunReanchorsWhenClockMovesBack(t *testing.T) {
	engine, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start, limit: 2, cancel: cancel}
	wd := &countingWatchdog{}

	s, err := New(&jumpCamera{Camera: engine, clock: clk, jump: -10 * time.Minute}, newMemSink(), zaptest.NewLogger(t).Sugar(), Options{
		Period:   time.Minute,
		Clock:    clk,
		Watchdog: wd,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	// the first wait is one period from the corrected time, not eleven minutes
	assert.Equal(t, []time.Time{
		start.Add(-9 * time.Minute),
		start.Add(-8 * time.Minute),
	}, clk.wakes)
	assert.Equal(t, 2, wd.resets)
	assert.Equal(t, int64(2), s.Stats().Saved)
}

func TestTickSkipsWhenStorageUnhealthy(t *testing.T) {
	engine, driver := newEngine(t)
	driver.ResetCalls()
	sink := newMemSink()
	sink.healthy = false
	wd := &countingWatchdog{}

	s, err := New(engine, sink, zaptest.NewLogger(t).Sugar(), Options{Period: time.Minute, Watchdog: wd})
	require.NoError(t, err)
	s.Tick()

	assert.Equal(t, 1, wd.resets)
	assert.Zero(t, driver.Count("acquire"))
	assert.Empty(t, sink.names)
	assert.Equal(t, int64(1), s.Stats().Skipped)
	assert.Empty(t, sink.dirs)

	// storage comes back: the directory is prepared and the counter seeded then
	sink.healthy = true
	sink.existing = 7
	s.Tick()
	assert.Equal(t, []string{"photos"}, sink.dirs)
	assert.Equal(t, []string{"photos/photo_8.jpg"}, sink.names)
}

func TestCounterSeededFromExistingPhotos(t *testing.T) {
	engine, _ := newEngine(t)
	sink := newMemSink()
	sink.existing = 3

	s, err := New(engine, sink, zaptest.NewLogger(t).Sugar(), Options{
		Period: time.Minute,
		Dir:    "timelapse",
		Prefix: "img",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"timelapse"}, sink.dirs)

	name, err := s.TakePhoto()
	require.NoError(t, err)
	assert.Equal(t, "timelapse/img4.jpg", name)
	assert.Equal(t, int64(4), s.Stats().PhotoCount)
}

func TestCounterSkipsPastHighestPhotoNumber(t *testing.T) {
	engine, _ := newEngine(t)
	sink := newMemSink()
	sink.files["photos/photo_3.jpg"] = []byte("old")
	sink.files["photos/photo_9.jpg"] = []byte("old")
	sink.files["photos/notes.jpg"] = []byte("old")

	s, err := New(engine, sink, zaptest.NewLogger(t).Sugar(), Options{Period: time.Minute})
	require.NoError(t, err)

	name, err := s.TakePhoto()
	require.NoError(t, err)
	assert.Equal(t, "photos/photo_10.jpg", name)
	assert.Equal(t, []byte("old"), sink.files["photos/photo_9.jpg"])
}

func TestSaveFailureDoesNotStopScheduler(t *testing.T) {
	engine, driver := newEngine(t)
	sink := newMemSink()
	sink.writeErr = errors.New("card removed")

	s, err := New(engine, sink, zaptest.NewLogger(t).Sugar(), Options{Period: time.Minute})
	require.NoError(t, err)

	s.Tick()
	assert.Equal(t, int64(1), s.Stats().SaveFailures)
	assert.Zero(t, driver.Outstanding())

	sink.writeErr = nil
	s.Tick()
	assert.Equal(t, []string{"photos/photo_1.jpg"}, sink.names)
	assert.Equal(t, int64(1), s.Stats().Saved)
}

func TestCaptureFailureIsNotStored(t *testing.T) {
	engine, _ := newEngine(t, cameratest.Null)
	sink := newMemSink()

	s, err := New(engine, sink, zaptest.NewLogger(t).Sugar(), Options{Period: time.Minute})
	require.NoError(t, err)

	_, err = s.TakePhoto()
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.Empty(t, sink.names)
	assert.Equal(t, int64(1), s.Stats().CaptureFailures)
	assert.Equal(t, 1, engine.Stats().ConsecutiveFailures)
}

func TestNewRejectsBadPeriod(t *testing.T) {
	engine, _ := newEngine(t)
	_, err := New(engine, newMemSink(), zaptest.NewLogger(t).Sugar(), Options{})
	assert.Error(t, err)
}
