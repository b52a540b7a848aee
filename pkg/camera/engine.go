package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	MaxCaptureAttempts = 5
	// MinFrameLen is the smallest frame length, exclusive, accepted as a
	// complete JPEG. Shorter frames are truncated reads.
	MinFrameLen = 100
)

const (
	StateIdle           = "idle"
	StateAcquiring      = "acquiring"
	StateValidating     = "validating"
	StateSuccess        = "success"
	StateRetrying       = "retrying"
	StateReinitializing = "reinitializing"
)

const (
	eventAcquire  = "acquire"
	eventValidate = "validate"
	eventAccept   = "accept"
	eventReject   = "reject"
	eventExhaust  = "exhaust"
	eventAbort    = "abort"
	eventFinish   = "finish"
)

type CaptureResult struct {
	Success bool
	// Attempts counts frames that reached validation.
	Attempts      int
	Reinitialized bool
	Session       string
}

type Stats struct {
	Captures            int64 `json:"captures"`
	Successes           int64 `json:"successes"`
	ConsecutiveFailures int   `json:"consecutiveFailures"`
	NullFrames          int64 `json:"nullFrames"`
	UndersizedFrames    int64 `json:"undersizedFrames"`
	StaleFlushes        int64 `json:"staleFlushes"`
	GuardFailures       int64 `json:"guardFailures"`
	Reinitializations   int64 `json:"reinitializations"`
}

// Engine takes photos through the configured driver. Every access to the
// current frame buffer happens while holding the guard.
//
// SetQuality and SetFrameSize reinitialize the sensor without taking the
// guard. Callers must not change settings while a capture is running.
type Engine struct {
	conf   *Configurator
	driver Driver
	guard  *Guard
	logger *zap.SugaredLogger

	maxAttempts int
	minFrameLen int

	settingsLock sync.Mutex
	settings     Settings

	guardFailures atomic.Int64

	// guarded
	fb          *FrameBuffer
	lastSuccess bool
	state       *fsm.FSM
	stats       Stats
}

func NewEngine(conf *Configurator, settings Settings, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		conf:        conf,
		driver:      conf.driver,
		guard:       NewGuard(),
		logger:      logger,
		maxAttempts: MaxCaptureAttempts,
		minFrameLen: MinFrameLen,
		settings:    settings,
	}
	e.state = newCaptureFSM(logger)

	return e
}

func newCaptureFSM(logger *zap.SugaredLogger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventAcquire, Src: []string{StateIdle, StateRetrying}, Dst: StateAcquiring},
			{Name: eventValidate, Src: []string{StateAcquiring}, Dst: StateValidating},
			{Name: eventAccept, Src: []string{StateValidating}, Dst: StateSuccess},
			{Name: eventReject, Src: []string{StateValidating}, Dst: StateRetrying},
			{Name: eventExhaust, Src: []string{StateRetrying}, Dst: StateReinitializing},
			{Name: eventAbort, Src: []string{StateAcquiring}, Dst: StateIdle},
			{Name: eventFinish, Src: []string{StateSuccess, StateReinitializing}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("capture: %s -> %s", e.Src, e.Dst)
			},
		},
	)
}

// Init configures and starts the sensor with the current settings.
func (e *Engine) Init() (SensorInfo, error) {
	return e.conf.Start(e.conf.ApplyConfig(e.Settings()))
}

func (e *Engine) Capture() CaptureResult {
	res := CaptureResult{Session: uuid.NewString()[:8]}
	logger := e.logger.With("session", res.Session)

	if err := e.guard.Acquire(); err != nil {
		e.guardFailures.Add(1)
		logger.Errorf("failed to take frame buffer guard: %s", err)
		return res
	}
	defer e.guard.Release()

	e.lastSuccess = false
	e.stats.Captures++

	if e.fb != nil {
		e.flushStale()
	}

	for res.Attempts < e.maxAttempts {
		e.transition(eventAcquire)
		logger.Debug("taking photo...")

		fb := acquireFrame(e.driver)
		if fb == nil {
			e.stats.NullFrames++
			e.stats.ConsecutiveFailures++
			logger.Warnf("camera capture failed! consecutive failures: %d", e.stats.ConsecutiveFailures)
			e.transition(eventAbort)
			return res
		}
		e.fb = fb
		res.Attempts++
		e.transition(eventValidate)

		if fb.Len() > e.minFrameLen {
			e.stats.ConsecutiveFailures = 0
			e.stats.Successes++
			res.Success = true
			e.transition(eventAccept)
			logger.Infof("photo taken: %s after %d attempt(s)", humanize.Bytes(uint64(fb.Len())), res.Attempts)
			break
		}

		e.stats.UndersizedFrames++
		logger.Debugf("frame too short (%d bytes), attempt %d/%d", fb.Len(), res.Attempts, e.maxAttempts)
		e.transition(eventReject)
		fb.Release()
		e.fb = nil

		if res.Attempts >= e.maxAttempts {
			logger.Warnf("failed to capture a valid photo after %d attempts", res.Attempts)
			e.transition(eventExhaust)
			if _, err := e.conf.Reinitialize(e.Settings()); err != nil {
				logger.Errorf("reinitialize camera err: %s", err)
			}
			res.Reinitialized = true
		}
	}
	e.transition(eventFinish)
	e.lastSuccess = res.Success

	return res
}

// flushStale returns the previous handle and drains one queued frame, which
// the driver may still hold from before the previous capture.
func (e *Engine) flushStale() {
	e.fb.Release()
	e.fb = nil
	if dummy := acquireFrame(e.driver); dummy != nil {
		dummy.Release()
	}
	e.stats.StaleFlushes++
}

func (e *Engine) transition(event string) {
	if err := e.state.Event(context.Background(), event); err != nil {
		e.logger.Warnf("capture state %s: %s", e.state.Current(), err)
	}
}

// CapturedBuffer returns the handle of the last acquired frame. It may be nil
// or already released, and only holds a photo after a successful Capture.
func (e *Engine) CapturedBuffer() *FrameBuffer {
	if err := e.guard.Acquire(); err != nil {
		return nil
	}
	defer e.guard.Release()

	return e.fb
}

// Photo copies the last successfully captured frame.
func (e *Engine) Photo() ([]byte, bool) {
	if err := e.guard.Acquire(); err != nil {
		return nil, false
	}
	defer e.guard.Release()
	if !e.lastSuccess || e.fb.Released() {
		return nil, false
	}

	return append([]byte(nil), e.fb.Bytes()...), true
}

// ReturnBuffer hands the last frame back to the driver. Consumers call it once
// they are done with the photo, before their next Capture.
func (e *Engine) ReturnBuffer() {
	if err := e.guard.Acquire(); err != nil {
		e.logger.Errorf("failed to take frame buffer guard: %s", err)
		return
	}
	defer e.guard.Release()

	e.fb.Release()
}

func (e *Engine) IsCaptureSuccessful() bool {
	if err := e.guard.Acquire(); err != nil {
		return false
	}
	defer e.guard.Release()
	return e.lastSuccess
}

// SetQuality stores the quality and reinitializes the sensor, one Stop then
// one Start. A quality outside [MinQuality, MaxQuality] returns
// ErrInvalidConfig and leaves the sensor and the settings untouched, so that
// case does no Stop/Start at all.
func (e *Engine) SetQuality(quality int) error {
	s := e.Settings()
	s.Quality = quality
	if err := s.Validate(); err != nil {
		return err
	}
	e.settingsLock.Lock()
	e.settings.Quality = quality
	e.settingsLock.Unlock()

	_, err := e.conf.Reinitialize(s)
	return err
}

// SetFrameSize accepts unknown sizes and falls back to QVGA.
func (e *Engine) SetFrameSize(size FrameSize) error {
	if !size.Valid() {
		e.logger.Warnf("invalid frame size input %d, defaulting to %s", size, FrameSizeQVGA)
		size = FrameSizeQVGA
	}
	e.settingsLock.Lock()
	e.settings.FrameSize = size
	s := e.settings
	e.settingsLock.Unlock()

	_, err := e.conf.Reinitialize(s)
	return err
}

func (e *Engine) Settings() Settings {
	e.settingsLock.Lock()
	defer e.settingsLock.Unlock()
	return e.settings
}

func (e *Engine) Quality() int         { return e.Settings().Quality }
func (e *Engine) FrameSize() FrameSize { return e.Settings().FrameSize }
func (e *Engine) Width() int           { return e.FrameSize().Width() }
func (e *Engine) Height() int          { return e.FrameSize().Height() }

func (e *Engine) Info() SensorInfo {
	return e.conf.Info()
}

func (e *Engine) Stats() Stats {
	if err := e.guard.Acquire(); err != nil {
		return Stats{GuardFailures: e.guardFailures.Load()}
	}
	defer e.guard.Release()

	s := e.stats
	s.GuardFailures = e.guardFailures.Load()
	s.Reinitializations = e.conf.Reinitializations()
	return s
}

// Busy reports whether some goroutine holds the frame buffer guard.
func (e *Engine) Busy() bool {
	return e.guard.Held()
}

func (e *Engine) State() string {
	return e.state.Current()
}

// Close returns any frame still held and stops the sensor.
func (e *Engine) Close() error {
	if err := e.guard.Acquire(); err == nil {
		e.fb.Release()
		e.fb = nil
		e.guard.Release()
	}

	return e.conf.Stop()
}
