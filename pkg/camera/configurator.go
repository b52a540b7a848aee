package camera

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RestartFunc is called when the sensor refuses to start. There is no degraded
// mode without a working sensor, so the production implementation ends the
// process and leaves the restart to the supervisor.
type RestartFunc func(err error)

type ConfiguratorOption func(*Configurator)

func WithSettleDelay(d time.Duration) ConfiguratorOption {
	return func(c *Configurator) { c.settleDelay = d }
}

func WithRestart(fn RestartFunc) ConfiguratorOption {
	return func(c *Configurator) { c.restart = fn }
}

// WithSleep replaces time.Sleep for the settle delay.
func WithSleep(fn func(time.Duration)) ConfiguratorOption {
	return func(c *Configurator) { c.sleep = fn }
}

// Configurator builds hardware configurations and starts or stops the sensor
// driver with them.
type Configurator struct {
	driver Driver
	board  Board
	logger *zap.SugaredLogger

	settleDelay time.Duration
	restart     RestartFunc
	sleep       func(time.Duration)

	lock   sync.Mutex
	active HardwareConfig
	info   SensorInfo

	reinits atomic.Int64
}

func NewConfigurator(driver Driver, board Board, logger *zap.SugaredLogger, opts ...ConfiguratorOption) *Configurator {
	c := &Configurator{
		driver:      driver,
		board:       board,
		logger:      logger,
		settleDelay: DefaultSettleDelay,
		sleep:       time.Sleep,
	}
	c.restart = func(err error) {
		c.logger.Fatalf("camera initialization failed, restarting: %s", err)
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Configurator) ApplyConfig(settings Settings) HardwareConfig {
	if !settings.FrameSize.Valid() {
		c.logger.Warnf("invalid frame size %d, defaulting to %s", settings.FrameSize, FrameSizeQVGA)
	}
	cfg := ApplyConfig(c.board, settings)
	c.logger.Infof("applying camera config: %s %s quality %d, %d buffers",
		cfg.PixelFormat, cfg.FrameSize, cfg.Quality, cfg.BufferCount)

	return cfg
}

// Start initializes the sensor. A driver failure is handed to the restart
// function and also returned, for callers running with a non-fatal restart.
// Missing sensor metadata only produces a log line and an empty SensorInfo.
func (c *Configurator) Start(cfg HardwareConfig) (SensorInfo, error) {
	c.logger.Infof("initializing camera %s", cfg.Device)
	if err := c.driver.Start(cfg); err != nil {
		c.logger.Errorf("camera initialization failed: %s", err)
		c.restart(err)
		return SensorInfo{}, err
	}

	var info SensorInfo
	if i, err := c.driver.Info(); err != nil {
		c.logger.Warnf("get camera info err: %s", err)
	} else if i == nil {
		c.logger.Warn("camera sensor info is nil")
	} else {
		info = *i
		c.logger.Infof("camera sensor: %s", info)
	}

	c.lock.Lock()
	c.active = cfg
	c.info = info
	c.lock.Unlock()

	return info, nil
}

// Stop releases the driver. Errors are logged and returned but callers are
// free to start again regardless.
func (c *Configurator) Stop() error {
	err := c.driver.Stop()
	if err != nil {
		c.logger.Warnf("error while deinitializing camera: %s", err)
	}

	return err
}

func (c *Configurator) Reinitialize(settings Settings) (SensorInfo, error) {
	c.logger.Info("reinitializing camera module")
	c.reinits.Add(1)

	_ = c.Stop()
	c.sleep(c.settleDelay)
	info, err := c.Start(c.ApplyConfig(settings))
	if err != nil {
		return info, err
	}
	c.logger.Info("camera module reinitialized")

	return info, nil
}

// Config returns the last configuration the driver accepted.
func (c *Configurator) Config() HardwareConfig {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.active
}

func (c *Configurator) Info() SensorInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.info
}

func (c *Configurator) Reinitializations() int64 {
	return c.reinits.Load()
}
