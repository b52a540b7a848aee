// Package v4l2cam drives a V4L2 capture device through go4vl.
package v4l2cam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"timelapse-cam/pkg/camera"
)

var (
	StartedErr    = errors.New("already started")
	NotStartedErr = errors.New("camera not started")
)

var _ camera.Driver = (*Driver)(nil)

// Driver implements camera.Driver on top of a V4L2 capture device.
type Driver struct {
	ctx    context.Context
	logger *zap.SugaredLogger

	lock   sync.Mutex
	cancel context.CancelFunc
	camera *device.Device
	output <-chan []byte

	outstanding int
	seq         int
}

func New(ctx context.Context, logger *zap.SugaredLogger) *Driver {
	return &Driver{ctx: ctx, logger: logger}
}

func (d *Driver) Start(cfg camera.HardwareConfig) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.camera != nil {
		return StartedErr
	}
	d.logger.Infof("start camera %s in %d*%d", cfg.Device, cfg.Width(), cfg.Height())

	dev, err := device.Open(
		cfg.Device,
		device.WithBufferSize(uint32(cfg.BufferCount)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: pixelFormat(cfg.PixelFormat),
			Width:       uint32(cfg.Width()),
			Height:      uint32(cfg.Height()),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	newCtx, cancel := context.WithCancel(d.ctx)
	if err = dev.Start(newCtx); err != nil {
		cancel()
		_ = dev.Close()
		return fmt.Errorf("start stream: %w", err)
	}
	d.camera = dev
	d.cancel = cancel
	d.output = dev.GetOutput()
	d.outstanding = 0

	d.applyControls(cfg)

	return nil
}

func (d *Driver) Stop() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.cancel != nil {
		// let the stream goroutine reach ctx.Done and stop the device before Close
		d.cancel()
		time.Sleep(100 * time.Millisecond)
		d.cancel = nil
	}
	d.output = nil
	if d.camera != nil {
		err := d.camera.Close()
		d.camera = nil
		return err
	}

	return nil
}

// AcquireFrame waits for the next frame of the stream.
func (d *Driver) AcquireFrame() *camera.Frame {
	d.lock.Lock()
	output := d.output
	d.lock.Unlock()
	if output == nil {
		return nil
	}

	data, ok := <-output
	if !ok {
		d.logger.Warn("camera stream closed")
		return nil
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.seq++
	d.outstanding++

	// go4vl reuses its mmap buffers once the frame is dequeued again
	return &camera.Frame{Index: d.seq, Data: append([]byte(nil), data...)}
}

func (d *Driver) ReleaseFrame(f *camera.Frame) {
	if f == nil {
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.outstanding > 0 {
		d.outstanding--
	}
	f.Data = nil
}

func (d *Driver) Info() (*camera.SensorInfo, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.camera == nil {
		return nil, NotStartedErr
	}

	capability := d.camera.Capability()
	info := &camera.SensorInfo{
		Vendor: capability.Driver,
		Model:  capability.Card,
		Bus:    capability.BusInfo,
	}

	sizes, err := v4l2.GetAllFormatFrameSizes(d.camera.Fd())
	if err != nil {
		return info, nil
	}
	for _, size := range sizes {
		if size.PixelFormat != v4l2.PixelFmtJPEG && size.PixelFormat != v4l2.PixelFmtMJPEG {
			continue
		}
		info.SupportsJPEG = true
		if w := int(size.Size.MaxWidth); w > info.MaxWidth {
			info.MaxWidth = w
			info.MaxHeight = int(size.Size.MaxHeight)
		}
	}

	return info, nil
}

func (d *Driver) applyControls(cfg camera.HardwareConfig) {
	for id, value := range controlsFor(cfg) {
		if err := d.camera.SetControlValue(id, value); err != nil {
			d.logger.Warnf("set ctrl(%d) to %d, err: %s", id, value, err)
		}
	}
}

func pixelFormat(f camera.PixelFormat) v4l2.FourCCType {
	if f == camera.PixelFormatMJPEG {
		return v4l2.PixelFmtMJPEG
	}
	return v4l2.PixelFmtJPEG
}
