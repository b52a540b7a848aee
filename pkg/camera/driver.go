package camera

import (
	"fmt"
	"sync"
)

// Driver is the boundary to the sensor hardware. Implementations own the frame
// memory: a Frame obtained from AcquireFrame stays valid until it is handed
// back through ReleaseFrame.
type Driver interface {
	Start(cfg HardwareConfig) error
	Stop() error
	// AcquireFrame returns nil when the driver could not produce a frame.
	AcquireFrame() *Frame
	ReleaseFrame(f *Frame)
	Info() (*SensorInfo, error)
}

// Frame is a driver owned block of memory holding one image.
type Frame struct {
	Index int
	Data  []byte
}

// SensorInfo is read once after every (re)initialization, for diagnostics only.
type SensorInfo struct {
	Vendor       string `json:"vendor"`
	Model        string `json:"model"`
	Bus          string `json:"bus,omitempty"`
	MaxWidth     int    `json:"maxWidth"`
	MaxHeight    int    `json:"maxHeight"`
	SupportsJPEG bool   `json:"supportsJpeg"`
}

func (i SensorInfo) String() string {
	return fmt.Sprintf("%s %s (max %dx%d, jpeg: %t)", i.Vendor, i.Model, i.MaxWidth, i.MaxHeight, i.SupportsJPEG)
}

// FrameBuffer is a scoped handle on a driver frame. Release hands the frame
// back to the driver; it is safe to call more than once, the driver sees
// exactly one ReleaseFrame.
type FrameBuffer struct {
	frame  *Frame
	driver Driver

	once     sync.Once
	released bool
}

func acquireFrame(d Driver) *FrameBuffer {
	f := d.AcquireFrame()
	if f == nil {
		return nil
	}
	return &FrameBuffer{frame: f, driver: d}
}

func (b *FrameBuffer) Len() int {
	if b == nil || b.released {
		return 0
	}
	return len(b.frame.Data)
}

// Bytes is only meaningful until Release.
func (b *FrameBuffer) Bytes() []byte {
	if b == nil || b.released {
		return nil
	}
	return b.frame.Data
}

func (b *FrameBuffer) Released() bool {
	return b == nil || b.released
}

func (b *FrameBuffer) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		b.released = true
		b.driver.ReleaseFrame(b.frame)
	})
}
