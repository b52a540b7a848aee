package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameSize(t *testing.T) {
	tests := []struct {
		size          FrameSize
		name          string
		width, height int
	}{
		{FrameSizeQVGA, "QVGA", 320, 240},
		{FrameSizeCIF, "CIF", 352, 288},
		{FrameSizeVGA, "VGA", 640, 480},
		{FrameSizeSVGA, "SVGA", 800, 600},
		{FrameSizeXGA, "XGA", 1024, 768},
		{FrameSizeSXGA, "SXGA", 1280, 1024},
		{FrameSizeUXGA, "UXGA", 1600, 1200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.size.String())
		assert.Equal(t, tt.width, tt.size.Width())
		assert.Equal(t, tt.height, tt.size.Height())
	}

	unknown := FrameSize(7)
	assert.False(t, unknown.Valid())
	assert.Equal(t, 320, unknown.Width())
	assert.Equal(t, 240, unknown.Height())
	assert.Equal(t, FrameSizeQVGA, ApplyConfig(DefaultBoard(), Settings{Quality: 10, FrameSize: unknown}).FrameSize)
}

func TestHardwareConfigValidate(t *testing.T) {
	valid := ApplyConfig(DefaultBoard(), DefaultSettings())
	assert.NoError(t, valid.Validate())

	tests := map[string]func(c *HardwareConfig){
		"quality too low":  func(c *HardwareConfig) { c.Quality = 0 },
		"quality too high": func(c *HardwareConfig) { c.Quality = 64 },
		"no buffers":       func(c *HardwareConfig) { c.BufferCount = 0 },
		"no device":        func(c *HardwareConfig) { c.Device = "" },
		"pixel format":     func(c *HardwareConfig) { c.PixelFormat = "RGB565" },
		"shared pin":       func(c *HardwareConfig) { c.Pins.PCLK = c.Pins.D0 },
	}
	for name, mutate := range tests {
		c := valid
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, name)
	}
}

func TestApplyConfigIsAValue(t *testing.T) {
	board := DefaultBoard()
	a := ApplyConfig(board, Settings{Quality: 10, FrameSize: FrameSizeVGA})
	b := ApplyConfig(board, Settings{Quality: 30, FrameSize: FrameSizeUXGA})

	assert.Equal(t, 10, a.Quality)
	assert.Equal(t, FrameSizeVGA, a.FrameSize)
	assert.Equal(t, 30, b.Quality)
	assert.Equal(t, 1600, b.Width())
}
