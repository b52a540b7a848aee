package v4l2cam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vladimirvivien/go4vl/v4l2"

	"timelapse-cam/pkg/camera"
)

func TestJPEGCompressionQuality(t *testing.T) {
	assert.Equal(t, v4l2.CtrlValue(100), JPEGCompressionQuality(1))
	assert.Equal(t, v4l2.CtrlValue(1), JPEGCompressionQuality(63))
	assert.Equal(t, v4l2.CtrlValue(100), JPEGCompressionQuality(-3))
	assert.Equal(t, v4l2.CtrlValue(1), JPEGCompressionQuality(90))
	assert.Greater(t, JPEGCompressionQuality(10), JPEGCompressionQuality(11))
}

func TestControlsFor(t *testing.T) {
	cfg := camera.ApplyConfig(camera.DefaultBoard(), camera.Settings{Quality: 1, FrameSize: camera.FrameSizeVGA})
	ctrls := controlsFor(cfg)
	assert.Equal(t, v4l2.CtrlValue(100), ctrls[CtrlJPEGCompressionQuality])
}

func TestPixelFormat(t *testing.T) {
	assert.Equal(t, v4l2.PixelFmtJPEG, pixelFormat(camera.PixelFormatJPEG))
	assert.Equal(t, v4l2.PixelFmtMJPEG, pixelFormat(camera.PixelFormatMJPEG))
}
