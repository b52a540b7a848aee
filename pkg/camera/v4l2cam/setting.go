package v4l2cam

import (
	"github.com/vladimirvivien/go4vl/v4l2"

	"timelapse-cam/pkg/camera"
)

// CtrlJPEGCompressionQuality is V4L2_CID_JPEG_COMPRESSION_QUALITY.
const CtrlJPEGCompressionQuality v4l2.CtrlID = 10291459

// JPEGCompressionQuality converts a sensor quality (1 best, 63 worst) into the
// V4L2 compression quality (100 best, 1 worst).
func JPEGCompressionQuality(quality int) v4l2.CtrlValue {
	switch {
	case quality < camera.MinQuality:
		quality = camera.MinQuality
	case quality > camera.MaxQuality:
		quality = camera.MaxQuality
	}

	return v4l2.CtrlValue(100 - (quality-camera.MinQuality)*99/(camera.MaxQuality-camera.MinQuality))
}

func controlsFor(cfg camera.HardwareConfig) map[v4l2.CtrlID]v4l2.CtrlValue {
	return map[v4l2.CtrlID]v4l2.CtrlValue{
		CtrlJPEGCompressionQuality: JPEGCompressionQuality(cfg.Quality),
	}
}
