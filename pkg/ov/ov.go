package ov

// Settings changes the camera settings. Missing fields keep their value.
type Settings struct {
	Quality   *int `json:"quality"`
	FrameSize *int `json:"frameSize"`
}

type Video struct {
	FPS int `json:"fps" binding:"omitempty,min=1,max=60"`
}
