package types

import (
	"time"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/schedule"
	"timelapse-cam/pkg/utils/ps"
)

type CameraStatus struct {
	Info     camera.SensorInfo `json:"info"`
	Settings camera.Settings   `json:"settings"`
	Size     string            `json:"size"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	State    string            `json:"state"`
	Busy     bool              `json:"busy"`
	Stats    camera.Stats      `json:"stats"`
	Schedule *ScheduleStatus   `json:"schedule,omitempty"`
}

type ScheduleStatus struct {
	Period string         `json:"period"`
	Dir    string         `json:"dir"`
	Stats  schedule.Stats `json:"stats"`
}

type DeviceStatus struct {
	CPU            ps.CPU    `json:"cpu"`
	Memory         ps.Memory `json:"memory"`
	Disk           ps.Disk   `json:"disk"`
	StorageHealthy bool      `json:"storageHealthy"`
	StorageUsed    string    `json:"storageUsed"`
}

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}

type VideoResult struct {
	Name    string `json:"name"`
	Size    string `json:"size"`
	Frames  int    `json:"frames"`
	Skipped int    `json:"skipped"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
}
