package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/goccy/go-json"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/camera/v4l2cam"
	"timelapse-cam/pkg/utils"
)

func main() {
	board := camera.DefaultBoard()
	flag.StringVar(&board.Device, "d", board.Device, "device name (path)")
	size := flag.Int("size", int(camera.FrameSizeQVGA), "frame size 0 (QVGA) .. 6 (UXGA)")
	flag.Parse()

	logger, err := utils.NewLogger("warn")
	if err != nil {
		log.Fatal(err)
	}
	conf := camera.NewConfigurator(v4l2cam.New(context.Background(), logger), board, logger)
	info, err := conf.Start(conf.ApplyConfig(camera.Settings{
		Quality:   camera.DefaultQuality,
		FrameSize: camera.FrameSize(*size),
	}))
	if err != nil {
		log.Fatalf("failed to start camera: %s", err)
	}
	defer conf.Stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(struct {
		camera.SensorInfo
		Config camera.HardwareConfig `json:"config"`
	}{info, conf.Config()}); err != nil {
		log.Fatal(err)
	}
}
