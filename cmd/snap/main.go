package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/camera/v4l2cam"
	"timelapse-cam/pkg/storage/consts"
	"timelapse-cam/pkg/utils"
)

func main() {
	board := camera.DefaultBoard()
	flag.StringVar(&board.Device, "d", board.Device, "device name (path)")
	out := flag.String("o", "snap"+consts.DefaultImageExt, "output file")
	quality := flag.Int("q", camera.DefaultQuality, "jpeg quality 1 (best) .. 63")
	size := flag.Int("size", int(camera.DefaultFrameSize), "frame size 0 (QVGA) .. 6 (UXGA)")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	logger, err := utils.NewLogger(*level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	settings := camera.Settings{Quality: *quality, FrameSize: camera.FrameSize(*size)}
	if err := settings.Validate(); err != nil {
		logger.Fatal(err)
	}
	conf := camera.NewConfigurator(v4l2cam.New(context.Background(), logger), board, logger)
	engine := camera.NewEngine(conf, settings, logger)
	if _, err := engine.Init(); err != nil {
		logger.Fatal(err)
	}
	defer engine.Close()

	res := engine.Capture()
	if !res.Success {
		logger.Fatalf("capture failed after %d attempt(s), reinitialized: %t", res.Attempts, res.Reinitialized)
	}
	photo, _ := engine.Photo()
	engine.ReturnBuffer()

	if err := os.WriteFile(*out, photo, consts.DefaultFilePerm); err != nil {
		logger.Fatal(err)
	}
	logger.Infof("saved %s (%s, %dx%d)", *out, humanize.Bytes(uint64(len(photo))), engine.Width(), engine.Height())
}
