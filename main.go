package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"timelapse-cam/pkg/api"
	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/camera/v4l2cam"
	"timelapse-cam/pkg/clock"
	"timelapse-cam/pkg/config"
	"timelapse-cam/pkg/schedule"
	"timelapse-cam/pkg/storage"
	"timelapse-cam/pkg/utils"
	"timelapse-cam/pkg/watchdog"
	"timelapse-cam/pkg/webdav"
)

var (
	configFile = flag.String("config", "", "config file (default ./"+config.DefaultFileName+" if present)")
	webdavPort = flag.Int("webdav-port", 0, "webdav port, overrides the config")
	port       = flag.Int("port", 0, "ui port, overrides the config")
	storageDir = flag.String("dir", "", "storage root, overrides the config")
	staticsDir = flag.String("statics", "", "ui statics directory, overrides the config")
	device     = flag.String("device", "", "video device, overrides the config")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := utils.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger.Infof("config loaded from %s", cfg.Source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init storage
	stg, err := storage.New(cfg.Storage.Root, logger, storage.WithMinFreeBytes(cfg.Storage.MinFreeBytes))
	if err != nil {
		logger.Fatal(err)
	}
	go stg.Monitor(ctx, cfg.Storage.HealthInterval.Std())

	var clk clock.Clock = clock.Real{}
	if cfg.NTP.Enabled {
		ntpClock := clock.NewNTP(cfg.NTP.Server, logger)
		go ntpClock.Run(ctx, cfg.NTP.Interval.Std())
		clk = ntpClock
	}

	// init camera
	driver := v4l2cam.New(ctx, logger)
	conf := camera.NewConfigurator(driver, cfg.Camera.Board, logger,
		camera.WithSettleDelay(cfg.Camera.SettleDelay.Std()),
	)
	engine := camera.NewEngine(conf, cfg.Camera.Settings(), logger)
	info, err := engine.Init()
	if err != nil {
		// the configurator already asked for a restart
		logger.Fatal(err)
	}
	logger.Infof("camera ready: %s", info)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error(err)
		}
	}()

	// settings changes and captures never overlap
	var captureLock sync.Mutex

	var sched *schedule.Scheduler
	if cfg.Timelapse.Enabled {
		opts := schedule.Options{
			Period: cfg.Timelapse.Period.Std(),
			Dir:    cfg.Timelapse.Dir,
			Prefix: cfg.Timelapse.Prefix,
			Suffix: cfg.Timelapse.Suffix,
			Clock:  clk,
			Lock:   &captureLock,
		}
		if t := cfg.Watchdog.Timeout.Std(); t > 0 {
			wd := watchdog.New(t, func() {
				logger.Fatalf("watchdog: no timelapse tick for %s, restarting", t)
			})
			defer wd.Stop()
			opts.Watchdog = wd
		}
		sched, err = schedule.New(engine, stg, logger, opts)
		if err != nil {
			logger.Fatal(err)
		}
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error(err)
			}
		}()
	}

	dav := webdav.New(ctx, cfg.Server.WebdavPort, stg.Root(), logger)
	defer dav.Stop()

	// init gin
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	if cfg.Server.StaticsDir != "" {
		if err := registerStaticsDir(r, cfg.Server.StaticsDir, "/"); err != nil {
			logger.Fatal(err)
		}
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})
	api.New(engine, stg, logger, api.Options{
		Lock:      &captureLock,
		PhotoDir:  cfg.Timelapse.Dir,
		Scheduler: sched,
		Webdav:    dav,
	}).Register(r)

	utils.ListenAndServe(ctx, r, cfg.Server.Port, logger)
	cancel()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return cfg, err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *webdavPort != 0 {
		cfg.Server.WebdavPort = *webdavPort
	}
	if *storageDir != "" {
		cfg.Storage.Root = *storageDir
	}
	if *staticsDir != "" {
		cfg.Server.StaticsDir = *staticsDir
	}
	if *device != "" {
		cfg.Camera.Board.Device = *device
	}

	return cfg, cfg.Validate()
}

func registerStaticsDir(group gin.IRoutes, dir, relativeGroup string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the specified directory %s does not exist", dir)
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	group.StaticFile(relativeGroup, filepath.Join(dir, "index.html"))
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			relativePath := path.Join(relativeGroup, strings.Replace(filepath.ToSlash(p), dir, "", 1))
			group.StaticFile(relativePath, p)
		}
		return nil
	})
}

