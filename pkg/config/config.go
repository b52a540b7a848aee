package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap/zapcore"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/storage/consts"
)

const DefaultFileName = "timelapse.json"

const MinPeriod = time.Second

// Duration reads "90s" style strings or integer nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or an integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

type Config struct {
	Camera    CameraConfig    `json:"camera"`
	Timelapse TimelapseConfig `json:"timelapse"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	NTP       NTPConfig       `json:"ntp"`
	Watchdog  WatchdogConfig  `json:"watchdog"`
	Log       LogConfig       `json:"log"`

	// Source is the file the config was read from, or "<defaults>".
	Source string `json:"-"`
}

type CameraConfig struct {
	Board       camera.Board     `json:"board"`
	Quality     int              `json:"quality"`
	FrameSize   camera.FrameSize `json:"frameSize"`
	SettleDelay Duration         `json:"settleDelay"`
}

func (c CameraConfig) Settings() camera.Settings {
	return camera.Settings{Quality: c.Quality, FrameSize: c.FrameSize}
}

type TimelapseConfig struct {
	Enabled bool     `json:"enabled"`
	Period  Duration `json:"period"`
	Dir     string   `json:"dir"`
	Prefix  string   `json:"prefix"`
	Suffix  string   `json:"suffix"`
}

type StorageConfig struct {
	Root           string   `json:"root"`
	MinFreeBytes   uint64   `json:"minFreeBytes"`
	HealthInterval Duration `json:"healthInterval"`
}

type ServerConfig struct {
	Port       int    `json:"port"`
	WebdavPort int    `json:"webdavPort"`
	StaticsDir string `json:"staticsDir"`
}

type NTPConfig struct {
	Enabled  bool     `json:"enabled"`
	Server   string   `json:"server"`
	Interval Duration `json:"interval"`
}

// WatchdogConfig bounds the time between two timelapse ticks. Zero disables it.
type WatchdogConfig struct {
	Timeout Duration `json:"timeout"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Camera: CameraConfig{
			Board:       camera.DefaultBoard(),
			Quality:     camera.DefaultQuality,
			FrameSize:   camera.DefaultFrameSize,
			SettleDelay: Duration(camera.DefaultSettleDelay),
		},
		Timelapse: TimelapseConfig{
			Enabled: true,
			Period:  Duration(time.Minute),
			Dir:     consts.DefaultPhotoDir,
			Prefix:  consts.DefaultPhotoPrefix,
			Suffix:  consts.DefaultImageExt,
		},
		Storage: StorageConfig{
			Root:           "./timelapse-cam",
			MinFreeBytes:   consts.DefaultMinFreeBytes,
			HealthInterval: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Port:       9999,
			WebdavPort: 9998,
		},
		NTP: NTPConfig{
			Enabled:  true,
			Server:   "pool.ntp.org",
			Interval: Duration(time.Hour),
		},
		Watchdog: WatchdogConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level: "info",
		},
		Source: "<defaults>",
	}
}

// Load reads the config file over the defaults. An empty path tries
// DefaultFileName and tolerates it missing.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file %q: %w", candidate, err)
	}
	if err = json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", candidate, err)
	}
	cfg.Source = candidate

	if err = cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	hw := camera.ApplyConfig(c.Camera.Board, c.Camera.Settings())
	if err := hw.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if !c.Camera.FrameSize.Valid() {
		return fmt.Errorf("camera: unknown frame size %d", c.Camera.FrameSize)
	}
	if c.Camera.SettleDelay < 0 {
		return errors.New("camera.settleDelay must not be negative")
	}

	if c.Timelapse.Period.Std() < MinPeriod {
		return fmt.Errorf("timelapse.period %s less than %s", c.Timelapse.Period.Std(), MinPeriod)
	}
	if strings.TrimSpace(c.Timelapse.Dir) == "" {
		return errors.New("timelapse.dir must not be empty")
	}
	if c.Timelapse.Suffix != consts.DefaultImageExt {
		return fmt.Errorf("timelapse.suffix %q unsupported, photos are stored as %s", c.Timelapse.Suffix, consts.DefaultImageExt)
	}
	if strings.Contains(c.Timelapse.Prefix, "/") {
		return fmt.Errorf("timelapse.prefix %q must not contain '/'", c.Timelapse.Prefix)
	}

	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("storage.root must not be empty")
	}
	if c.Storage.HealthInterval <= 0 {
		return errors.New("storage.healthInterval must be positive")
	}

	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("server.webdavPort", c.Server.WebdavPort); err != nil {
		return err
	}
	if c.Server.Port == c.Server.WebdavPort {
		return fmt.Errorf("server.port and server.webdavPort are both %d", c.Server.Port)
	}

	if c.NTP.Enabled {
		if strings.TrimSpace(c.NTP.Server) == "" {
			return errors.New("ntp.server must not be empty")
		}
		if c.NTP.Interval <= 0 {
			return errors.New("ntp.interval must be positive")
		}
	}

	if t := c.Watchdog.Timeout.Std(); t < 0 {
		return errors.New("watchdog.timeout must not be negative")
	} else if t > 0 && t <= c.Timelapse.Period.Std() {
		return fmt.Errorf("watchdog.timeout %s must exceed timelapse.period %s", t, c.Timelapse.Period.Std())
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
