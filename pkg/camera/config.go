package camera

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultDevice  = "/dev/video0"
	DefaultQuality = 10
	DefaultXCLKHz  = 20000000

	MinQuality = 1
	MaxQuality = 63

	DefaultBufferCount = 2
	DefaultSettleDelay = 100 * time.Millisecond
)

var ErrInvalidConfig = errors.New("invalid camera config")

type FrameSize uint8

const (
	FrameSizeQVGA FrameSize = iota
	FrameSizeCIF
	FrameSizeVGA
	FrameSizeSVGA
	FrameSizeXGA
	FrameSizeSXGA
	FrameSizeUXGA
)

const DefaultFrameSize = FrameSizeVGA

var frameSizes = [...]struct {
	name          string
	width, height int
}{
	FrameSizeQVGA: {"QVGA", 320, 240},
	FrameSizeCIF:  {"CIF", 352, 288},
	FrameSizeVGA:  {"VGA", 640, 480},
	FrameSizeSVGA: {"SVGA", 800, 600},
	FrameSizeXGA:  {"XGA", 1024, 768},
	FrameSizeSXGA: {"SXGA", 1280, 1024},
	FrameSizeUXGA: {"UXGA", 1600, 1200},
}

func (f FrameSize) Valid() bool {
	return int(f) < len(frameSizes)
}

// normalize maps unknown sizes to QVGA.
func (f FrameSize) normalize() FrameSize {
	if !f.Valid() {
		return FrameSizeQVGA
	}
	return f
}

func (f FrameSize) Width() int  { return frameSizes[f.normalize()].width }
func (f FrameSize) Height() int { return frameSizes[f.normalize()].height }

func (f FrameSize) String() string {
	if !f.Valid() {
		return fmt.Sprintf("FrameSize(%d)", uint8(f))
	}
	return frameSizes[f].name
}

type PixelFormat string

const (
	PixelFormatJPEG  PixelFormat = "JPEG"
	PixelFormatMJPEG PixelFormat = "MJPEG"
)

type BufferLocation string

const (
	BufferInPSRAM BufferLocation = "psram"
	BufferInDRAM  BufferLocation = "dram"
)

// Pins is the sensor wiring. A negative value means the line is not connected.
type Pins struct {
	D0    int `json:"d0"`
	D1    int `json:"d1"`
	D2    int `json:"d2"`
	D3    int `json:"d3"`
	D4    int `json:"d4"`
	D5    int `json:"d5"`
	D6    int `json:"d6"`
	D7    int `json:"d7"`
	XCLK  int `json:"xclk"`
	PCLK  int `json:"pclk"`
	VSYNC int `json:"vsync"`
	HREF  int `json:"href"`
	SDA   int `json:"sda"`
	SCL   int `json:"scl"`
	PWDN  int `json:"pwdn"`
	Reset int `json:"reset"`
}

// DefaultPins is the AI-Thinker style wiring.
var DefaultPins = Pins{
	D0: 5, D1: 18, D2: 19, D3: 21, D4: 36, D5: 39, D6: 34, D7: 35,
	XCLK: 0, PCLK: 22, VSYNC: 25, HREF: 23,
	SDA: 26, SCL: 27,
	PWDN: 32, Reset: -1,
}

func (p Pins) validate() error {
	named := []struct {
		name string
		pin  int
	}{
		{"d0", p.D0}, {"d1", p.D1}, {"d2", p.D2}, {"d3", p.D3},
		{"d4", p.D4}, {"d5", p.D5}, {"d6", p.D6}, {"d7", p.D7},
		{"xclk", p.XCLK}, {"pclk", p.PCLK}, {"vsync", p.VSYNC}, {"href", p.HREF},
		{"sda", p.SDA}, {"scl", p.SCL}, {"pwdn", p.PWDN}, {"reset", p.Reset},
	}
	used := make(map[int]string, len(named))
	for _, n := range named {
		if n.pin < 0 {
			continue
		}
		if other, ok := used[n.pin]; ok {
			return fmt.Errorf("%w: pin %d assigned to both %s and %s", ErrInvalidConfig, n.pin, other, n.name)
		}
		used[n.pin] = n.name
	}
	return nil
}

// Board holds the fixed part of the hardware configuration.
type Board struct {
	Device         string         `json:"device"`
	Pins           Pins           `json:"pins"`
	XCLKHz         int            `json:"xclkHz"`
	PixelFormat    PixelFormat    `json:"pixelFormat"`
	BufferLocation BufferLocation `json:"bufferLocation"`
	BufferCount    int            `json:"bufferCount"`
}

func DefaultBoard() Board {
	return Board{
		Device:         DefaultDevice,
		Pins:           DefaultPins,
		XCLKHz:         DefaultXCLKHz,
		PixelFormat:    PixelFormatJPEG,
		BufferLocation: BufferInPSRAM,
		BufferCount:    DefaultBufferCount,
	}
}

// Settings are the runtime-mutable parts of the configuration.
type Settings struct {
	Quality   int       `json:"quality"`
	FrameSize FrameSize `json:"frameSize"`
}

func DefaultSettings() Settings {
	return Settings{Quality: DefaultQuality, FrameSize: DefaultFrameSize}
}

func (s Settings) Validate() error {
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d out of range [%d, %d]", ErrInvalidConfig, s.Quality, MinQuality, MaxQuality)
	}
	if !s.FrameSize.Valid() {
		return fmt.Errorf("%w: unknown frame size %d", ErrInvalidConfig, s.FrameSize)
	}
	return nil
}

// HardwareConfig is the complete configuration handed to the driver. It is a
// value: a reinitialization builds a new one instead of mutating the old.
type HardwareConfig struct {
	Board
	FrameSize FrameSize
	Quality   int
}

func (c HardwareConfig) Width() int  { return c.FrameSize.Width() }
func (c HardwareConfig) Height() int { return c.FrameSize.Height() }

func (c HardwareConfig) Settings() Settings {
	return Settings{Quality: c.Quality, FrameSize: c.FrameSize}
}

func (c HardwareConfig) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("%w: device can not be empty", ErrInvalidConfig)
	}
	if c.BufferCount < 1 {
		return fmt.Errorf("%w: buffer count %d less than 1", ErrInvalidConfig, c.BufferCount)
	}
	if c.XCLKHz <= 0 {
		return fmt.Errorf("%w: xclk %d", ErrInvalidConfig, c.XCLKHz)
	}
	switch c.PixelFormat {
	case PixelFormatJPEG, PixelFormatMJPEG:
	default:
		return fmt.Errorf("%w: unsupported pixel format %q", ErrInvalidConfig, c.PixelFormat)
	}
	if err := c.Pins.validate(); err != nil {
		return err
	}
	return c.Settings().Validate()
}

// ApplyConfig builds the hardware configuration from the fixed board
// description and the current settings. It does no I/O.
func ApplyConfig(board Board, settings Settings) HardwareConfig {
	return HardwareConfig{
		Board:     board,
		FrameSize: settings.FrameSize.normalize(),
		Quality:   settings.Quality,
	}
}
