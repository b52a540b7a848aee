package video

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/icza/mjpeg"
)

var ErrNoFrames = errors.New("no photos to export")

type Builder struct {
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid video size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %d", fps)
	}
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) Count() int {
	return b.cnt
}

// Photos is the read side of the photo store.
type Photos interface {
	List(dir string) ([]string, error)
	Read(name string) ([]byte, error)
}

type Result struct {
	Frames  int `json:"frames"`
	Skipped int `json:"skipped"`
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
}

// Export writes every photo of dir, in capture order, into an MJPEG AVI at
// out. The video takes the size of the first photo and photos of another size
// are skipped.
func Export(photos Photos, dir, out string, fps int) (*Result, error) {
	names, err := photos.List(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoFrames
	}

	var (
		b   *Builder
		res = &Result{FPS: fps}
	)
	for _, name := range names {
		frame, err := photos.Read(name)
		if err != nil {
			res.Skipped++
			continue
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
		if err != nil {
			res.Skipped++
			continue
		}
		if b == nil {
			if b, err = NewBuilder(out, cfg.Width, cfg.Height, fps); err != nil {
				return nil, err
			}
			res.Width, res.Height = cfg.Width, cfg.Height
		}
		if cfg.Width != res.Width || cfg.Height != res.Height {
			res.Skipped++
			continue
		}
		if err = b.Add(frame); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
	}
	if b == nil {
		return nil, ErrNoFrames
	}
	res.Frames = b.Count()

	return res, b.Close()
}
