package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"timelapse-cam/pkg/storage/consts"
	"timelapse-cam/pkg/storage/util"
	"timelapse-cam/pkg/utils/ps"
)

var (
	ErrUnhealthy = errors.New("storage is unhealthy")
	ErrBadName   = errors.New("invalid file name")
)

type Option func(*Store)

func WithMinFreeBytes(n uint64) Option {
	return func(s *Store) { s.minFree = n }
}

// WithDiskFree replaces the free space probe.
func WithDiskFree(fn func(path string) (uint64, error)) Option {
	return func(s *Store) { s.diskFree = fn }
}

// Store keeps photos under a root directory.
type Store struct {
	root    string
	minFree uint64
	logger  *zap.SugaredLogger

	diskFree func(path string) (uint64, error)
	healthy  atomic.Bool

	lock sync.Mutex
}

func New(root string, logger *zap.SugaredLogger, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root can not be empty")
	}
	s := &Store{
		root:     root,
		minFree:  consts.DefaultMinFreeBytes,
		logger:   logger,
		diskFree: ps.DiskFree,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := util.MkdirAll(root); err != nil {
		return nil, err
	}
	if err := s.checkInitInfo(); err != nil {
		return nil, err
	}
	s.CheckHealth()

	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Healthy() bool {
	return s.healthy.Load()
}

// CheckHealth probes the root directory and refreshes the health flag.
func (s *Store) CheckHealth() bool {
	err := s.probe()
	healthy := err == nil
	if s.healthy.Swap(healthy) != healthy {
		if healthy {
			s.logger.Infof("storage %s is healthy", s.root)
		} else {
			s.logger.Warnf("storage %s is unhealthy: %s", s.root, err)
		}
	}

	return healthy
}

func (s *Store) probe() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}

	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	free, err := s.diskFree(s.root)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	if free < s.minFree {
		return fmt.Errorf("only %s free, need %s", humanize.IBytes(free), humanize.IBytes(s.minFree))
	}

	return nil
}

// Monitor refreshes the health flag every interval until ctx is done.
func (s *Store) Monitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.CheckHealth()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) EnsureDirectory(dir string) error {
	p, err := s.Path(dir)
	if err != nil {
		return err
	}

	return util.MkdirAll(p)
}

// CountExisting counts photo files directly inside dir. A missing dir holds none.
func (s *Store) CountExisting(dir string) (int, error) {
	names, err := s.List(dir)
	if err != nil {
		return 0, err
	}

	return len(names), nil
}

// LastNumber returns the highest n among the <prefix><n> photos in dir, 0 when
// there are none.
func (s *Store) LastNumber(dir, prefix string) (int, error) {
	names, err := s.List(dir)
	if err != nil {
		return 0, err
	}
	last := 0
	for _, name := range names {
		p, n, ok := splitNumber(path.Base(name))
		if ok && p == prefix && n > last {
			last = n
		}
	}

	return last, nil
}

func (s *Store) List(dir string) ([]string, error) {
	p, err := s.Path(dir)
	if err != nil {
		return nil, err
	}
	files, err := os.ReadDir(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.HasSuffix(file.Name(), consts.DefaultImageExt) {
			continue
		}
		res = append(res, path.Join(dir, file.Name()))
	}
	sort.Slice(res, func(i, j int) bool {
		return lessNatural(res[i], res[j])
	})

	return res, nil
}

// Write persists a photo under name, relative to the root. It succeeds once
// the photo bytes are on disk; info.json failures are only logged.
func (s *Store) Write(name string, data []byte) error {
	if !s.Healthy() {
		return ErrUnhealthy
	}
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err = util.MkdirAll(filepath.Dir(p)); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err = os.WriteFile(p, data, consts.DefaultFilePerm); err != nil {
		return err
	}

	// the photo is stored, a stale info.json must not make callers reuse its name
	if err = s.updateImageInfo(name, len(data)); err != nil {
		s.logger.Warnf("storage: update %s after writing %s err: %s", consts.DefaultInfoFile, name, err)
	}

	return nil
}

func (s *Store) updateImageInfo(name string, size int) error {
	info, err := s.loadImageInfo()
	if err != nil {
		return err
	}
	info.Count++
	info.LatestImage = name
	info.LatestSize = size

	return s.dumpImageInfo(info)
}

func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	file, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("picture not found, %w", err)
	}

	return file, nil
}

func (s *Store) Latest() (string, error) {
	info, err := s.Info()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (s *Store) Info() (*ImagesInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.loadImageInfo()
}

// Path resolves name inside the root and rejects names escaping it.
func (s *Store) Path(name string) (string, error) {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrBadName, name)
		}
	}

	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

// PhotoName builds "<dir>/<prefix><n><suffix>".
func PhotoName(dir, prefix string, n int, suffix string) string {
	return path.Join(dir, fmt.Sprintf("%s%d%s", prefix, n, suffix))
}

func (s *Store) Stat(name string) (os.FileInfo, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	return os.Stat(p)
}
