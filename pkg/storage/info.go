package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"

	"timelapse-cam/pkg/storage/consts"
)

type ImagesInfo struct {
	Count       int    `json:"count"`
	LatestImage string `json:"latestImage"`
	LatestSize  int    `json:"latestSize"`

	UpdateAt time.Time `json:"updateAt"`
}

func (s *Store) getImageInfoPath() string {
	return filepath.Join(s.root, consts.DefaultInfoFile)
}

func (s *Store) checkInitInfo() error {
	_, err := os.Stat(s.getImageInfoPath())
	if errors.Is(err, os.ErrNotExist) {
		return s.dumpImageInfo(&ImagesInfo{})
	}

	return err
}

func (s *Store) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(s.getImageInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (s *Store) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(s.getImageInfoPath(), data, consts.DefaultFilePerm)
}

// lessNatural orders names by their trailing number, so photo_9 comes before photo_10.
func lessNatural(a, b string) bool {
	pa, na, okA := splitNumber(a)
	pb, nb, okB := splitNumber(b)
	if okA && okB && pa == pb {
		return na < nb
	}

	return a < b
}

func splitNumber(name string) (string, int, bool) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	i := len(name)
	for i > 0 && unicode.IsDigit(rune(name[i-1])) {
		i--
	}
	if i == len(name) {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return name, 0, false
	}

	return name[:i], n, true
}
