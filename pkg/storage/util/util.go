package util

import (
	"os"

	"timelapse-cam/pkg/storage/consts"
)

func MkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, consts.DefaultDirPerm)
		if err != nil {
			return err
		}
	}

	return nil
}
