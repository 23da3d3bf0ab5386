package utils

import (
	"errors"
	"os"
	"path"

	"github.com/Trinoooo/vdshm/errs"
)

// CheckAndCreateDir 目录不存在时创建
func CheckAndCreateDir(dir string, perm os.FileMode) error {
	_, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err = os.MkdirAll(dir, perm); err != nil {
			return errs.NewMkdirErr().WithErr(err)
		}
	} else if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return errs.NewFileNoPermissionErr().WithErr(err)
		}
		return errs.NewFileStatErr().WithErr(err)
	}
	return nil
}

func CheckAndCreateFile(filePath string, flag int, perm os.FileMode) (*os.File, error) {
	dir, _ := path.Split(filePath)
	if dir != "" {
		if err := CheckAndCreateDir(dir, 0770); err != nil {
			return nil, err
		}
	}

	fd, err := os.OpenFile(filePath, flag, perm)
	if err != nil {
		return nil, errs.NewOpenFileErr().WithErr(err)
	}
	return fd, nil
}
