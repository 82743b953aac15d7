//go:build windows

package models

import (
	"fmt"
	"os"
	windows "syscall"
	"time"
)

func NewFsObject(path string) (FsObject, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return FsObject{}, fmt.Errorf("failed to stat path: %w", err)
	}

	stat := info.Sys().(*windows.Win32FileAttributeData)

	obj := FsObject{
		Path:     path,
		Size:     info.Size(),
		Created:  time.Unix(0, stat.CreationTime.Nanoseconds()).Unix(),
		Modified: time.Unix(0, stat.LastWriteTime.Nanoseconds()).Unix(),
		Mode:     uint32(info.Mode()),
	}

	if info.Mode().IsRegular() {
		obj.Hash, err = hashFile(path)
		if err != nil {
			return FsObject{}, err
		}
	}

	return obj, nil
}
