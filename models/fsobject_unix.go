//go:build darwin || linux

package models

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func NewFsObject(path string) (FsObject, error) {
	var stat unix.Stat_t

	err := unix.Lstat(path, &stat)
	if err != nil {
		return FsObject{}, fmt.Errorf("failed to stat path: %w", err)
	}

	ctime := statCtime(&stat)
	mtime := statMtime(&stat)
	created, _ := ctime.Unix()
	modified, _ := mtime.Unix()

	obj := FsObject{
		Path:     path,
		Size:     stat.Size,
		Created:  created,
		Modified: modified,
		Uid:      stat.Uid,
		Gid:      stat.Gid,
		Mode:     uint32(stat.Mode),
	}

	if stat.Mode&unix.S_IFMT == unix.S_IFREG {
		obj.Hash, err = hashFile(path)
		if err != nil {
			return FsObject{}, err
		}
	}

	return obj, nil
}
