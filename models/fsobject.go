package models

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/Leantar/dirwatch/modules/watcher"
	"github.com/zeebo/blake3"
)

// FsObject describes a directory entry at the time an event was handled.
// Hash is only set for regular files.
type FsObject struct {
	Path     string
	Hash     string
	Size     int64
	Created  int64
	Modified int64
	Uid      uint32
	Gid      uint32
	Mode     uint32
}

// FromEvent describes the entry a PathEvent refers to. Deleted entries only
// carry their path.
func FromEvent(e watcher.PathEvent) (FsObject, error) {
	if e.Kind == watcher.KindDelete {
		return FsObject{Path: e.Path()}, nil
	}
	return NewFsObject(e.Path())
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to copy file content: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
