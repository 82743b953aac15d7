package watcher

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("facility is closed")
	ErrAlreadyRunning = errors.New("watcher is already running")
	ErrNotDirectory   = errors.New("path is not a directory")
	ErrNoHandler      = errors.New("handler must not be nil")
)

// SetupError is returned by the constructors when a directory cannot be
// registered. No registration survives a SetupError.
type SetupError struct {
	Dir string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to watch directory %s: %v", e.Dir, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
