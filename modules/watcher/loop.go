package watcher

import (
	"context"
	"errors"
)

// Loop is a DirectoryWatcher running on its own goroutine.
type Loop struct {
	watcher *DirectoryWatcher
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Start creates a DirectoryWatcher for dirs and runs it in the background.
func Start(ctx context.Context, handler Handler, dirs []string, options Options) (*Loop, error) {
	w, err := New(handler, dirs, options)
	if err != nil {
		return nil, err
	}
	return w.Start(ctx), nil
}

// Start runs w on a new goroutine.
func (w *DirectoryWatcher) Start(ctx context.Context) *Loop {
	ctx, cancel := context.WithCancel(ctx)

	l := &Loop{
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		defer cancel()
		l.err = w.Run(ctx)
	}()

	return l
}

func (l *Loop) Watcher() *DirectoryWatcher {
	return l.watcher
}

// Stop sets the stop flag and wakes the loop if it is waiting.
func (l *Loop) Stop() {
	l.watcher.Stop()
	l.cancel()
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until Run has returned and reports its error.
func (l *Loop) Wait() error {
	<-l.done
	return l.err
}

// Close stops the loop, waits for it and releases the facility.
func (l *Loop) Close() error {
	l.Stop()
	return errors.Join(l.Wait(), l.watcher.Close())
}
