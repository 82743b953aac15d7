package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FsnotifyFacility is the portable Facility built on fsnotify.
type FsnotifyFacility struct {
	watcher *fsnotify.Watcher
	queue   *keyQueue
	next    Handle
	mu      sync.Mutex
	done    chan struct{}
}

func NewFsnotifyFacility() (*FsnotifyFacility, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	f := &FsnotifyFacility{
		watcher: w,
		queue:   newKeyQueue(),
		done:    make(chan struct{}),
	}
	go f.readEvents()

	return f, nil
}

func (f *FsnotifyFacility) Register(p string) (Handle, error) {
	dir, err := cleanDir(p)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queue.isClosed() {
		return 0, ErrClosed
	}
	if h, ok := f.queue.lookup(dir); ok {
		return h, nil
	}

	if err := f.watcher.Add(dir); err != nil {
		return 0, err
	}

	f.next++
	f.queue.add(f.next, dir)
	log.Debug().Str("dir", dir).Uint64("handle", uint64(f.next)).Msg("added fsnotify watch")

	return f.next, nil
}

func (f *FsnotifyFacility) Wait(ctx context.Context) (Handle, error) {
	return f.queue.take(ctx)
}

func (f *FsnotifyFacility) Drain(h Handle) []Notification {
	return f.queue.drain(h)
}

func (f *FsnotifyFacility) Reset(h Handle) bool {
	dir, ok := f.queue.dir(h)
	if !ok {
		return false
	}

	// fsnotify drops watches silently on some platforms, so verify the
	// directory is still there before re-arming.
	if !isDir(dir) {
		f.queue.invalidate(h)
	}

	if f.queue.reset(h) {
		return true
	}

	_ = f.watcher.Remove(dir)
	return false
}

func (f *FsnotifyFacility) Close() error {
	if !f.queue.close() {
		return ErrClosed
	}

	err := f.watcher.Close()
	<-f.done
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (f *FsnotifyFacility) readEvents() {
	defer close(f.done)

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				f.queue.overflowAll()
				continue
			}
			log.Warn().Caller().Err(err).Msg("fsnotify returned error")
		}
	}
}

func (f *FsnotifyFacility) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	// The watched directory itself went away.
	if h, ok := f.queue.lookup(name); ok && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		f.queue.invalidate(h)
	}

	h, ok := f.queue.lookup(filepath.Dir(name))
	if !ok {
		return
	}

	f.queue.enqueue(h, Notification{
		Kind: fsnotifyKind(event.Op),
		Name: filepath.Base(name),
	})
}
