//go:build darwin

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"
	"github.com/rs/zerolog/log"
)

const streamLatency = 50 * time.Millisecond

// stream is the FSEvents stream of one directory. Closing stop ends its
// reader.
type stream struct {
	es   *fsevents.EventStream
	stop chan struct{}
}

func (s *stream) close() {
	s.es.Stop()
	close(s.stop)
}

// FSEventsFacility is the darwin Facility. Every registered directory gets
// its own event stream; only direct children are reported.
type FSEventsFacility struct {
	queue   *keyQueue
	streams map[Handle]*stream
	next    Handle
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func newNativeFacility() (Facility, error) {
	return NewFSEventsFacility(), nil
}

func NewFSEventsFacility() *FSEventsFacility {
	return &FSEventsFacility{
		queue:   newKeyQueue(),
		streams: make(map[Handle]*stream),
	}
}

func (f *FSEventsFacility) Register(p string) (Handle, error) {
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

	// FSEvents reports resolved paths, e.g. /private/var for /var.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	es := &fsevents.EventStream{
		Events:  make(chan []fsevents.Event, 16),
		Paths:   []string{resolved},
		Latency: streamLatency,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	es.Start()

	f.next++
	h := f.next
	s := &stream{es: es, stop: make(chan struct{})}
	f.streams[h] = s
	f.queue.add(h, dir)

	f.wg.Add(1)
	go f.readEvents(h, dir, resolved, s)

	log.Debug().Str("dir", dir).Uint64("handle", uint64(h)).Msg("started fsevents stream")

	return h, nil
}

func (f *FSEventsFacility) Wait(ctx context.Context) (Handle, error) {
	return f.queue.take(ctx)
}

func (f *FSEventsFacility) Drain(h Handle) []Notification {
	return f.queue.drain(h)
}

func (f *FSEventsFacility) Reset(h Handle) bool {
	if dir, ok := f.queue.dir(h); ok && !isDir(dir) {
		f.queue.invalidate(h)
	}

	if f.queue.reset(h) {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.streams[h]; ok {
		s.close()
		delete(f.streams, h)
	}
	return false
}

func (f *FSEventsFacility) Close() error {
	if !f.queue.close() {
		return ErrClosed
	}

	f.mu.Lock()
	for h, s := range f.streams {
		s.close()
		delete(f.streams, h)
	}
	f.mu.Unlock()

	f.wg.Wait()
	return nil
}

func (f *FSEventsFacility) readEvents(h Handle, dir, resolved string, s *stream) {
	defer f.wg.Done()

	for {
		select {
		case msg, ok := <-s.es.Events:
			if !ok {
				return
			}
			for _, event := range msg {
				f.handleEvent(h, dir, resolved, event)
			}
		case <-s.stop:
			return
		}
	}
}

func (f *FSEventsFacility) handleEvent(h Handle, dir, resolved string, event fsevents.Event) {
	path := filepath.Clean(event.Path)

	if event.Flags&droppedFlags != 0 {
		f.queue.enqueue(h, Notification{Kind: KindOverflow})
		return
	}

	if path == resolved {
		if event.Flags&fsevents.RootChanged != 0 || !isDir(dir) {
			f.queue.invalidate(h)
		}
		return
	}

	if filepath.Dir(path) != resolved {
		return
	}

	_, err := os.Lstat(path)
	f.queue.enqueue(h, Notification{
		Kind: fseventsKind(event.Flags, err == nil),
		Name: filepath.Base(path),
	})
}
