package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Facility is the operating system notification service a DirectoryWatcher
// consumes. Implementations must allow Close to be called while Wait blocks.
type Facility interface {
	// Register starts watching dir and returns its handle. Registering the
	// same directory twice returns the same handle.
	Register(dir string) (Handle, error)
	// Wait blocks until a registered handle has queued notifications. It
	// returns ErrClosed once the facility is closed and ctx.Err() when ctx
	// is done, even if handles are ready.
	Wait(ctx context.Context) (Handle, error)
	// Drain removes and returns all notifications queued for h.
	Drain(h Handle) []Notification
	// Reset re-arms h and reports whether its directory is still valid.
	// An invalid handle is released and never returned by Wait again.
	Reset(h Handle) bool
	// Close releases the facility. Closing it again returns ErrClosed.
	Close() error
}

// Backend selects the Facility implementation used when none is supplied.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendFsnotify Backend = "fsnotify"
)

// NewFacility creates the Facility for the given backend. The native backend
// is inotify on linux, FSEvents on darwin and fsnotify everywhere else.
func NewFacility(b Backend) (Facility, error) {
	switch b {
	case "", BackendNative:
		return newNativeFacility()
	case BackendFsnotify:
		return NewFsnotifyFacility()
	}
	return nil, fmt.Errorf("unknown backend %q", b)
}

// Pending notifications per key. Further ones are replaced by a single
// overflow until the key is drained.
const maxPending = 512

type key struct {
	dir        string
	pending    []Notification
	overflowed bool
	signalled  bool
	valid      bool
}

// keyQueue holds the per-handle state shared by all backends. A key is
// queued for Wait when its first notification arrives and is not queued
// again until it has been taken and reset.
type keyQueue struct {
	mu     sync.Mutex
	keys   map[Handle]*key
	ready  []Handle
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newKeyQueue() *keyQueue {
	return &keyQueue{
		keys: make(map[Handle]*key),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *keyQueue) add(h Handle, dir string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.keys[h]; !ok {
		q.keys[h] = &key{dir: dir, valid: true}
	}
}

func (q *keyQueue) lookup(dir string) (Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for h, k := range q.keys {
		if k.dir == dir {
			return h, true
		}
	}
	return 0, false
}

func (q *keyQueue) dir(h Handle) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k, ok := q.keys[h]
	if !ok {
		return "", false
	}
	return k.dir, true
}

func (q *keyQueue) handles() []Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	hs := make([]Handle, 0, len(q.keys))
	for h := range q.keys {
		hs = append(hs, h)
	}
	return hs
}

func (q *keyQueue) enqueue(h Handle, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k, ok := q.keys[h]
	if !ok || !k.valid {
		return
	}

	switch {
	case k.overflowed:
		// Details are lost until the owner drains the key.
	case n.Kind == KindOverflow || len(k.pending) >= maxPending:
		k.pending = append(k.pending, Notification{Kind: KindOverflow})
		k.overflowed = true
	default:
		k.pending = append(k.pending, n)
	}
	q.signal(h, k)
}

func (q *keyQueue) overflowAll() {
	for _, h := range q.handles() {
		q.enqueue(h, Notification{Kind: KindOverflow})
	}
}

// invalidate marks h as no longer watchable and wakes Wait so the owner
// observes it on the following Reset.
func (q *keyQueue) invalidate(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k, ok := q.keys[h]
	if !ok || !k.valid {
		return
	}
	k.valid = false
	q.signal(h, k)
}

// signal must be called with q.mu held.
func (q *keyQueue) signal(h Handle, k *key) {
	if k.signalled {
		return
	}
	k.signalled = true
	q.ready = append(q.ready, h)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *keyQueue) take(ctx context.Context) (Handle, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrClosed
		}
		for len(q.ready) > 0 {
			h := q.ready[0]
			q.ready = q.ready[1:]
			if _, ok := q.keys[h]; ok {
				q.mu.Unlock()
				return h, nil
			}
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return 0, ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (q *keyQueue) drain(h Handle) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	k, ok := q.keys[h]
	if !ok {
		return nil
	}
	ns := k.pending
	k.pending = nil
	k.overflowed = false
	return ns
}

// reset re-arms h. It returns false and forgets h when h was invalidated.
func (q *keyQueue) reset(h Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k, ok := q.keys[h]
	if !ok {
		return false
	}
	if !k.valid {
		delete(q.keys, h)
		return false
	}

	k.signalled = false
	if len(k.pending) > 0 {
		q.signal(h, k)
	}
	return true
}

// close reports whether this call closed the queue.
func (q *keyQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	close(q.done)
	return true
}

func (q *keyQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func cleanDir(p string) (string, error) {
	dir, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotDirectory
	}
	return dir, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
