package watcher

import (
	"context"
	"sync"
)

// fakeFacility is a Facility driven by the test instead of the kernel.
type fakeFacility struct {
	queue      *keyQueue
	mu         sync.Mutex
	next       Handle
	failures   map[string]error
	closeCalls int
}

func newFakeFacility() *fakeFacility {
	return &fakeFacility{
		queue:    newKeyQueue(),
		failures: make(map[string]error),
	}
}

func (f *fakeFacility) Register(dir string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures[dir]; err != nil {
		return 0, err
	}
	if h, ok := f.queue.lookup(dir); ok {
		return h, nil
	}

	f.next++
	f.queue.add(f.next, dir)
	return f.next, nil
}

func (f *fakeFacility) Wait(ctx context.Context) (Handle, error) {
	return f.queue.take(ctx)
}

func (f *fakeFacility) Drain(h Handle) []Notification {
	return f.queue.drain(h)
}

func (f *fakeFacility) Reset(h Handle) bool {
	return f.queue.reset(h)
}

func (f *fakeFacility) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()

	if !f.queue.close() {
		return ErrClosed
	}
	return nil
}

func (f *fakeFacility) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeFacility) emit(dir string, kind Kind, name string) {
	h, ok := f.queue.lookup(dir)
	if !ok {
		panic("emit for unregistered directory " + dir)
	}
	f.queue.enqueue(h, Notification{Kind: kind, Name: name})
}

func (f *fakeFacility) remove(dir string) {
	h, ok := f.queue.lookup(dir)
	if !ok {
		panic("remove for unregistered directory " + dir)
	}
	f.queue.invalidate(h)
}
