package watcher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type dispatcher interface {
	// dispatch hands e to the handler. It only fails when ctx is done first.
	dispatch(ctx context.Context, e PathEvent) error
	// shutdown returns once every accepted event has been handled.
	shutdown()
}

type inlineDispatcher struct {
	deliver func(PathEvent)
}

func (d inlineDispatcher) dispatch(_ context.Context, e PathEvent) error {
	d.deliver(e)
	return nil
}

func (inlineDispatcher) shutdown() {}

// pool runs a fixed number of workers fed from a bounded queue. A full
// queue blocks dispatch, which in turn stops the loop from draining more
// notifications.
type pool struct {
	tasks chan PathEvent
	group errgroup.Group
}

func newPool(workers, queueSize int, deliver func(PathEvent)) *pool {
	p := &pool{
		tasks: make(chan PathEvent, queueSize),
	}

	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			for e := range p.tasks {
				deliver(e)
			}
			return nil
		})
	}

	return p
}

func (p *pool) dispatch(ctx context.Context, e PathEvent) error {
	select {
	case p.tasks <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) shutdown() {
	close(p.tasks)
	_ = p.group.Wait()
}
