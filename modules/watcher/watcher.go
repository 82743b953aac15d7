package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type DispatchMode string

const (
	// DispatchInline runs the handler on the loop goroutine, preserving the
	// order in which notifications were drained.
	DispatchInline DispatchMode = "inline"
	// DispatchPooled hands events to a bounded worker pool. Events may be
	// handled out of order and concurrently.
	DispatchPooled DispatchMode = "pooled"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Options controls how a DirectoryWatcher is built.
type Options struct {
	// Facility is used instead of creating one for Backend. The watcher
	// takes ownership and closes it on Close or on a failed setup.
	Facility  Facility
	Backend   Backend
	Dispatch  DispatchMode
	Workers   int
	QueueSize int
	Metrics   *Metrics
}

// DirectoryWatcher delivers changes of a fixed set of directories to a
// Handler. The registry is only touched by the goroutine executing Run.
type DirectoryWatcher struct {
	facility Facility
	registry map[Handle]string
	handler  Handler
	options  Options
	running  atomic.Bool
	stopped  atomic.Bool
}

// New watches every directory in dirs. Duplicates share a single registry
// entry. If any directory cannot be registered, all registrations are
// released and a *SetupError is returned.
func New(handler Handler, dirs []string, options Options) (*DirectoryWatcher, error) {
	if handler == nil {
		release(options.Facility)
		return nil, ErrNoHandler
	}

	options, err := withDefaults(options)
	if err != nil {
		release(options.Facility)
		return nil, err
	}

	facility := options.Facility
	if facility == nil {
		facility, err = NewFacility(options.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create facility: %w", err)
		}
	}

	registry := make(map[Handle]string, len(dirs))
	for _, d := range dirs {
		dir, h, err := register(facility, d)
		if err != nil {
			release(facility)
			return nil, &SetupError{Dir: d, Err: err}
		}
		registry[h] = dir
	}

	return &DirectoryWatcher{
		facility: facility,
		registry: registry,
		handler:  handler.AndThen(traceEvent),
		options:  options,
	}, nil
}

// NewWithBase watches subDirs resolved against base, or base itself when no
// sub directories are given.
func NewWithBase(handler Handler, base string, subDirs []string, options Options) (*DirectoryWatcher, error) {
	if len(subDirs) == 0 {
		return New(handler, []string{base}, options)
	}

	dirs := make([]string, 0, len(subDirs))
	for _, sub := range subDirs {
		if filepath.IsAbs(sub) {
			dirs = append(dirs, sub)
		} else {
			dirs = append(dirs, filepath.Join(base, sub))
		}
	}
	return New(handler, dirs, options)
}

func withDefaults(options Options) (Options, error) {
	switch options.Dispatch {
	case "":
		options.Dispatch = DispatchInline
	case DispatchInline, DispatchPooled:
	default:
		return options, fmt.Errorf("unknown dispatch mode %q", options.Dispatch)
	}

	if options.Workers <= 0 {
		options.Workers = DefaultWorkers
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	return options, nil
}

// release closes a facility the watcher took ownership of but cannot use.
func release(f Facility) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		log.Warn().Caller().Err(err).Msg("failed to release facility")
	}
}

func register(f Facility, d string) (string, Handle, error) {
	dir, err := filepath.Abs(d)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get absolute path: %w", err)
	}

	h, err := f.Register(dir)
	if err != nil {
		return "", 0, err
	}
	return dir, h, nil
}

// Run processes notifications until the registry is empty, Stop was called,
// ctx is done or the facility is closed. All of these end Run with a nil
// error; only unexpected facility failures are returned. Run may only be
// called once.
func (w *DirectoryWatcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.stopped.Store(true)

	d := w.newDispatcher()
	defer d.shutdown()

	w.options.Metrics.setDirectories(len(w.registry))

	for len(w.registry) > 0 && !w.stopped.Load() {
		h, err := w.facility.Wait(ctx)
		if err != nil {
			if isShutdown(err) {
				log.Debug().Err(err).Msg("stopped waiting for notifications")
				return nil
			}
			return fmt.Errorf("failed to wait for notifications: %w", err)
		}

		if err := w.process(ctx, d, h); err != nil {
			log.Debug().Err(err).Msg("stopped dispatching events")
			return nil
		}
	}

	return nil
}

// process drains h, dispatches its actionable notifications and re-arms it.
func (w *DirectoryWatcher) process(ctx context.Context, d dispatcher, h Handle) error {
	dir, ok := w.registry[h]
	notifications := w.facility.Drain(h)

	if ok {
		for _, n := range notifications {
			if !n.Kind.Actionable() || n.Name == "" {
				w.options.Metrics.notificationDropped()
				log.Debug().Str("dir", dir).Str("kind", n.Kind.String()).Msg("dropped notification without path")
				continue
			}

			err := d.dispatch(ctx, PathEvent{Dir: dir, Kind: n.Kind, Name: n.Name})
			if err != nil {
				return err
			}
		}
	}

	if !w.facility.Reset(h) {
		delete(w.registry, h)
		w.options.Metrics.directoryInvalidated()
		w.options.Metrics.setDirectories(len(w.registry))
		log.Info().Str("dir", dir).Int("remaining", len(w.registry)).Msg("directory is no longer watched")
	}

	return nil
}

func (w *DirectoryWatcher) newDispatcher() dispatcher {
	if w.options.Dispatch == DispatchPooled {
		return newPool(w.options.Workers, w.options.QueueSize, w.deliver)
	}
	return inlineDispatcher{deliver: w.deliver}
}

// deliver invokes the handler and contains its panics to the single event.
func (w *DirectoryWatcher) deliver(e PathEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.options.Metrics.handlerPanicked()
			log.Error().
				Str("path", e.Path()).
				Str("kind", e.Kind.String()).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	w.options.Metrics.eventDelivered(e.Kind)
	w.handler(e)
}

func traceEvent(e PathEvent) {
	log.Trace().Str("path", e.Path()).Str("kind", e.Kind.String()).Msg("handled path event")
}

// Stop asks Run to return after the current iteration. It does not wake a
// Run that is blocked waiting for notifications; cancel its context or
// Close the watcher for that.
func (w *DirectoryWatcher) Stop() {
	w.stopped.Store(true)
}

// Close releases the facility. A blocked Run returns once it is closed.
// Closing an already closed watcher returns ErrClosed.
func (w *DirectoryWatcher) Close() error {
	return w.facility.Close()
}

// Directories returns the watched directories in lexical order. It must not
// race with a running Run.
func (w *DirectoryWatcher) Directories() []string {
	dirs := make([]string, 0, len(w.registry))
	for _, dir := range w.registry {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func isShutdown(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
