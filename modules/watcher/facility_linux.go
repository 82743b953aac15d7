//go:build linux

package watcher

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	InitFlags = unix.IN_CLOEXEC |
		unix.IN_NONBLOCK
	PipeFlags = unix.O_CLOEXEC |
		unix.O_NONBLOCK
)

// InotifyFacility is the linux Facility. Handles are inotify watch
// descriptors.
type InotifyFacility struct {
	fd       int
	pipe     [2]int
	queue    *keyQueue
	mu       sync.Mutex
	released bool
	err      error
	done     chan struct{}
}

func newNativeFacility() (Facility, error) {
	return NewInotifyFacility()
}

func NewInotifyFacility() (*InotifyFacility, error) {
	fd, err := unix.InotifyInit1(InitFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], PipeFlags); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to create wakeup pipe: %w", err)
	}

	f := &InotifyFacility{
		fd:    fd,
		pipe:  p,
		queue: newKeyQueue(),
		done:  make(chan struct{}),
	}
	go f.readEvents()

	return f, nil
}

func (f *InotifyFacility) Register(p string) (Handle, error) {
	dir, err := cleanDir(p)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released || f.queue.isClosed() {
		return 0, ErrClosed
	}

	wd, err := unix.InotifyAddWatch(f.fd, dir, watchMask)
	if err != nil {
		return 0, fmt.Errorf("failed to create inotify watch: %w", err)
	}

	h := Handle(wd)
	f.queue.add(h, dir)
	log.Debug().Str("dir", dir).Int("wd", wd).Msg("added inotify watch")

	return h, nil
}

func (f *InotifyFacility) Wait(ctx context.Context) (Handle, error) {
	h, err := f.queue.take(ctx)
	if errors.Is(err, ErrClosed) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return 0, f.err
		}
	}
	return h, err
}

func (f *InotifyFacility) Drain(h Handle) []Notification {
	return f.queue.drain(h)
}

func (f *InotifyFacility) Reset(h Handle) bool {
	if f.queue.reset(h) {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// The kernel already dropped the watch when it sent IN_IGNORED, in which
	// case this fails with EINVAL.
	if !f.released {
		_, _ = unix.InotifyRmWatch(f.fd, uint32(h))
	}
	return false
}

func (f *InotifyFacility) Close() error {
	f.queue.close()

	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return ErrClosed
	}
	f.released = true
	f.mu.Unlock()

	// Wake the reader blocked in poll
	_, _ = unix.Write(f.pipe[1], []byte{0})
	<-f.done

	err := errors.Join(unix.Close(f.fd), unix.Close(f.pipe[0]), unix.Close(f.pipe[1]))
	if err != nil {
		return fmt.Errorf("failed to close inotify descriptors: %w", err)
	}
	return nil
}

func (f *InotifyFacility) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()

	f.queue.close()
}

func (f *InotifyFacility) readEvents() {
	defer close(f.done)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	fds := []unix.PollFd{
		{Fd: int32(f.fd), Events: unix.POLLIN},
		{Fd: int32(f.pipe[0]), Events: unix.POLLIN},
	}

	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			log.Error().Caller().Err(err).Msg("failed to poll inotify descriptor")
			f.fail(fmt.Errorf("failed to poll inotify descriptor: %w", err))
			return
		}

		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			err = fmt.Errorf("inotify descriptor reported events %#x", fds[0].Revents)
			log.Error().Caller().Err(err).Msg("failed to read events")
			f.fail(err)
			return
		}

		for {
			n, err := unix.Read(f.fd, buf)
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				log.Error().Caller().Err(err).Msg("failed to read event")
				f.fail(fmt.Errorf("failed to read inotify events: %w", err))
				return
			}

			f.parseEvents(buf[:n])
		}
	}
}

func (f *InotifyFacility) parseEvents(buf []byte) {
	rd := bytes.NewReader(buf)

	for rd.Len() >= unix.SizeofInotifyEvent {
		var event unix.InotifyEvent

		err := binary.Read(rd, binary.NativeEndian, &event)
		if err != nil {
			log.Error().Caller().Err(err).Msg("failed to read event metadata")
			return
		}

		// The name is NUL padded to an alignment boundary
		name := make([]byte, event.Len)
		if _, err := io.ReadFull(rd, name); err != nil {
			log.Error().Caller().Err(err).Msg("failed to read event name")
			return
		}

		f.handleEvent(event, unix.ByteSliceToString(name))
	}
}

func (f *InotifyFacility) handleEvent(event unix.InotifyEvent, name string) {
	if event.Mask&unix.IN_Q_OVERFLOW != 0 {
		f.queue.overflowAll()
		return
	}

	h := Handle(event.Wd)
	if event.Mask&selfMask != 0 {
		f.queue.invalidate(h)
		return
	}

	// Attribute changes of the watched directory itself carry no name.
	if name == "" {
		return
	}

	f.queue.enqueue(h, Notification{
		Kind: inotifyKind(event.Mask),
		Name: name,
	})
}
