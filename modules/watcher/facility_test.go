package watcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func takeWithin(t *testing.T, q *keyQueue, d time.Duration) (Handle, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.take(ctx)
}

func TestKeyQueue_SignalsOncePerReset(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")

	q.enqueue(1, Notification{Kind: KindCreate, Name: "x"})
	q.enqueue(1, Notification{Kind: KindChange, Name: "x"})

	h, err := takeWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)

	// Still signalled: further notifications accumulate without requeueing
	q.enqueue(1, Notification{Kind: KindDelete, Name: "x"})
	_, err = takeWithin(t, q, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, []Notification{
		{Kind: KindCreate, Name: "x"},
		{Kind: KindChange, Name: "x"},
		{Kind: KindDelete, Name: "x"},
	}, q.drain(1))
	assert.True(t, q.reset(1))

	_, err = takeWithin(t, q, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyQueue_ResetRequeuesPendingNotifications(t *testing.T) {
	q := newKeyQueue()
	q.add(7, "/a")

	q.enqueue(7, Notification{Kind: KindCreate, Name: "one"})
	h, err := takeWithin(t, q, time.Second)
	require.NoError(t, err)
	q.drain(h)

	q.enqueue(7, Notification{Kind: KindCreate, Name: "two"})
	require.True(t, q.reset(h))

	h, err = takeWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Handle(7), h)
	assert.Equal(t, []Notification{{Kind: KindCreate, Name: "two"}}, q.drain(h))
}

func TestKeyQueue_AppendsOverflowWhenFull(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")

	for i := 0; i < maxPending+10; i++ {
		q.enqueue(1, Notification{Kind: KindCreate, Name: fmt.Sprintf("f%d", i)})
	}

	drained := q.drain(1)
	require.Len(t, drained, maxPending+1)
	assert.Equal(t, Notification{Kind: KindCreate, Name: "f0"}, drained[0])
	assert.Equal(t, Notification{Kind: KindCreate, Name: fmt.Sprintf("f%d", maxPending-1)}, drained[maxPending-1])
	assert.Equal(t, Notification{Kind: KindOverflow}, drained[maxPending])

	q.enqueue(1, Notification{Kind: KindChange, Name: "f"})
	assert.Equal(t, []Notification{{Kind: KindChange, Name: "f"}}, q.drain(1))
}

func TestKeyQueue_OverflowKeepsQueuedNotifications(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")

	q.enqueue(1, Notification{Kind: KindCreate, Name: "kept"})
	q.overflowAll()
	q.overflowAll()

	assert.Equal(t, []Notification{
		{Kind: KindCreate, Name: "kept"},
		{Kind: KindOverflow},
	}, q.drain(1))
}

func TestKeyQueue_OverflowAll(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")
	q.add(2, "/b")

	q.overflowAll()

	seen := map[Handle]bool{}
	for i := 0; i < 2; i++ {
		h, err := takeWithin(t, q, time.Second)
		require.NoError(t, err)
		seen[h] = true
		assert.Equal(t, []Notification{{Kind: KindOverflow}}, q.drain(h))
	}
	assert.Equal(t, map[Handle]bool{1: true, 2: true}, seen)
}

func TestKeyQueue_InvalidateWakesAndFailsReset(t *testing.T) {
	q := newKeyQueue()
	q.add(3, "/gone")

	q.invalidate(3)

	h, err := takeWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Handle(3), h)
	assert.False(t, q.reset(h))

	_, ok := q.dir(3)
	assert.False(t, ok)

	// Later notifications for a forgotten handle are ignored
	q.enqueue(3, Notification{Kind: KindCreate, Name: "x"})
	_, err = takeWithin(t, q, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyQueue_TakeHonoursCancelledContext(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")
	q.enqueue(1, Notification{Kind: KindCreate, Name: "ready"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.take(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	h, err := takeWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)
}

func TestKeyQueue_CloseWakesTake(t *testing.T) {
	q := newKeyQueue()
	q.add(1, "/a")

	errs := make(chan error, 1)
	go func() {
		_, err := q.take(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, q.close())
	assert.False(t, q.close())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("take did not return after close")
	}
}

func TestNewFacility_UnknownBackend(t *testing.T) {
	_, err := NewFacility("carrier-pigeon")
	assert.Error(t, err)
}
