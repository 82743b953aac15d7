//go:build darwin

package watcher

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSEventsFacility_InvalidResetStopsReader(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping filesystem notification test in short mode")
	}

	dirs := makeDirs(t, "a")
	f := NewFSEventsFacility()
	defer f.Close()

	h, err := f.Register(dirs[0])
	require.NoError(t, err)

	require.NoError(t, os.Remove(dirs[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, h, got)
	f.Drain(got)
	require.False(t, f.Reset(got))

	stopped := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reader of the invalidated stream is still running")
	}
	assert.Empty(t, f.streams)
}
