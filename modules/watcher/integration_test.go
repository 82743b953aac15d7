package watcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realBackends(t *testing.T) []Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping filesystem notification test in short mode")
	}
	return []Backend{BackendNative, BackendFsnotify}
}

// awaitEvent reads events until match accepts one and returns everything
// read so far.
func awaitEvent(t *testing.T, events <-chan PathEvent, match func(PathEvent) bool) []PathEvent {
	t.Helper()

	var seen []PathEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			seen = append(seen, e)
			if match(e) {
				return seen
			}
		case <-timeout:
			t.Fatalf("timeout waiting for event, got %v", seen)
			return nil
		}
	}
}

func startWatcher(t *testing.T, backend Backend, dirs []string) (*Loop, chan PathEvent) {
	t.Helper()

	handler, events := collect()
	l, err := Start(context.Background(), handler, dirs, Options{Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l, events
}

func TestIntegration_CreateAndDelete(t *testing.T) {
	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "x")
			x := dirs[0]
			_, events := startWatcher(t, backend, dirs)

			f, err := os.Create(filepath.Join(x, "a.txt"))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			seen := awaitEvent(t, events, func(e PathEvent) bool {
				return e.Kind == KindCreate && e.Name == "a.txt"
			})

			require.NoError(t, os.Remove(filepath.Join(x, "a.txt")))

			seen = append(seen, awaitEvent(t, events, func(e PathEvent) bool {
				return e.Kind == KindDelete && e.Name == "a.txt"
			})...)

			for _, e := range seen {
				assert.Equal(t, x, e.Dir)
				assert.Equal(t, "a.txt", e.Name)
			}
		})
	}
}

func TestIntegration_MoveBetweenDirectories(t *testing.T) {
	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "a", "b")
			a, b := dirs[0], dirs[1]
			_, events := startWatcher(t, backend, dirs)

			require.NoError(t, os.WriteFile(filepath.Join(a, "one.txt"), []byte("1"), 0o644))
			awaitEvent(t, events, func(e PathEvent) bool {
				return e.Dir == a && e.Kind == KindCreate && e.Name == "one.txt"
			})

			require.NoError(t, os.Rename(filepath.Join(a, "one.txt"), filepath.Join(b, "two.txt")))

			var deleted, created bool
			awaitEvent(t, events, func(e PathEvent) bool {
				if e.Dir == a && e.Kind == KindDelete && e.Name == "one.txt" {
					deleted = true
				}
				if e.Dir == b && e.Kind == KindCreate && e.Name == "two.txt" {
					created = true
				}
				return deleted && created
			})
		})
	}
}

func TestIntegration_DeletingWatchedDirectoryEndsRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("windows keeps watched directories open")
	}

	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "only")
			l, _ := startWatcher(t, backend, dirs)

			require.NoError(t, os.Remove(dirs[0]))

			select {
			case <-l.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after its only directory was deleted")
			}
			assert.NoError(t, l.Wait())
			assert.Empty(t, l.Watcher().Directories())
		})
	}
}

func TestIntegration_DirectoryAttributesAreNotDelivered(t *testing.T) {
	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "x")
			x := dirs[0]
			_, events := startWatcher(t, backend, dirs)

			now := time.Now()
			require.NoError(t, os.Chtimes(x, now, now))
			require.NoError(t, os.Chmod(x, 0o700))
			require.NoError(t, os.WriteFile(filepath.Join(x, "marker"), nil, 0o644))

			seen := awaitEvent(t, events, func(e PathEvent) bool {
				return e.Kind == KindCreate && e.Name == "marker"
			})
			for _, e := range seen {
				assert.NotEmpty(t, e.Name, "event for the watched directory itself: %v", e)
			}
		})
	}
}

func TestIntegration_StopAndCancel(t *testing.T) {
	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "a")
			l, _ := startWatcher(t, backend, dirs)

			l.Stop()

			select {
			case <-l.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after Stop")
			}
			assert.NoError(t, l.Wait())

			require.NoError(t, l.Watcher().Close())

			done := make(chan error, 1)
			go func() {
				done <- l.Watcher().Close()
			}()
			select {
			case err := <-done:
				assert.ErrorIs(t, err, ErrClosed)
			case <-time.After(time.Second):
				t.Fatal("second Close blocked")
			}
		})
	}
}

func TestIntegration_CloseUnblocksRun(t *testing.T) {
	for _, backend := range realBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			dirs := makeDirs(t, "a")
			w, err := New(func(PathEvent) {}, dirs, Options{Backend: backend})
			require.NoError(t, err)

			errs := runAsync(w, context.Background())
			time.Sleep(50 * time.Millisecond)

			require.NoError(t, w.Close())
			assert.NoError(t, waitRun(t, errs))
		})
	}
}
