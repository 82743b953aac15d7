package watcher

import (
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
)

func TestKind_Actionable(t *testing.T) {
	assert.True(t, KindCreate.Actionable())
	assert.True(t, KindChange.Actionable())
	assert.True(t, KindDelete.Actionable())
	assert.False(t, KindOverflow.Actionable())
	assert.False(t, KindUnknown.Actionable())
}

func TestPathEvent_Path(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator), "srv", "drop")
	e := PathEvent{Dir: dir, Kind: KindCreate, Name: "report.csv"}

	assert.Equal(t, filepath.Join(dir, "report.csv"), e.Path())
}

func TestHandler_AndThen(t *testing.T) {
	var calls []string
	first := Handler(func(e PathEvent) { calls = append(calls, "first:"+e.Name) })
	second := Handler(func(e PathEvent) { calls = append(calls, "second:"+e.Name) })

	first.AndThen(second)(PathEvent{Name: "x"})

	assert.Equal(t, []string{"first:x", "second:x"}, calls)
}

func TestHandler_AndThenSkipsAfterPanic(t *testing.T) {
	called := false
	h := Handler(func(PathEvent) { panic("primary failed") }).AndThen(func(PathEvent) { called = true })

	assert.PanicsWithValue(t, "primary failed", func() { h(PathEvent{}) })
	assert.False(t, called)
}

func TestFsnotifyKind(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want Kind
	}{
		{fsnotify.Create, KindCreate},
		{fsnotify.Create | fsnotify.Write, KindCreate},
		{fsnotify.Write, KindChange},
		{fsnotify.Chmod, KindChange},
		{fsnotify.Remove, KindDelete},
		{fsnotify.Rename, KindDelete},
		{0, KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fsnotifyKind(tt.op), tt.op.String())
	}
}
