//go:build linux

package watcher

import (
	"golang.org/x/sys/unix"
)

const (
	// Directory entries whose changes are reported.
	entryMask = unix.IN_CREATE |
		unix.IN_MODIFY |
		unix.IN_ATTRIB |
		unix.IN_DELETE |
		unix.IN_MOVED_FROM |
		unix.IN_MOVED_TO
	// Changes that make the watched directory itself unusable.
	selfMask = unix.IN_DELETE_SELF |
		unix.IN_MOVE_SELF |
		unix.IN_UNMOUNT |
		unix.IN_IGNORED
	watchMask = entryMask |
		unix.IN_DELETE_SELF |
		unix.IN_MOVE_SELF |
		unix.IN_ONLYDIR
)

func inotifyKind(mask uint32) Kind {
	masks := []struct {
		mask uint32
		kind Kind
	}{
		{unix.IN_CREATE, KindCreate},
		{unix.IN_MOVED_TO, KindCreate},
		{unix.IN_DELETE, KindDelete},
		{unix.IN_MOVED_FROM, KindDelete},
		{unix.IN_MODIFY, KindChange},
		{unix.IN_ATTRIB, KindChange},
	}

	for _, m := range masks {
		if mask&m.mask != 0 {
			return m.kind
		}
	}

	return KindUnknown
}
