//go:build darwin

package watcher

import (
	"github.com/fsnotify/fsevents"
)

const droppedFlags = fsevents.MustScanSubDirs |
	fsevents.UserDropped |
	fsevents.KernelDropped

// fseventsKind maps FSEvents flags onto a Kind. FSEvents coalesces flags of
// events that happen within the stream latency, so whether the entry still
// exists decides between creation and removal.
func fseventsKind(flags fsevents.EventFlags, exists bool) Kind {
	has := func(f fsevents.EventFlags) bool {
		return flags&f == f
	}

	switch {
	case has(fsevents.ItemRemoved) && !exists:
		return KindDelete
	case has(fsevents.ItemCreated) && exists:
		return KindCreate
	case has(fsevents.ItemRenamed):
		if exists {
			return KindCreate
		}
		return KindDelete
	case has(fsevents.ItemModified),
		has(fsevents.ItemChangeOwner),
		has(fsevents.ItemInodeMetaMod),
		has(fsevents.ItemXattrMod):
		return KindChange
	}

	return KindUnknown
}
