package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// fsnotifyKind maps an fsnotify operation onto a Kind. A rename is reported
// as a deletion of the old name; the new name arrives as a separate create
// in whichever watched directory received it.
func fsnotifyKind(op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreate
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindDelete
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return KindChange
	}
	return KindUnknown
}
