package watcher

import (
	"path/filepath"
)

// Kind classifies a single change reported for a watched directory.
type Kind string

const (
	KindCreate   Kind = "CREATE"
	KindChange   Kind = "CHANGE"
	KindDelete   Kind = "DELETE"
	KindOverflow Kind = "OVERFLOW"
	KindUnknown  Kind = "UNKNOWN"
)

// Actionable reports whether notifications of this kind carry a path that
// can be delivered to a Handler. Overflow and unknown kinds do not.
func (k Kind) Actionable() bool {
	switch k {
	case KindCreate, KindChange, KindDelete:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Notification is a single change queued by a Facility for one registered
// directory. Name is relative to that directory and empty for overflows.
type Notification struct {
	Kind Kind
	Name string
}

// Handle identifies a directory registration within a Facility.
type Handle uint64

// PathEvent pairs a watched directory with one notification produced for it.
type PathEvent struct {
	Dir  string
	Kind Kind
	Name string
}

// Path returns the absolute path of the created, changed or deleted entry.
func (e PathEvent) Path() string {
	return filepath.Join(e.Dir, e.Name)
}

// Handler receives every actionable PathEvent.
type Handler func(PathEvent)

// AndThen returns a Handler that calls h and then after with the same event.
// after does not run when h panics.
func (h Handler) AndThen(after Handler) Handler {
	return func(e PathEvent) {
		h(e)
		after(e)
	}
}
