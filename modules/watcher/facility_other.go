//go:build !linux && !darwin

package watcher

func newNativeFacility() (Facility, error) {
	return NewFsnotifyFacility()
}
