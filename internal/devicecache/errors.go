package devicecache

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotCached is returned for operations on an id the cache does not hold.
var ErrNotCached = errors.New("resource not cached")

// exhauster is implemented by placement errors that mean "the device is full".
type exhauster interface {
	ResourceExhausted() bool
}

// ResourceExhaustedError is returned by Load once every eviction candidate
// on the target device has been moved away and the object still does not fit.
type ResourceExhaustedError struct {
	ID     string
	Device string
	Err    error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource %q does not fit on %s after evicting all candidates: %v", e.ID, e.Device, e.Err)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

func (e *ResourceExhaustedError) ResourceExhausted() bool { return true }

// IsResourceExhausted reports whether err, or anything it wraps, signals
// that a device ran out of memory.
func IsResourceExhausted(err error) bool {
	var ex exhauster
	return errors.As(err, &ex) && ex.ResourceExhausted()
}
