// Package wlerr defines the error taxonomy shared by every Wildland
// component and maps it onto the closest POSIX errno for FUSE callers.
package wlerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", Err...)
// so callers can still errors.Is against the taxonomy after wrapping.
var (
	ErrSchema          = errors.New("schema error")
	ErrSignature       = errors.New("signature error")
	ErrDecrypt         = errors.New("decrypt error")
	ErrKeyMissing      = errors.New("key missing")
	ErrUntrusted       = errors.New("untrusted")
	ErrNotFound        = errors.New("not found")
	ErrCycle           = errors.New("cycle")
	ErrNetwork         = errors.New("network error")
	ErrBackendTimeout  = errors.New("backend timeout")
	ErrBackendIO       = errors.New("backend io error")
	ErrReadOnly        = errors.New("read only")
	ErrConflict        = errors.New("conflict")
	ErrJobAlreadyExist = errors.New("job already exists")
	ErrJobNotFound     = errors.New("job not found")
	ErrBadCommand      = errors.New("bad command")
)

// Wrap attaches context to a sentinel error while keeping it matchable
// with errors.Is.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// Errno returns the POSIX errno closest to err's place in the taxonomy,
// for surfacing backend/resolver failures to a FUSE caller. Unrecognized
// errors map to EIO, matching spec.md §7's "closest POSIX errno" rule.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrBackendTimeout):
		return syscall.ETIMEDOUT
	case errors.Is(err, ErrUntrusted), errors.Is(err, ErrSignature), errors.Is(err, ErrDecrypt):
		return syscall.EACCES
	case errors.Is(err, ErrConflict):
		return syscall.EEXIST
	default:
		return syscall.EIO
	}
}
