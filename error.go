package ccbench

import "fmt"

// ErrorCode enumerates ccbench error categories used across packages.
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// LockAcquisitionFailure indicates failure to acquire a required lock.
	LockAcquisitionFailure
	// AllocatorExhausted indicates a ring or scattered allocator could not
	// satisfy an allocation request.
	AllocatorExhausted
	// FileIOError represents file I/O related errors (open/mmap/truncate).
	FileIOError
	// RingWrapConflict indicates a concurrent allocation lost its CAS race
	// against a wrap of the ring cursor.
	RingWrapConflict
)

// Error is a ccbench-specific error carrying a code, the wrapped error and
// optional user data.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}
