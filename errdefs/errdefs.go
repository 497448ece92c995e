// Package errdefs defines the error classes shared by all packages of this
// module. Callers classify failures with errors.Is against the sentinel
// values, or with the IsX helpers.
//
// Parsing and composition are fail-fast: a malformed structure or a tripped
// security limit aborts the enclosing operation and is surfaced unchanged.
// Packages wrap these sentinels with context using fmt.Errorf and %w.
package errdefs

import (
	"errors"
	"fmt"
)

// Error classes. Each error returned by this module unwraps to exactly one
// of these.
var (
	// ErrMalformedInput indicates a structurally invalid box or table,
	// such as a size underflow or a truncated header.
	ErrMalformedInput = errors.New("malformed input")

	// ErrLimitExceeded indicates that a security limit was tripped.
	// Errors of this class are always a *LimitError naming the limit.
	ErrLimitExceeded = errors.New("security limit exceeded")

	// ErrNotFound indicates that a requested item, property, or entity
	// group does not exist in the file.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat indicates that no codec plugin is registered
	// for the required compression format.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCodecFailure indicates that an external decoder or encoder
	// reported an error.
	ErrCodecFailure = errors.New("codec failure")

	// ErrIOFailure indicates that the stream source reported an error or
	// an unrecoverable short read beyond the end of the file.
	ErrIOFailure = errors.New("i/o failure")

	// ErrCancelled indicates that the caller's cancellation predicate
	// signalled true during a decode operation.
	ErrCancelled = errors.New("operation cancelled")
)

// IsMalformedInput reports whether err is of the malformed-input class.
func IsMalformedInput(err error) bool { return errors.Is(err, ErrMalformedInput) }

// IsLimitExceeded reports whether err is of the limit-exceeded class.
func IsLimitExceeded(err error) bool { return errors.Is(err, ErrLimitExceeded) }

// IsNotFound reports whether err is of the not-found class.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnsupportedFormat reports whether err is of the unsupported-format class.
func IsUnsupportedFormat(err error) bool { return errors.Is(err, ErrUnsupportedFormat) }

// IsCodecFailure reports whether err is of the codec-failure class.
func IsCodecFailure(err error) bool { return errors.Is(err, ErrCodecFailure) }

// IsIOFailure reports whether err is of the i/o-failure class.
func IsIOFailure(err error) bool { return errors.Is(err, ErrIOFailure) }

// IsCancelled reports whether err is of the cancelled class.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// LimitError reports a tripped security limit. Limit names the struct field
// of security.Limits that was exceeded, Max its configured ceiling, and
// Requested the amount the input demanded.
type LimitError struct {
	Limit     string
	Max       uint64
	Requested uint64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("security limit exceeded: %s (limit %d, requested %d)", e.Limit, e.Max, e.Requested)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// Malformed returns a malformed-input error with a formatted message.
func Malformed(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformedInput)...)
}
