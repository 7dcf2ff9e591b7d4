package storage

import "errors"

// Sentinel errors for classifying store failures. Backends wrap these
// with context via fmt.Errorf("...: %w", Err...) so callers can use
// errors.Is while logs keep the detail.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or state conflict, such as
	// publishing a version that already exists or registering a taken
	// email address.
	ErrConflict = errors.New("conflict")

	// ErrInvalid indicates the caller supplied data the store cannot
	// accept, independent of current state.
	ErrInvalid = errors.New("invalid")

	// ErrUnavailable indicates the backend could not be reached or the
	// operation failed for infrastructure reasons. Callers should treat
	// it as retryable.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalid reports whether err wraps ErrInvalid.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }

// IsUnavailable reports whether err wraps ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
