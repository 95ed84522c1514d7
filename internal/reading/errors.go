package reading

import "errors"

var (
	// ErrNotFound is returned when a session or content record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("forbidden: session belongs to another user")

	// ErrConflict is returned when a concurrent writer changed the session
	// phase between read and conditional update.
	ErrConflict = errors.New("session phase changed concurrently")
)

// ValidationError is a user-facing rejection with a specific reason.
// It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
