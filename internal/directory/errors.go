package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no matching visible, non-deleted record.
	ErrNotFound = errors.New("directory: not found")
	// ErrForbidden means the caller's role is insufficient (or anonymous
	// attempting a privileged action).
	ErrForbidden = errors.New("directory: forbidden")
	// ErrConflict means the supplied expected_updated_at did not match the
	// stored version stamp; the caller must re-fetch before retrying.
	ErrConflict = errors.New("directory: version conflict")
	// ErrValidation means malformed or missing input.
	ErrValidation = errors.New("directory: invalid input")
)

// Validationf wraps ErrValidation with a caller-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
