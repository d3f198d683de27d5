// README: Ride error kinds shared by the controller, driver service and feed.
package ride

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("invalid ride request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoLongerAvailable = errors.New("ride is no longer available")
	ErrPersistence       = errors.New("ride store unavailable")
	ErrNotFound          = errors.New("ride not found")
	ErrForbidden         = errors.New("ride belongs to someone else")

	// ErrConflict is returned by stores when a conditional update finds the
	// ride in a status outside the expected set. Callers translate it.
	ErrConflict = errors.New("ride state conflict")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError passes not-found and conflict through and wraps anything else
// as a persistence failure, keeping the cause.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
