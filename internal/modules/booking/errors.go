// README: Booking error taxonomy shared by the store, the engine and the HTTP layer.
package booking

import "errors"

var (
	ErrValidation        = errors.New("invalid booking request")
	ErrUnauthenticated   = errors.New("rider not authenticated")
	ErrNotFound          = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStoreUnavailable  = errors.New("booking store unavailable")

	// ErrConflict is returned by a Durable when the stored status no longer
	// matches the expected pre-image. The Store translates it to ErrInvalidTransition.
	ErrConflict = errors.New("booking state conflict")
)

// IsBenign reports whether err is the expected outcome of losing an assignment race.
func IsBenign(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
