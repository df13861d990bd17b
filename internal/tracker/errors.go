package tracker

import "errors"

var (
	// ErrInvalidTransition is returned for an illegal state-machine move. The
	// record is left unchanged; callers must re-fetch the current state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyTerminal is returned for a conflicting operation on a record
	// already in a terminal state. The original terminal state is preserved.
	ErrAlreadyTerminal = errors.New("record is already in a terminal state")

	// ErrVersionConflict is returned by stores when an update carries a stale
	// record version.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrNotFound is returned when no record exists for the requested key.
	ErrNotFound = errors.New("record not found")
)
