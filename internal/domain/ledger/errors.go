package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrInvalidDuration = errors.New("duration must be a finite, non-negative number of seconds")
	ErrInvalidWindow   = errors.New("window must be at least one day")
	ErrEmptyIdentity   = errors.New("identity key is empty")
)
