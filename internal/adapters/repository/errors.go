package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrLocked       = errors.New("data directory is locked by another process")
	ErrInvalidEntry = errors.New("invalid ledger entry")
	ErrClosed       = errors.New("store closed")
)
