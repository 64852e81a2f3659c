package service

import "errors"

// Sentinel kinds for service errors.
var (
	// ErrForbidden is returned when a non-admin calls an admin operation.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicateOperation is returned when an operation id was already
	// recorded for the identity.
	ErrDuplicateOperation = errors.New("operation already recorded")
	// ErrRecordingNotFound is returned for unknown or foreign recording ids.
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrInvalidArgument is returned for malformed inputs.
	ErrInvalidArgument = errors.New("invalid argument")
)
