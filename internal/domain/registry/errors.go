package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	// ErrInvalidReport is returned when a report carries no usable handle.
	ErrInvalidReport = errors.New("invalid reconcile report")
)
