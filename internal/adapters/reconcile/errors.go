package reconcile

import "errors"

// Sentinel kinds for reconciliation errors.
var (
	// ErrReconciliationUnavailable wraps every failure to reach or use the
	// authority. Callers log it and keep the local total.
	ErrReconciliationUnavailable = errors.New("reconciliation unavailable")

	errUnexpectedStatus = errors.New("unexpected authority status")
)
