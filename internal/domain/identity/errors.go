package identity

import "errors"

// Sentinel kinds for identity errors.
var (
	// ErrIdentityDegraded is attached to log lines when no deterministic
	// fingerprint could be computed. It is never returned by Resolve.
	ErrIdentityDegraded = errors.New("identity degraded to a random fingerprint")

	errPreferredUnavailable = errors.New("preferred fingerprint signals unavailable")
	errFallbackUnavailable  = errors.New("fallback fingerprint signals unavailable")
)
