package model

import "time"

// SyncJob asks the background workers to reconcile one identity.
type SyncJob struct {
	Caller     IdentityContext
	Reason     string
	EnqueuedAt time.Time
}

// SyncState is what an identity last agreed with the authority.
// AckedSeconds is the server total at the last successful reconciliation;
// usage recorded locally beyond it has not been reported yet. A non-nil
// BaselineSeconds is an administrative total the authority has not seen.
type SyncState struct {
	AckedSeconds    float64   `json:"acked_seconds"`
	BaselineSeconds *float64  `json:"baseline_seconds,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
