package model

import "time"

// RegistryRecord is the authority's view of one canonical identity.
type RegistryRecord struct {
	CanonicalID     string        `json:"canonical_id"`
	AccountKey      string        `json:"account_key,omitempty"`
	VisitorID       string        `json:"visitor_id,omitempty"`
	Fingerprint     string        `json:"fingerprint,omitempty"`
	Device          DeviceSignals `json:"device"`
	ConsumedSeconds float64       `json:"consumed_seconds"`
	LastReportID    string        `json:"last_report_id,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ReconcileReport is what a client sends to the authority.
//
// DeltaSeconds is the usage the client has not yet reported. The authority
// adds it to the canonical total once per ReportID. BaselineSeconds, when
// set, replaces the canonical total before the delta is added; clients send
// it after an administrative reset or override. ConsumedSeconds is the
// client's local total and only seeds a brand new record.
type ReconcileReport struct {
	ReportID        string        `json:"report_id,omitempty"`
	IdentityKey     string        `json:"identity_key"`
	Class           IdentityClass `json:"identity_class"`
	AccountKey      string        `json:"account_key,omitempty"`
	VisitorID       string        `json:"visitor_id,omitempty"`
	Fingerprint     string        `json:"fingerprint,omitempty"`
	Degraded        bool          `json:"degraded"`
	Device          DeviceSignals `json:"device"`
	ConsumedSeconds float64       `json:"consumed_seconds"`
	DeltaSeconds    float64       `json:"delta_seconds"`
	BaselineSeconds *float64      `json:"baseline_seconds,omitempty"`
	EventCount      int           `json:"event_count"`
	LastEventAt     time.Time     `json:"last_event_at,omitempty"`
}
