package model

import "time"

// EntryKind distinguishes usage events from checkpoints in the ledger log.
type EntryKind string

// Ledger entry kinds.
const (
	KindUsage      EntryKind = "usage"
	KindCheckpoint EntryKind = "checkpoint"
)

// CheckpointSource names who asserted a checkpoint total.
type CheckpointSource string

// Checkpoint sources.
const (
	SourceReconciliation CheckpointSource = "reconciliation"
	SourceOverride       CheckpointSource = "override"
)

// RecordingLabel is the source label used for live recordings.
const RecordingLabel = "recording"

// UsageEvent is one completed metered operation. Events are immutable.
type UsageEvent struct {
	ID              string        `json:"id"`
	OperationID     string        `json:"operation_id,omitempty"`
	IdentityKey     string        `json:"identity_key"`
	IdentityClass   IdentityClass `json:"identity_class"`
	OccurredAt      time.Time     `json:"occurred_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	SourceLabel     string        `json:"source_label"`
	Bytes           int64         `json:"bytes,omitempty"`
	OutputChars     int           `json:"output_chars,omitempty"`
}

// Checkpoint asserts the absolute consumed total of an identity at a point
// in the log. Usage appended after it adds on top.
type Checkpoint struct {
	ID              string           `json:"id"`
	IdentityKey     string           `json:"identity_key"`
	ConsumedSeconds float64          `json:"consumed_seconds"`
	AsOf            time.Time        `json:"as_of"`
	Source          CheckpointSource `json:"source"`
}

// Entry is a single row of the append-only ledger log. Exactly one of Usage
// or Checkpoint is set, matching Kind.
type Entry struct {
	Seq        int64
	Kind       EntryKind
	Usage      *UsageEvent
	Checkpoint *Checkpoint
}

// DailyUsage is one calendar day of a usage breakdown.
type DailyUsage struct {
	Date         string   `json:"date"`
	TotalSeconds float64  `json:"total_seconds"`
	SourceLabels []string `json:"source_labels"`
}

// UsageSnapshot summarizes an identity's local consumption for
// reconciliation. DeltaSeconds and BaselineSeconds come from the identity's
// SyncState.
type UsageSnapshot struct {
	ReportID        string    `json:"report_id,omitempty"`
	IdentityKey     string    `json:"identity_key"`
	ConsumedSeconds float64   `json:"consumed_seconds"`
	DeltaSeconds    float64   `json:"delta_seconds"`
	BaselineSeconds *float64  `json:"baseline_seconds,omitempty"`
	EventCount      int       `json:"event_count"`
	LastEventAt     time.Time `json:"last_event_at,omitempty"`
}

// Risk is the authority's abuse classification for a reconciled identity.
type Risk string

// Risk levels.
const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// MatchStrategy names how the authority linked a report to a known identity.
type MatchStrategy string

// Match strategies in priority order.
const (
	MatchAccount     MatchStrategy = "account"
	MatchExact       MatchStrategy = "exact"
	MatchFingerprint MatchStrategy = "fingerprint"
	MatchVisitor     MatchStrategy = "visitor"
	MatchDevice      MatchStrategy = "device"
	MatchNew         MatchStrategy = "new"
)

// ServerUsage is the authority's answer to a reconciliation report.
type ServerUsage struct {
	CanonicalID     string        `json:"canonical_id"`
	ConsumedSeconds float64       `json:"consumed_seconds"`
	ConsumedMinutes float64       `json:"consumed_minutes"`
	Risk            Risk          `json:"risk"`
	MatchedBy       MatchStrategy `json:"matched_by"`
}
