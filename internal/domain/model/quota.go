package model

// QuotaState is derived at read time and never persisted.
type QuotaState struct {
	Class            IdentityClass `json:"identity_class"`
	AllotmentMinutes float64       `json:"allotment_minutes"`
	ConsumedMinutes  float64       `json:"consumed_minutes"`
	RemainingMinutes float64       `json:"remaining_minutes"`
	// Unlimited marks the administrative sentinel allotment.
	Unlimited bool `json:"unlimited"`
	// Overridden marks an allotment replaced by an administrator.
	Overridden bool `json:"overridden,omitempty"`
	// ReservedMinutes is held by admitted operations that have not been
	// recorded yet. RemainingMinutes already excludes it.
	ReservedMinutes float64 `json:"reserved_minutes,omitempty"`
}

// Reason explains an admission decision.
type Reason string

// Admission reasons.
const (
	ReasonOK              Reason = "ok"
	ReasonTruncated       Reason = "truncated"
	ReasonUnlimited       Reason = "unlimited"
	ReasonQuotaExhausted  Reason = "quota-exhausted"
	ReasonDurationUnknown Reason = "duration-unknown"
)

// AdmissionDecision is computed per request and never persisted.
type AdmissionDecision struct {
	Allowed            bool     `json:"allowed"`
	TruncatedToMinutes *float64 `json:"truncated_to_minutes,omitempty"`
	Reason             Reason   `json:"reason"`
}

// Truncated reports whether the decision admits only part of the request.
func (d AdmissionDecision) Truncated() bool {
	return d.Allowed && d.TruncatedToMinutes != nil
}
