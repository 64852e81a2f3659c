package admission

import "errors"

// Sentinel kinds for admission errors.
var (
	ErrDurationUnknown     = errors.New("audio duration unknown")
	ErrQuotaExhausted      = errors.New("quota exhausted")
	ErrTruncationImprecise = errors.New("truncation is byte-proportional and may not align with audio frames")
	ErrRecordingStopped    = errors.New("recording already stopped")
)
