// Package admission decides whether a metered operation may run, and how
// much of it, before any audio is processed.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/okian/voxmeter/internal/adapters/media"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

// Check decides on a request of requestedMinutes against q.
func Check(requestedMinutes float64, q model.QuotaState) model.AdmissionDecision {
	if q.Unlimited {
		return model.AdmissionDecision{Allowed: true, Reason: model.ReasonUnlimited}
	}
	remaining := decimal.FromFloat(q.RemainingMinutes)
	if remaining.Sign() <= 0 {
		return model.AdmissionDecision{Allowed: false, Reason: model.ReasonQuotaExhausted}
	}
	if math.IsNaN(requestedMinutes) || requestedMinutes < 0 {
		requestedMinutes = 0
	}
	if decimal.FromFloat(requestedMinutes).Cmp(remaining) <= 0 {
		return model.AdmissionDecision{Allowed: true, Reason: model.ReasonOK}
	}
	allowed := remaining.Float64()
	return model.AdmissionDecision{Allowed: true, TruncatedToMinutes: &allowed, Reason: model.ReasonTruncated}
}

// CheckProbe is Check for callers that had to probe the payload first. A
// failed probe denies the request rather than guessing.
func CheckProbe(requestedMinutes float64, probeErr error, q model.QuotaState) model.AdmissionDecision {
	if probeErr != nil {
		return model.AdmissionDecision{Allowed: false, Reason: model.ReasonDurationUnknown}
	}
	return Check(requestedMinutes, q)
}

// Err maps a denied decision to its sentinel error. It returns nil for
// allowed decisions.
func Err(d model.AdmissionDecision) error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case model.ReasonDurationUnknown:
		return ErrDurationUnknown
	default:
		return ErrQuotaExhausted
	}
}

// Truncation is a payload cut to fit an admission decision.
type Truncation struct {
	Payload []byte
	Seconds float64
	// Imprecise marks a byte-proportional cut that may split an audio frame
	// or land inside a compressed packet.
	Imprecise bool
}

// Truncate keeps the first allowedSeconds of payload. PCM WAV payloads are
// cut on a frame boundary with their header rewritten. Anything else is cut
// proportionally by byte count, which assumes a constant bitrate.
func Truncate(ctx context.Context, payload []byte, totalSeconds, allowedSeconds float64) (Truncation, error) {
	if allowedSeconds >= totalSeconds {
		return Truncation{Payload: payload, Seconds: totalSeconds}, nil
	}
	if allowedSeconds < 0 {
		allowedSeconds = 0
	}

	if media.IsWAV(payload) {
		out, info, err := media.TruncateWAV(payload, allowedSeconds)
		if err == nil {
			metrics.RecordTruncation(true)
			return Truncation{Payload: out, Seconds: info.Seconds()}, nil
		}
		if !errors.Is(err, media.ErrUnsupportedFormat) {
			return Truncation{}, fmt.Errorf("truncate wav: %w", err)
		}
	}

	if totalSeconds <= 0 {
		return Truncation{}, ErrDurationUnknown
	}
	ratio := decimal.FromFloat(allowedSeconds).Div(decimal.FromFloat(totalSeconds))
	n := int(math.Floor(ratio.Mul(decimal.FromInt64(int64(len(payload)))).Float64()))
	n = max(0, min(n, len(payload)))

	metrics.RecordTruncation(false)
	logger.Named("admission").Warn(ctx, "imprecise truncation",
		logger.Error(ErrTruncationImprecise),
		logger.Int("bytes_total", len(payload)),
		logger.Int("bytes_kept", n),
		logger.Float64("allowed_seconds", allowedSeconds),
	)
	return Truncation{Payload: payload[:n:n], Seconds: allowedSeconds, Imprecise: true}, nil
}
