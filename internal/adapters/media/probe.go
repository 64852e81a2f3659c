package media

import (
	"context"
	"fmt"
	"math"
)

// Format labels the payload container.
type Format string

// Known formats.
const (
	FormatWAV   Format = "wav"
	FormatOther Format = "other"
)

// Probe is the measured duration of a payload.
type Probe struct {
	Seconds float64
	Format  Format
	// Declared is set when the duration came from the caller rather than
	// from decoding the payload.
	Declared bool
}

// Prober measures audio payloads.
type Prober interface {
	Probe(ctx context.Context, payload []byte, declaredSeconds float64) (Probe, error)
}

// HeaderProber decodes WAV headers and falls back to a caller-declared
// duration for containers it cannot read.
type HeaderProber struct{}

// NewHeaderProber creates a HeaderProber.
func NewHeaderProber() *HeaderProber { return &HeaderProber{} }

// Probe returns ErrDurationUnknown when neither the header nor the caller
// yields a usable duration.
func (HeaderProber) Probe(_ context.Context, payload []byte, declaredSeconds float64) (Probe, error) {
	if IsWAV(payload) {
		info, err := ParseWAV(payload)
		if err != nil {
			return Probe{}, fmt.Errorf("%w: %w", ErrDurationUnknown, err)
		}
		return Probe{Seconds: info.Seconds(), Format: FormatWAV}, nil
	}
	if declaredSeconds > 0 && !math.IsInf(declaredSeconds, 0) {
		return Probe{Seconds: declaredSeconds, Format: FormatOther, Declared: true}, nil
	}
	return Probe{}, ErrDurationUnknown
}
