package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/voxmeter/internal/adapters/media"
	syncqueue "github.com/okian/voxmeter/internal/adapters/mq/queue"
	"github.com/okian/voxmeter/internal/domain/admission"
	"github.com/okian/voxmeter/internal/domain/ledger"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

// UploadLabel is the source label of uploaded files.
const UploadLabel = "upload"

// Upload is the admitted part of an uploaded payload.
type Upload struct {
	Decision model.AdmissionDecision `json:"decision"`
	Quota    model.QuotaState        `json:"quota"`
	Probe    media.Probe             `json:"-"`
	// Payload is the audio that may be processed; nil when denied.
	Payload       []byte  `json:"-"`
	BilledSeconds float64 `json:"billed_seconds"`
	Imprecise     bool    `json:"imprecise,omitempty"`
}

// AdmitUpload probes payload and applies the quota. A truncated decision
// returns the payload cut to the remaining allowance. Nothing is held
// once it returns; Transcribe keeps the admitted seconds reserved until the
// usage is recorded.
func (s *Service) AdmitUpload(ctx context.Context, ic model.IdentityContext, payload []byte, declaredSeconds float64) (Upload, error) {
	up, release, err := s.admit(ctx, ic, payload, declaredSeconds)
	release()
	return up, err
}

// admit decides on payload and reserves the admitted seconds. The caller
// must call release once the upload is recorded or abandoned.
func (s *Service) admit(ctx context.Context, ic model.IdentityContext, payload []byte, declaredSeconds float64) (up Upload, release func(), err error) {
	release = func() {}

	probe, perr := s.prober.Probe(ctx, payload, declaredSeconds)
	if perr != nil {
		metrics.RecordProbeFailure()
		s.logger.Warn(ctx, "duration probe failed",
			logger.String("identity_key", ic.Key),
			logger.Int("bytes", len(payload)),
			logger.Error(perr),
		)
	}
	requested := decimal.SecondsToMinutes(decimal.FromFloat(probe.Seconds)).Float64()

	s.bootstrap(ctx, ic)
	s.admitMu.Lock()
	q, err := s.quota(ctx, ic)
	if err != nil {
		s.admitMu.Unlock()
		return Upload{}, release, err
	}
	d := admission.CheckProbe(requested, perr, q)
	if d.Allowed && !q.Unlimited {
		hold := probe.Seconds
		if d.Truncated() {
			hold = decimal.MinutesToSeconds(decimal.FromFloat(*d.TruncatedToMinutes)).Float64()
		}
		release = s.reserve(ic.Key, hold)
	}
	s.admitMu.Unlock()
	s.observeDecision(ctx, ic, d, probe.Seconds)

	up = Upload{Decision: d, Quota: q, Probe: probe}
	if err := admission.Err(d); err != nil {
		return up, release, err
	}
	if !d.Truncated() {
		up.Payload, up.BilledSeconds = payload, probe.Seconds
		return up, release, nil
	}

	allowed := decimal.MinutesToSeconds(decimal.FromFloat(*d.TruncatedToMinutes)).Float64()
	cut, err := admission.Truncate(ctx, payload, probe.Seconds, allowed)
	if err != nil {
		release()
		return up, func() {}, fmt.Errorf("truncate upload: %w", err)
	}
	up.Payload, up.BilledSeconds, up.Imprecise = cut.Payload, cut.Seconds, cut.Imprecise
	return up, release, nil
}

// Transcription is the result of a metered transcription.
type Transcription struct {
	Text   string           `json:"text"`
	Upload Upload           `json:"admission"`
	Event  model.UsageEvent `json:"usage_event"`
}

// Transcribe admits payload, sends the admitted part to the transcriber and
// records usage once the transcript is back. The admitted seconds stay
// reserved meanwhile, so concurrent uploads of one identity cannot spend
// the same balance. A failed transcription is not billed.
func (s *Service) Transcribe(ctx context.Context, ic model.IdentityContext, payload []byte, declaredSeconds float64, contentType, operationID string) (Transcription, error) {
	up, release, err := s.admit(ctx, ic, payload, declaredSeconds)
	defer release()
	if err != nil {
		return Transcription{Upload: up}, err
	}
	res, err := s.transcriber.Transcribe(ctx, up.Payload, contentType)
	if err != nil {
		return Transcription{Upload: up}, fmt.Errorf("transcribe: %w", err)
	}
	ev, err := s.RecordCompletedUsage(ctx, ic, up.BilledSeconds, UploadLabel, operationID,
		ledger.WithBytes(int64(len(up.Payload))),
		ledger.WithOutputChars(len([]rune(res.Text))),
	)
	if err != nil {
		return Transcription{Text: res.Text, Upload: up}, err
	}
	return Transcription{Text: res.Text, Upload: up, Event: ev}, nil
}

// RecordCompletedUsage appends a usage event for a finished operation. A
// non-empty operationID is recorded at most once per identity.
func (s *Service) RecordCompletedUsage(ctx context.Context, ic model.IdentityContext, seconds float64, label, operationID string, opts ...ledger.RecordOption) (model.UsageEvent, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID != "" && s.guard.SeenAndRecord(ctx, ic.Key, operationID) {
		metrics.RecordDuplicateOperation()
		s.logger.Info(ctx, "duplicate operation suppressed",
			logger.String("identity_key", ic.Key),
			logger.String("operation_id", operationID),
		)
		return model.UsageEvent{}, ErrDuplicateOperation
	}
	if operationID != "" {
		opts = append(opts, ledger.WithOperationID(operationID))
	}

	ev, err := s.ledger.RecordUsage(ctx, ic.Key, ic.Class, seconds, label, opts...)
	if err != nil {
		if operationID != "" {
			s.guard.Unrecord(ctx, ic.Key, operationID)
		}
		if errors.Is(err, ledger.ErrInvalidDuration) || errors.Is(err, ledger.ErrEmptyIdentity) {
			return model.UsageEvent{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return model.UsageEvent{}, err
	}
	s.enqueueSync(ctx, ic, "usage")
	return ev, nil
}

// enqueueSync schedules a background reconciliation. It never blocks.
func (s *Service) enqueueSync(ctx context.Context, ic model.IdentityContext, reason string) {
	if !s.reconciler.Enabled() {
		return
	}
	err := s.syncQueue.Load().Enqueue(ctx, syncqueue.Job{Caller: ic, Reason: reason, EnqueuedAt: s.clock.Now()})
	if err != nil {
		s.logger.Warn(ctx, "sync job dropped",
			logger.String("identity_key", ic.Key),
			logger.Error(err),
		)
	}
}
