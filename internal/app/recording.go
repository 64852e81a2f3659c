package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/okian/voxmeter/internal/domain/admission"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

// session is one live recording owned by an identity.
type session struct {
	id        string
	caller    model.IdentityContext
	rec       *admission.Recording
	startedAt time.Time
	finalized chan struct{}
	// release frees the quota held for the recording's limit.
	release func()

	mu    sync.Mutex
	event *model.UsageEvent
}

// RecordingInfo describes a live recording.
type RecordingInfo struct {
	ID               string              `json:"id"`
	State            admission.State     `json:"state"`
	ElapsedSeconds   float64             `json:"elapsed_seconds"`
	LimitSeconds     float64             `json:"limit_seconds"`
	RemainingSeconds float64             `json:"remaining_seconds"`
	StopCause        admission.StopCause `json:"stop_cause,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	Event            *model.UsageEvent   `json:"usage_event,omitempty"`
}

func (sess *session) info() RecordingInfo {
	st := sess.rec.Status()
	sess.mu.Lock()
	ev := sess.event
	sess.mu.Unlock()
	return RecordingInfo{
		ID:               sess.id,
		State:            st.State,
		ElapsedSeconds:   st.Elapsed.Seconds(),
		LimitSeconds:     st.Limit.Seconds(),
		RemainingSeconds: st.Remaining.Seconds(),
		StopCause:        st.Cause,
		StartedAt:        sess.startedAt,
		Event:            ev,
	}
}

// StartRecording begins monitoring a live capture against ic's quota. The
// capture is released exactly once whenever the recording ends, including
// when it is refused here.
func (s *Service) StartRecording(ctx context.Context, ic model.IdentityContext, capture admission.Capture) (RecordingInfo, error) {
	s.bootstrap(ctx, ic)
	s.admitMu.Lock()
	q, err := s.quota(ctx, ic)
	if err != nil {
		s.admitMu.Unlock()
		releaseCapture(capture)
		return RecordingInfo{}, err
	}
	if !q.Unlimited && q.RemainingMinutes <= 0 {
		s.admitMu.Unlock()
		releaseCapture(capture)
		metrics.RecordAdmission(string(ic.Class), string(model.ReasonQuotaExhausted))
		return RecordingInfo{}, admission.ErrQuotaExhausted
	}

	sess := &session{
		id:        "rec_" + ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy()).String(),
		caller:    ic,
		startedAt: s.clock.Now().UTC(),
		finalized: make(chan struct{}),
		release:   func() {},
	}
	sess.rec = admission.NewRecording(q, capture,
		admission.WithTick(s.recordingTick),
		admission.WithCeiling(s.recordingCeiling),
		admission.WithRecordingClock(s.clock),
		admission.WithOnStop(func(st admission.Status) { s.finalize(sess, st) }),
	)
	if !q.Unlimited {
		sess.release = s.reserve(ic.Key, sess.rec.Status().Limit.Seconds())
	}
	s.admitMu.Unlock()

	s.recMu.Lock()
	s.recordings[sess.id] = sess
	s.recMu.Unlock()

	s.mu.RLock()
	runCtx := s.runCtx
	s.mu.RUnlock()
	if err := sess.rec.Start(runCtx); err != nil {
		sess.release()
		return RecordingInfo{}, fmt.Errorf("start recording: %w", err)
	}
	reason := model.ReasonOK
	if q.Unlimited {
		reason = model.ReasonUnlimited
	}
	metrics.RecordAdmission(string(ic.Class), string(reason))
	s.updateActiveRecordings()
	s.logger.Info(ctx, "recording started",
		logger.String("identity_key", ic.Key),
		logger.String("recording_id", sess.id),
		logger.Bool("unlimited", q.Unlimited),
		logger.Float64("remaining_minutes", q.RemainingMinutes),
	)
	return sess.info(), nil
}

func releaseCapture(c admission.Capture) {
	if c != nil {
		_ = c.Release()
	}
}

// finalize bills a stopped recording. The recording id is the operation id,
// so a recording is billed at most once. The session is forgotten after
// recordingRetention unless FinishRecording collects it first.
func (s *Service) finalize(sess *session, st admission.Status) {
	defer close(sess.finalized)
	defer s.updateActiveRecordings()
	defer s.clock.AfterFunc(s.recordingRetention, func() { s.evict(sess) }, "recording", "retention")
	defer sess.release()

	ctx := context.Background()
	s.logger.Info(ctx, "recording stopped",
		logger.String("identity_key", sess.caller.Key),
		logger.String("recording_id", sess.id),
		logger.String("cause", string(st.Cause)),
		logger.Duration("elapsed", st.Elapsed),
	)
	if err := sess.rec.ReleaseErr(); err != nil {
		s.logger.Warn(ctx, "capture release failed", logger.Error(err))
	}

	billed := st.BilledSeconds()
	if billed <= 0 {
		return
	}
	ev, err := s.RecordCompletedUsage(ctx, sess.caller, billed, model.RecordingLabel, sess.id)
	if err != nil {
		if !errors.Is(err, ErrDuplicateOperation) {
			s.logger.Error(ctx, "recording usage not recorded",
				logger.String("recording_id", sess.id),
				logger.Error(err),
			)
		}
		return
	}
	sess.mu.Lock()
	sess.event = &ev
	sess.mu.Unlock()
}

func (s *Service) evict(sess *session) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	if s.recordings[sess.id] == sess {
		delete(s.recordings, sess.id)
	}
}

func (s *Service) lookup(ic model.IdentityContext, id string) (*session, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	sess, ok := s.recordings[id]
	if !ok || sess.caller.Key != ic.Key {
		return nil, ErrRecordingNotFound
	}
	return sess, nil
}

func (s *Service) updateActiveRecordings() {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	n := 0
	for _, sess := range s.recordings {
		if st := sess.rec.Status().State; st == admission.StateRunning || st == admission.StatePaused {
			n++
		}
	}
	metrics.UpdateRecordingsActive(n)
}

// RecordingStatus reports a recording owned by ic.
func (s *Service) RecordingStatus(_ context.Context, ic model.IdentityContext, id string) (RecordingInfo, error) {
	sess, err := s.lookup(ic, id)
	if err != nil {
		return RecordingInfo{}, err
	}
	return sess.info(), nil
}

// PauseRecording stops time from accruing on a recording.
func (s *Service) PauseRecording(_ context.Context, ic model.IdentityContext, id string) (RecordingInfo, error) {
	sess, err := s.lookup(ic, id)
	if err != nil {
		return RecordingInfo{}, err
	}
	if err := sess.rec.Pause(); err != nil {
		return sess.info(), err
	}
	return sess.info(), nil
}

// ResumeRecording resumes a paused recording.
func (s *Service) ResumeRecording(_ context.Context, ic model.IdentityContext, id string) (RecordingInfo, error) {
	sess, err := s.lookup(ic, id)
	if err != nil {
		return RecordingInfo{}, err
	}
	if err := sess.rec.Resume(); err != nil {
		return sess.info(), err
	}
	return sess.info(), nil
}

// FinishRecording stops a recording if it is still running, waits until it
// is billed and forgets it.
func (s *Service) FinishRecording(ctx context.Context, ic model.IdentityContext, id string) (RecordingInfo, error) {
	sess, err := s.lookup(ic, id)
	if err != nil {
		return RecordingInfo{}, err
	}
	sess.rec.Stop()
	select {
	case <-sess.finalized:
	case <-ctx.Done():
		return sess.info(), ctx.Err()
	}

	s.recMu.Lock()
	delete(s.recordings, id)
	s.recMu.Unlock()
	return sess.info(), nil
}
