package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/metrics"
)

// Defaults for live recordings.
const (
	DefaultTick    = time.Second
	DefaultCeiling = 10 * time.Minute
)

// StopCause says why a recording ended.
type StopCause string

// Stop causes.
const (
	CauseQuota    StopCause = "quota"
	CauseCeiling  StopCause = "ceiling"
	CauseUser     StopCause = "user"
	CauseCanceled StopCause = "canceled"
)

// State is the lifecycle state of a recording.
type State string

// Recording states.
const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Capture is the resource a recording holds open, typically a microphone
// stream. Release is called exactly once.
type Capture interface {
	Release() error
}

// CaptureFunc adapts a function to Capture.
type CaptureFunc func() error

// Release calls f.
func (f CaptureFunc) Release() error { return f() }

// Status is a point-in-time view of a recording.
type Status struct {
	State     State         `json:"state"`
	Elapsed   time.Duration `json:"elapsed"`
	Limit     time.Duration `json:"limit"`
	Remaining time.Duration `json:"remaining"`
	Cause     StopCause     `json:"cause,omitempty"`
}

// RecordingOption configures a Recording.
type RecordingOption func(*Recording)

// WithTick sets the polling interval.
func WithTick(d time.Duration) RecordingOption {
	return func(r *Recording) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithCeiling sets the hard per-recording limit.
func WithCeiling(d time.Duration) RecordingOption {
	return func(r *Recording) {
		if d > 0 {
			r.ceiling = d
		}
	}
}

// WithRecordingClock sets the clock driving the ticker.
func WithRecordingClock(clock quartz.Clock) RecordingOption {
	return func(r *Recording) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithOnStop registers a callback invoked once, after the capture is
// released, with the final status.
func WithOnStop(fn func(Status)) RecordingOption {
	return func(r *Recording) { r.onStop = fn }
}

var errStopTicker = errors.New("stop ticker")

// Recording enforces quota on a live capture. It polls elapsed time on a
// ticker and stops once elapsed reaches min(remaining quota, ceiling), so
// overshoot is bounded by one tick.
type Recording struct {
	clock   quartz.Clock
	tick    time.Duration
	ceiling time.Duration
	capture Capture
	onStop  func(Status)

	mu          sync.Mutex
	limit       time.Duration
	limitCause  StopCause
	state       State
	cause       StopCause
	accumulated time.Duration
	resumedAt   time.Time
	tickCancel  context.CancelFunc
	done        chan struct{}
	releaseErr  error
}

// NewRecording prepares a recording for q. Call Start to begin polling.
func NewRecording(q model.QuotaState, capture Capture, opts ...RecordingOption) *Recording {
	r := &Recording{
		clock:   quartz.NewReal(),
		tick:    DefaultTick,
		ceiling: DefaultCeiling,
		capture: capture,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.limit, r.limitCause = r.ceiling, CauseCeiling
	if !q.Unlimited {
		remaining := decimal.MinutesToSeconds(decimal.Max(decimal.FromFloat(q.RemainingMinutes), decimal.Zero))
		if d := time.Duration(remaining.Mul(decimal.FromInt64(int64(time.Second))).Float64()); d < r.ceiling {
			r.limit, r.limitCause = d, CauseQuota
		}
	}
	return r
}

// Start begins polling. The recording also stops when ctx is canceled.
func (r *Recording) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != "" {
		r.mu.Unlock()
		return ErrRecordingStopped
	}
	r.state = StateRunning
	r.resumedAt = r.clock.Now()
	if r.limit <= 0 {
		r.mu.Unlock()
		r.stop(CauseQuota)
		return nil
	}
	r.startTickerLocked()
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			r.stop(CauseCanceled)
		case <-r.done:
		}
	}()
	return nil
}

// startTickerLocked must be called with r.mu held.
func (r *Recording) startTickerLocked() {
	tctx, cancel := context.WithCancel(context.Background())
	r.tickCancel = cancel
	r.clock.TickerFunc(tctx, r.tick, func() error {
		if r.onTick() {
			return errStopTicker
		}
		return nil
	}, "recording")
}

// onTick returns true when the ticker should exit.
func (r *Recording) onTick() bool {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return true
	}
	elapsed := r.elapsedLocked()
	cause := r.limitCause
	r.mu.Unlock()

	if elapsed >= r.limit {
		r.stop(cause)
		return true
	}
	return false
}

func (r *Recording) elapsedLocked() time.Duration {
	if r.state == StateRunning {
		return r.accumulated + r.clock.Since(r.resumedAt)
	}
	return r.accumulated
}

// Pause stops the ticker; elapsed time stops accruing.
func (r *Recording) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRunning:
	case StatePaused:
		return nil
	default:
		return ErrRecordingStopped
	}
	r.accumulated += r.clock.Since(r.resumedAt)
	r.state = StatePaused
	if r.tickCancel != nil {
		r.tickCancel()
		r.tickCancel = nil
	}
	return nil
}

// Resume restarts the ticker after Pause.
func (r *Recording) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StatePaused:
	case StateRunning:
		return nil
	default:
		return ErrRecordingStopped
	}
	r.state = StateRunning
	r.resumedAt = r.clock.Now()
	r.startTickerLocked()
	return nil
}

// Stop ends the recording on user request. Stopping twice is a no-op.
func (r *Recording) Stop() Status {
	r.stop(CauseUser)
	return r.Status()
}

func (r *Recording) stop(cause StopCause) {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	if r.state == StateRunning {
		r.accumulated += r.clock.Since(r.resumedAt)
	}
	r.state = StateStopped
	r.cause = cause
	if r.tickCancel != nil {
		r.tickCancel()
		r.tickCancel = nil
	}
	r.mu.Unlock()

	var err error
	if r.capture != nil {
		err = r.capture.Release()
	}

	r.mu.Lock()
	r.releaseErr = err
	r.mu.Unlock()

	metrics.RecordRecordingStop(string(cause))
	close(r.done)
	if r.onStop != nil {
		r.onStop(r.Status())
	}
}

// Done is closed once the recording has stopped and the capture is released.
func (r *Recording) Done() <-chan struct{} { return r.done }

// ReleaseErr returns the error from releasing the capture, if any.
func (r *Recording) ReleaseErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseErr
}

// Status reports the current state.
func (r *Recording) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.elapsedLocked()
	s := Status{State: r.state, Elapsed: elapsed, Limit: r.limit, Cause: r.cause}
	if s.State == "" {
		s.State = StateIdle
	}
	if elapsed < r.limit {
		s.Remaining = r.limit - elapsed
	}
	return s
}

// BilledSeconds is the elapsed time capped at the limit.
func (s Status) BilledSeconds() float64 {
	return min(s.Elapsed, s.Limit).Seconds()
}
