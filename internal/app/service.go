// Package service is the metering core the daemon's HTTP API talks to. It
// owns every identity and usage component explicitly; nothing is global.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/okian/voxmeter/internal/adapters/media"
	syncqueue "github.com/okian/voxmeter/internal/adapters/mq/queue"
	workerpool "github.com/okian/voxmeter/internal/adapters/mq/worker"
	"github.com/okian/voxmeter/internal/adapters/reconcile"
	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/adapters/transcribe"
	"github.com/okian/voxmeter/internal/domain/admission"
	"github.com/okian/voxmeter/internal/domain/dedupe"
	"github.com/okian/voxmeter/internal/domain/identity"
	"github.com/okian/voxmeter/internal/domain/ledger"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/internal/domain/quota"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

const (
	defaultWorkerCount        = 1
	defaultQueueSize          = 1024
	defaultDedupeSize         = 10000
	defaultRecordingRetention = 10 * time.Minute
	defaultBootstrapTimeout   = 2 * time.Second
	defaultBootstrapRetry     = time.Minute
)

// Reconciler reports local usage to the authority.
type Reconciler interface {
	Enabled() bool
	Report(ctx context.Context, ic model.IdentityContext, snap model.UsageSnapshot) (model.ServerUsage, error)
}

// Service implements the metered operations of the daemon.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	store       repository.Store
	clock       quartz.Clock
	loc         *time.Location
	policy      *quota.Policy
	prober      media.Prober
	transcriber transcribe.Transcriber
	reconciler  Reconciler

	// Core components
	ledger     *ledger.Ledger
	identities *identity.Resolver
	guard      dedupe.Guard
	syncQueue  atomic.Pointer[syncqueue.InMemoryQueue]
	workerPool *workerpool.Pool

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	recordingTick      time.Duration
	recordingCeiling   time.Duration
	recordingRetention time.Duration
	bootstrapTimeout   time.Duration
	bootstrapRetry     time.Duration

	// Serializes Reconcile and the admin operations that move sync state.
	reconcileMu sync.Mutex

	// Failed first reconciliations, so an unreachable authority is not
	// asked again on every admission.
	bootMu     sync.Mutex
	bootFailed map[string]time.Time

	// admitMu makes each quota read and the reservation that follows it
	// one step.
	admitMu sync.Mutex
	resMu   sync.Mutex
	held    map[string]decimal.Decimal

	// Live recordings
	recMu      sync.Mutex
	recordings map[string]*session

	// State
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc

	logger logger.Logger
}

// New constructs a Service. Without WithStore it keeps state in memory.
func New(opts ...Option) *Service {
	s := &Service{
		clock:            quartz.NewReal(),
		loc:              time.Local,
		workerCount:      defaultWorkerCount,
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		recordingTick:      admission.DefaultTick,
		recordingCeiling:   admission.DefaultCeiling,
		recordingRetention: defaultRecordingRetention,
		bootstrapTimeout:   defaultBootstrapTimeout,
		bootstrapRetry:     defaultBootstrapRetry,
		bootFailed:         make(map[string]time.Time),
		held:               make(map[string]decimal.Decimal),
		recordings:         make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.policy == nil {
		s.policy = quota.NewPolicy()
	}
	if s.prober == nil {
		s.prober = media.NewHeaderProber()
	}
	if s.transcriber == nil {
		s.transcriber = transcribe.New("")
	}
	if s.reconciler == nil {
		s.reconciler = reconcile.New("")
	}

	s.ledger = ledger.New(s.store, ledger.WithClock(s.clock), ledger.WithLocation(s.loc))
	s.identities = identity.New(s.store, identity.WithClock(s.clock))
	s.guard = dedupe.NewOperationGuard(dedupe.WithMaxSize(s.dedupeSize))
	s.syncQueue.Store(syncqueue.NewInMemoryQueue(syncqueue.WithCapacity(s.queueSize)))
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

// Start launches the reconciliation workers. A stopped service can be
// started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	// Shutdown closed the previous queue and canceled the run context.
	if s.syncQueue.Load().IsClosed() {
		s.syncQueue.Store(syncqueue.NewInMemoryQueue(syncqueue.WithCapacity(s.queueSize)))
	}
	if s.runCtx.Err() != nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}

	s.workerPool = workerpool.NewPool(s.workerCount, s.syncQueue.Load(), workerpool.ProcessorFunc(s.processSync))
	s.workerPool.Start(s.runCtx)

	s.started = true
	s.logger.Info(ctx, "metering service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Bool("reconciliation", s.reconciler.Enabled()),
	)
	return nil
}

// Stop ends live recordings, billing what they captured, and drains the
// sync workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info(ctx, "stopping metering service")

	s.recMu.Lock()
	live := make([]*session, 0, len(s.recordings))
	for _, sess := range s.recordings {
		live = append(live, sess)
	}
	s.recMu.Unlock()
	for _, sess := range live {
		sess.rec.Stop()
	}

	var err error
	if s.started && s.workerPool != nil {
		err = s.workerPool.Shutdown(ctx)
		s.workerPool = nil
	}
	s.runCancel()
	s.started = false
	if err != nil {
		return fmt.Errorf("stop workers: %w", err)
	}
	s.logger.Info(ctx, "metering service stopped")
	return nil
}

// ResolveCaller derives the identity context from the principal asserted
// by the auth boundary and the caller's device signals.
func (s *Service) ResolveCaller(ctx context.Context, p model.Principal, signals model.DeviceSignals) (model.IdentityContext, error) {
	id, err := s.identities.Resolve(ctx, signals)
	if err != nil {
		return model.IdentityContext{}, fmt.Errorf("resolve identity: %w", err)
	}
	return identity.Context(p, id), nil
}

// RemainingQuota computes ic's quota from the ledger, less what admitted
// operations still hold. An identity that never reconciled is reconciled
// first, within a short timeout, so wiping local storage does not restore
// the allotment.
func (s *Service) RemainingQuota(ctx context.Context, ic model.IdentityContext) (model.QuotaState, error) {
	s.bootstrap(ctx, ic)
	return s.quota(ctx, ic)
}

func (s *Service) quota(ctx context.Context, ic model.IdentityContext) (model.QuotaState, error) {
	consumed, err := s.ledger.ConsumedMinutes(ctx, ic.Key)
	if err != nil {
		return model.QuotaState{}, fmt.Errorf("remaining quota: %w", err)
	}
	var opts []quota.ComputeOption
	total, ok, err := s.store.Override(ctx, ic.Key)
	if err != nil {
		return model.QuotaState{}, fmt.Errorf("remaining quota: %w", err)
	}
	if ok {
		opts = append(opts, quota.WithOverride(total))
	}
	q := s.policy.Compute(ctx, ic, consumed, opts...)
	if held := s.heldSeconds(ic.Key); held.Sign() > 0 && !q.Unlimited {
		minutes := decimal.SecondsToMinutes(held)
		q.ReservedMinutes = minutes.Float64()
		q.RemainingMinutes = decimal.Max(decimal.FromFloat(q.RemainingMinutes).Sub(minutes), decimal.Zero).Float64()
	}
	return q, nil
}

// reserve holds seconds of ic's remaining quota until the returned release
// is called. Release is idempotent.
func (s *Service) reserve(identityKey string, seconds float64) func() {
	amount := decimal.FromFloat(seconds)
	if amount.Sign() <= 0 {
		return func() {}
	}
	s.resMu.Lock()
	s.held[identityKey] = s.held[identityKey].Add(amount)
	s.resMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.resMu.Lock()
			defer s.resMu.Unlock()
			left := s.held[identityKey].Sub(amount)
			if left.Sign() <= 0 {
				delete(s.held, identityKey)
				return
			}
			s.held[identityKey] = left
		})
	}
}

func (s *Service) heldSeconds(identityKey string) decimal.Decimal {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.held[identityKey]
}

// bootstrap runs a bounded first reconciliation for identities without a
// sync state. Failures are remembered for bootstrapRetry and never block
// the caller beyond bootstrapTimeout.
func (s *Service) bootstrap(ctx context.Context, ic model.IdentityContext) {
	if !s.reconciler.Enabled() {
		return
	}
	if _, known, err := s.syncState(ctx, ic.Key); err != nil || known {
		return
	}
	s.bootMu.Lock()
	at, failed := s.bootFailed[ic.Key]
	s.bootMu.Unlock()
	if failed && s.clock.Since(at) < s.bootstrapRetry {
		return
	}

	bctx, cancel := context.WithTimeout(ctx, s.bootstrapTimeout)
	defer cancel()

	s.reconcileMu.Lock()
	_, known, err := s.syncState(bctx, ic.Key)
	if err == nil && !known {
		_, err = s.reconcileLocked(bctx, ic)
	}
	s.reconcileMu.Unlock()

	s.bootMu.Lock()
	defer s.bootMu.Unlock()
	if err == nil {
		delete(s.bootFailed, ic.Key)
		return
	}
	if len(s.bootFailed) >= s.dedupeSize {
		clear(s.bootFailed)
	}
	s.bootFailed[ic.Key] = s.clock.Now()
	s.logger.Debug(ctx, "first reconciliation failed, using local usage",
		logger.String("identity_key", ic.Key),
		logger.Error(err),
	)
}

// CheckAdmission decides on a request of requestedMinutes.
func (s *Service) CheckAdmission(ctx context.Context, ic model.IdentityContext, requestedMinutes float64) (model.AdmissionDecision, model.QuotaState, error) {
	q, err := s.RemainingQuota(ctx, ic)
	if err != nil {
		return model.AdmissionDecision{}, model.QuotaState{}, err
	}
	d := admission.Check(requestedMinutes, q)
	s.observeDecision(ctx, ic, d, decimal.MinutesToSeconds(decimal.FromFloat(requestedMinutes)).Float64())
	return d, q, nil
}

func (s *Service) observeDecision(ctx context.Context, ic model.IdentityContext, d model.AdmissionDecision, requestedSeconds float64) {
	metrics.RecordAdmission(string(ic.Class), string(d.Reason))
	if requestedSeconds > 0 {
		metrics.ObserveRequestedDuration(requestedSeconds)
	}
	s.logger.Debug(ctx, "admission decided",
		logger.String("identity_key", ic.Key),
		logger.String("reason", string(d.Reason)),
		logger.Bool("allowed", d.Allowed),
	)
}

// UsageHistory returns ic's daily usage over the last days.
func (s *Service) UsageHistory(ctx context.Context, ic model.IdentityContext, days int) ([]model.DailyUsage, error) {
	history, err := s.ledger.DailyBreakdown(ctx, ic.Key, days)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	return history, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	s.recMu.Lock()
	active := 0
	for _, sess := range s.recordings {
		if st := sess.rec.Status().State; st == admission.StateRunning || st == admission.StatePaused {
			active++
		}
	}
	s.recMu.Unlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueSize":        s.queueSize,
		"queueLength":      s.syncQueue.Load().Len(ctx),
		"dedupeSize":       s.dedupeSize,
		"guardedOps":       s.guard.Size(),
		"recordingsActive": active,
		"reconciliation":   s.reconciler.Enabled(),
	}
	if keys, err := s.ledger.Identities(ctx); err == nil {
		stats["identities"] = len(keys)
	}
	metrics.UpdateRecordingsActive(active)
	return stats
}
