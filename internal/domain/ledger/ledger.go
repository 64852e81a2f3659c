// Package ledger is the append-only record of metered usage. Totals are
// never cached; they are folded from the log on every read.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

const dateLayout = "2006-01-02"

// Ledger records usage events and derives consumption from them.
type Ledger struct {
	mu    sync.Mutex // serializes appends and clears
	log   logger.Logger
	store repository.EventLog
	clock quartz.Clock
	loc   *time.Location
}

// New creates a Ledger over store.
func New(store repository.EventLog, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: quartz.NewReal(),
		loc:   time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Named("ledger")
	}
	return l
}

func (l *Ledger) newID() string {
	return ulid.MustNew(ulid.Timestamp(l.clock.Now()), ulid.DefaultEntropy()).String()
}

// RecordUsage appends a usage event. It does not consult quota; admission is
// decided before the operation runs.
func (l *Ledger) RecordUsage(ctx context.Context, identityKey string, class model.IdentityClass, durationSeconds float64, sourceLabel string, opts ...RecordOption) (model.UsageEvent, error) {
	if strings.TrimSpace(identityKey) == "" {
		return model.UsageEvent{}, ErrEmptyIdentity
	}
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds < 0 {
		return model.UsageEvent{}, fmt.Errorf("%w: %v", ErrInvalidDuration, durationSeconds)
	}
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev := model.UsageEvent{
		ID:              l.newID(),
		OperationID:     o.operationID,
		IdentityKey:     identityKey,
		IdentityClass:   class,
		OccurredAt:      l.clock.Now(),
		DurationSeconds: durationSeconds,
		SourceLabel:     sourceLabel,
		Bytes:           o.bytes,
		OutputChars:     o.outputChars,
	}
	if _, err := l.store.Append(ctx, model.Entry{Kind: model.KindUsage, Usage: &ev}); err != nil {
		metrics.RecordErrorByComponent("ledger", "append")
		return model.UsageEvent{}, fmt.Errorf("record usage: %w", err)
	}
	metrics.RecordUsage(string(class), durationSeconds)
	l.log.Debug(ctx, "usage recorded",
		logger.String("identity_key", identityKey),
		logger.String("event_id", ev.ID),
		logger.Float64("seconds", durationSeconds),
		logger.String("source", sourceLabel),
	)
	return ev, nil
}

// Checkpoint asserts an absolute consumed total. Usage recorded afterwards
// accumulates on top of it.
func (l *Ledger) Checkpoint(ctx context.Context, identityKey string, consumedSeconds float64, source model.CheckpointSource) (model.Checkpoint, error) {
	if strings.TrimSpace(identityKey) == "" {
		return model.Checkpoint{}, ErrEmptyIdentity
	}
	if math.IsNaN(consumedSeconds) || math.IsInf(consumedSeconds, 0) || consumedSeconds < 0 {
		return model.Checkpoint{}, fmt.Errorf("%w: %v", ErrInvalidDuration, consumedSeconds)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpoint(ctx, identityKey, consumedSeconds, source)
}

func (l *Ledger) checkpoint(ctx context.Context, identityKey string, consumedSeconds float64, source model.CheckpointSource) (model.Checkpoint, error) {
	cp := model.Checkpoint{
		ID:              l.newID(),
		IdentityKey:     identityKey,
		ConsumedSeconds: consumedSeconds,
		AsOf:            l.clock.Now(),
		Source:          source,
	}
	if _, err := l.store.Append(ctx, model.Entry{Kind: model.KindCheckpoint, Checkpoint: &cp}); err != nil {
		metrics.RecordErrorByComponent("ledger", "checkpoint")
		return model.Checkpoint{}, fmt.Errorf("checkpoint: %w", err)
	}
	l.log.Info(ctx, "consumption checkpointed",
		logger.String("identity_key", identityKey),
		logger.Float64("consumed_seconds", consumedSeconds),
		logger.String("source", string(source)),
	)
	return cp, nil
}

// Rebase moves the identity's total onto serverSeconds while keeping usage
// recorded after a snapshot of baseSeconds was taken. The read and the
// checkpoint happen under one lock, so a concurrent RecordUsage either lands
// before the read and counts as in-flight, or lands after the checkpoint and
// adds on top. It reports whether a checkpoint was written and the total
// afterwards.
func (l *Ledger) Rebase(ctx context.Context, identityKey string, baseSeconds, serverSeconds float64, source model.CheckpointSource) (bool, float64, error) {
	if strings.TrimSpace(identityKey) == "" {
		return false, 0, ErrEmptyIdentity
	}
	if math.IsNaN(serverSeconds) || math.IsInf(serverSeconds, 0) || serverSeconds < 0 {
		return false, 0, fmt.Errorf("%w: %v", ErrInvalidDuration, serverSeconds)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return false, 0, fmt.Errorf("rebase: %w", err)
	}
	now := fold(entries)
	inFlight := decimal.Max(now.Sub(decimal.FromFloat(baseSeconds)), decimal.Zero)
	target := decimal.FromFloat(serverSeconds).Add(inFlight)
	if target.Cmp(now) == 0 {
		return false, now.Float64(), nil
	}
	if _, err := l.checkpoint(ctx, identityKey, target.Float64(), source); err != nil {
		return false, 0, err
	}
	return true, target.Float64(), nil
}

// fold returns consumption from the latest checkpoint forward.
func fold(entries []model.Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		switch e.Kind {
		case model.KindCheckpoint:
			total = decimal.FromFloat(e.Checkpoint.ConsumedSeconds)
		case model.KindUsage:
			total = total.Add(decimal.FromFloat(e.Usage.DurationSeconds))
		}
	}
	return total
}

// Consumed returns the identity's total consumed seconds, recomputed from
// the log.
func (l *Ledger) Consumed(ctx context.Context, identityKey string) (float64, error) {
	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return 0, fmt.Errorf("consumed: %w", err)
	}
	total := fold(entries)
	return total.Float64(), nil
}

// ConsumedMinutes is Consumed expressed in minutes.
func (l *Ledger) ConsumedMinutes(ctx context.Context, identityKey string) (float64, error) {
	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return 0, fmt.Errorf("consumed: %w", err)
	}
	total := fold(entries)
	return decimal.SecondsToMinutes(total).Float64(), nil
}

// Snapshot summarizes local consumption for reconciliation.
func (l *Ledger) Snapshot(ctx context.Context, identityKey string) (model.UsageSnapshot, error) {
	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	total := fold(entries)
	snap := model.UsageSnapshot{IdentityKey: identityKey, ConsumedSeconds: total.Float64()}
	for _, e := range entries {
		if e.Kind != model.KindUsage {
			continue
		}
		snap.EventCount++
		if e.Usage.OccurredAt.After(snap.LastEventAt) {
			snap.LastEventAt = e.Usage.OccurredAt
		}
	}
	return snap, nil
}

// Events returns the identity's raw usage events in append order.
func (l *Ledger) Events(ctx context.Context, identityKey string) ([]model.UsageEvent, error) {
	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	out := make([]model.UsageEvent, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.KindUsage {
			out = append(out, *e.Usage)
		}
	}
	return out, nil
}

// DailyBreakdown returns exactly windowDays consecutive calendar days ending
// today, oldest first, with days lacking usage zero-filled. Days are taken
// in the ledger's location.
func (l *Ledger) DailyBreakdown(ctx context.Context, identityKey string, windowDays int) ([]model.DailyUsage, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, windowDays)
	}
	entries, err := l.store.Entries(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("daily breakdown: %w", err)
	}

	now := l.clock.Now().In(l.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)

	days := make([]model.DailyUsage, windowDays)
	totals := make([]decimal.Decimal, windowDays)
	labels := make([]map[string]struct{}, windowDays)
	index := make(map[string]int, windowDays)
	for i := 0; i < windowDays; i++ {
		day := today.AddDate(0, 0, i-windowDays+1)
		days[i].Date = day.Format(dateLayout)
		days[i].SourceLabels = []string{}
		index[days[i].Date] = i
	}

	for _, e := range entries {
		if e.Kind != model.KindUsage {
			continue
		}
		i, ok := index[e.Usage.OccurredAt.In(l.loc).Format(dateLayout)]
		if !ok {
			continue
		}
		totals[i] = totals[i].Add(decimal.FromFloat(e.Usage.DurationSeconds))
		if e.Usage.SourceLabel != "" {
			if labels[i] == nil {
				labels[i] = make(map[string]struct{})
			}
			labels[i][e.Usage.SourceLabel] = struct{}{}
		}
	}

	for i := range days {
		days[i].TotalSeconds = totals[i].Float64()
		for label := range labels[i] {
			days[i].SourceLabels = append(days[i].SourceLabels, label)
		}
		sort.Strings(days[i].SourceLabels)
	}
	return days, nil
}

// Clear drops every event of identityKey. Clearing an identity with no
// events is a no-op.
func (l *Ledger) Clear(ctx context.Context, identityKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.DeleteIdentity(ctx, identityKey); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	l.log.Info(ctx, "usage cleared", logger.String("identity_key", identityKey))
	return nil
}

// ClearAll drops every event of every identity.
func (l *Ledger) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	l.log.Info(ctx, "all usage cleared")
	return nil
}

// Identities lists identity keys present in the log.
func (l *Ledger) Identities(ctx context.Context) ([]string, error) {
	return l.store.IdentityKeys(ctx)
}
