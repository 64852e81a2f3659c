// Package registry is the reconciliation authority's identity matcher. It
// links a client's report to a canonical identity and returns the
// authoritative consumed total.
package registry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

const (
	deviceSignalCount      = 4
	defaultDeviceThreshold = 3
)

// Matcher resolves reports against the registry. Matching reads every
// record and writes one back, so calls are serialized.
type Matcher struct {
	mu              sync.Mutex
	store           repository.Registry
	clock           quartz.Clock
	log             logger.Logger
	deviceThreshold int
}

// New creates a Matcher.
func New(store repository.Registry, opts ...Option) *Matcher {
	m := &Matcher{
		store:           store,
		clock:           quartz.NewReal(),
		deviceThreshold: defaultDeviceThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("registry")
	}
	return m
}

// Reconcile matches report to a canonical identity, stores the merged
// record and returns the authoritative usage.
func (m *Matcher) Reconcile(ctx context.Context, report model.ReconcileReport) (model.ServerUsage, error) {
	if strings.TrimSpace(report.AccountKey) == "" && report.VisitorID == "" && report.Fingerprint == "" {
		return model.ServerUsage{}, ErrInvalidReport
	}
	if invalidSeconds(report.ConsumedSeconds) || invalidSeconds(report.DeltaSeconds) {
		return model.ServerUsage{}, fmt.Errorf("%w: consumed %v delta %v", ErrInvalidReport, report.ConsumedSeconds, report.DeltaSeconds)
	}
	if b := report.BaselineSeconds; b != nil && invalidSeconds(*b) {
		return model.ServerUsage{}, fmt.Errorf("%w: baseline %v", ErrInvalidReport, *b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.Records(ctx)
	if err != nil {
		return model.ServerUsage{}, fmt.Errorf("load registry: %w", err)
	}

	rec, strategy, found := m.match(records, report)
	if !found {
		rec = model.RegistryRecord{CanonicalID: m.newID()}
		strategy = model.MatchNew
	}
	replay := found && report.ReportID != "" && report.ReportID == rec.LastReportID
	merge(&rec, report, found, replay)
	rec.UpdatedAt = m.clock.Now().UTC()
	if err := m.store.PutRecord(ctx, rec); err != nil {
		return model.ServerUsage{}, fmt.Errorf("store registry record: %w", err)
	}

	risk := riskOf(strategy)
	metrics.RecordAuthorityMatch(string(strategy), string(risk))
	m.log.Info(ctx, "report reconciled",
		logger.String("canonical_id", rec.CanonicalID),
		logger.String("strategy", string(strategy)),
		logger.String("risk", string(risk)),
		logger.Float64("consumed_seconds", rec.ConsumedSeconds),
		logger.Float64("delta_seconds", report.DeltaSeconds),
		logger.Bool("replay", replay),
	)

	return model.ServerUsage{
		CanonicalID:     rec.CanonicalID,
		ConsumedSeconds: rec.ConsumedSeconds,
		ConsumedMinutes: decimal.SecondsToMinutes(decimal.FromFloat(rec.ConsumedSeconds)).Float64(),
		Risk:            risk,
		MatchedBy:       strategy,
	}, nil
}

func (m *Matcher) match(records []model.RegistryRecord, r model.ReconcileReport) (model.RegistryRecord, model.MatchStrategy, bool) {
	if key := strings.TrimSpace(r.AccountKey); key != "" {
		for _, rec := range records {
			if rec.AccountKey == key {
				return rec, model.MatchAccount, true
			}
		}
		return model.RegistryRecord{}, "", false
	}

	guests := make([]model.RegistryRecord, 0, len(records))
	for _, rec := range records {
		if rec.AccountKey == "" {
			guests = append(guests, rec)
		}
	}

	// Random fingerprints never repeat, so degraded reports skip them.
	useFingerprint := !r.Degraded && r.Fingerprint != ""
	if useFingerprint && r.VisitorID != "" {
		for _, rec := range guests {
			if rec.VisitorID == r.VisitorID && rec.Fingerprint == r.Fingerprint {
				return rec, model.MatchExact, true
			}
		}
	}
	if useFingerprint {
		for _, rec := range guests {
			if rec.Fingerprint == r.Fingerprint {
				return rec, model.MatchFingerprint, true
			}
		}
	}
	if r.VisitorID != "" {
		for _, rec := range guests {
			if rec.VisitorID == r.VisitorID {
				return rec, model.MatchVisitor, true
			}
		}
	}
	for _, rec := range guests {
		if deviceScore(rec.Device, r.Device) >= m.deviceThreshold {
			return rec, model.MatchDevice, true
		}
	}
	return model.RegistryRecord{}, "", false
}

// deviceScore counts basic signals that are present on both sides and agree.
func deviceScore(a, b model.DeviceSignals) int {
	pairs := [deviceSignalCount][2]string{
		{a.UserAgent, b.UserAgent},
		{a.Screen, b.Screen},
		{a.Timezone, b.Timezone},
		{a.Language, b.Language},
	}
	n := 0
	for _, p := range pairs {
		if p[0] != "" && p[0] == p[1] {
			n++
		}
	}
	return n
}

func invalidSeconds(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 0
}

// merge folds r into rec. Known records only move by the reported delta, so
// a client whose local ledger was wiped cannot lower the canonical total.
// A replayed report id leaves the total untouched.
func merge(rec *model.RegistryRecord, r model.ReconcileReport, known, replay bool) {
	if key := strings.TrimSpace(r.AccountKey); key != "" {
		rec.AccountKey = key
	}
	if r.VisitorID != "" {
		rec.VisitorID = r.VisitorID
	}
	if !r.Degraded && r.Fingerprint != "" {
		rec.Fingerprint = r.Fingerprint
	}
	rec.Device = r.Device

	switch {
	case replay:
	case r.BaselineSeconds != nil:
		rec.ConsumedSeconds = *r.BaselineSeconds + r.DeltaSeconds
	case known:
		rec.ConsumedSeconds += r.DeltaSeconds
	default:
		rec.ConsumedSeconds = math.Max(r.ConsumedSeconds, r.DeltaSeconds)
	}
	if r.ReportID != "" {
		rec.LastReportID = r.ReportID
	}
}

func riskOf(s model.MatchStrategy) model.Risk {
	switch s {
	case model.MatchVisitor:
		return model.RiskMedium
	case model.MatchFingerprint, model.MatchDevice:
		return model.RiskHigh
	default:
		return model.RiskLow
	}
}

func (m *Matcher) newID() string {
	return "cid_" + ulid.MustNew(ulid.Timestamp(m.clock.Now()), ulid.DefaultEntropy()).String()
}

// Lookup returns the record for canonicalID.
func (m *Matcher) Lookup(ctx context.Context, canonicalID string) (model.RegistryRecord, bool, error) {
	records, err := m.store.Records(ctx)
	if err != nil {
		return model.RegistryRecord{}, false, fmt.Errorf("load registry: %w", err)
	}
	for _, rec := range records {
		if rec.CanonicalID == canonicalID {
			return rec, true, nil
		}
	}
	return model.RegistryRecord{}, false, nil
}

