package service

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	workerpool "github.com/okian/voxmeter/internal/adapters/mq/worker"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

// ReconcileResult is the outcome of one reconciliation.
type ReconcileResult struct {
	Server       model.ServerUsage `json:"server"`
	LocalSeconds float64           `json:"local_seconds"`
	// Applied is set when the authority's total replaced the local one.
	Applied bool             `json:"applied"`
	Quota   model.QuotaState `json:"quota"`
}

// Reconcile reports the usage ic recorded since its last reconciliation
// and adopts the authority's total. Usage recorded while the report was in
// flight is kept on top of the authoritative total.
func (s *Service) Reconcile(ctx context.Context, ic model.IdentityContext) (ReconcileResult, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	return s.reconcileLocked(ctx, ic)
}

// reconcileLocked must be called with reconcileMu held.
func (s *Service) reconcileLocked(ctx context.Context, ic model.IdentityContext) (ReconcileResult, error) {
	snap, err := s.ledger.Snapshot(ctx, ic.Key)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	st, _, err := s.syncState(ctx, ic.Key)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	local := decimal.FromFloat(snap.ConsumedSeconds)
	snap.ReportID = "rep_" + ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy()).String()
	snap.DeltaSeconds = decimal.Max(local.Sub(decimal.FromFloat(st.AckedSeconds)), decimal.Zero).Float64()
	snap.BaselineSeconds = st.BaselineSeconds
	result := ReconcileResult{LocalSeconds: snap.ConsumedSeconds}

	usage, err := s.reconciler.Report(ctx, ic, snap)
	if err != nil {
		metrics.RecordErrorByComponent("reconcile", "unavailable")
		s.logger.Warn(ctx, "reconciliation failed, keeping local total",
			logger.String("identity_key", ic.Key),
			logger.Error(err),
		)
		return result, err
	}
	result.Server = usage

	server := decimal.FromFloat(usage.ConsumedSeconds)
	drift := server.Sub(local)
	if drift.Sign() < 0 {
		drift = decimal.Zero.Sub(drift)
	}
	metrics.ObserveReconcileDrift(drift.Float64())

	applied, total, err := s.ledger.Rebase(ctx, ic.Key, snap.ConsumedSeconds, usage.ConsumedSeconds, model.SourceReconciliation)
	if err != nil {
		return result, fmt.Errorf("reconcile: %w", err)
	}
	if err := s.putSyncState(ctx, ic.Key, model.SyncState{AckedSeconds: usage.ConsumedSeconds}); err != nil {
		return result, fmt.Errorf("reconcile: %w", err)
	}
	result.Applied = applied
	if applied {
		s.logger.Info(ctx, "authoritative total applied",
			logger.String("identity_key", ic.Key),
			logger.String("canonical_id", usage.CanonicalID),
			logger.Float64("local_seconds", snap.ConsumedSeconds),
			logger.Float64("server_seconds", usage.ConsumedSeconds),
			logger.Float64("total_seconds", total),
			logger.String("risk", string(usage.Risk)),
		)
	}

	q, err := s.quota(ctx, ic)
	if err != nil {
		return result, err
	}
	result.Quota = q
	return result, nil
}

// processSync is the worker entry point for queued reconciliations.
func (s *Service) processSync(ctx context.Context, j workerpool.Job) error {
	_, err := s.Reconcile(ctx, j.Caller)
	return err
}
