package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
	"github.com/okian/voxmeter/pkg/logger"
)

// UsageSummary is one identity's local consumption.
type UsageSummary struct {
	IdentityKey     string   `json:"identity_key"`
	ConsumedMinutes float64  `json:"consumed_minutes"`
	EventCount      int      `json:"event_count"`
	OverrideMinutes *float64 `json:"override_minutes,omitempty"`
}

func requireAdmin(caller model.IdentityContext) error {
	if !caller.Admin() {
		return ErrForbidden
	}
	return nil
}

func validTarget(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: identity key is empty", ErrInvalidArgument)
	}
	return key, nil
}

// ResetUsage clears the usage of targetKey. The next reconciliation carries
// a zero baseline, so the authority restarts from zero too.
func (s *Service) ResetUsage(ctx context.Context, caller model.IdentityContext, targetKey string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	key, err := validTarget(targetKey)
	if err != nil {
		return err
	}
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	if err := s.ledger.Clear(ctx, key); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	if err := s.rebaseline(ctx, key, 0); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	s.guard.Forget(ctx, key)
	s.logger.Info(ctx, "usage reset",
		logger.String("admin", caller.Key),
		logger.String("identity_key", key),
	)
	return nil
}

// ResetAllUsage clears the usage of every identity. Quota overrides stay.
func (s *Service) ResetAllUsage(ctx context.Context, caller model.IdentityContext) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	keys, err := s.ledger.Identities(ctx)
	if err != nil {
		return fmt.Errorf("reset all usage: %w", err)
	}
	if err := s.ledger.ClearAll(ctx); err != nil {
		return fmt.Errorf("reset all usage: %w", err)
	}
	for _, key := range keys {
		if err := s.rebaseline(ctx, key, 0); err != nil {
			return fmt.Errorf("reset all usage: %w", err)
		}
	}
	s.guard.Forget(ctx, "")
	s.logger.Info(ctx, "all usage reset", logger.String("admin", caller.Key))
	return nil
}

// SetQuotaOverride replaces targetKey's allotment with totalMinutes. When
// usedMinutes is set the consumed total is checkpointed to it as well and
// the authority adopts it on the next reconciliation.
func (s *Service) SetQuotaOverride(ctx context.Context, caller model.IdentityContext, targetKey string, totalMinutes float64, usedMinutes *float64) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	key, err := validTarget(targetKey)
	if err != nil {
		return err
	}
	if math.IsNaN(totalMinutes) || math.IsInf(totalMinutes, 0) || totalMinutes < 0 {
		return fmt.Errorf("%w: total minutes %v", ErrInvalidArgument, totalMinutes)
	}
	if usedMinutes != nil && (math.IsNaN(*usedMinutes) || math.IsInf(*usedMinutes, 0) || *usedMinutes < 0) {
		return fmt.Errorf("%w: used minutes %v", ErrInvalidArgument, *usedMinutes)
	}

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	if err := s.store.SetOverride(ctx, key, totalMinutes); err != nil {
		return fmt.Errorf("set quota override: %w", err)
	}
	if usedMinutes != nil {
		seconds := decimal.MinutesToSeconds(decimal.FromFloat(*usedMinutes)).Float64()
		if _, err := s.ledger.Checkpoint(ctx, key, seconds, model.SourceOverride); err != nil {
			return fmt.Errorf("set quota override: %w", err)
		}
		if err := s.rebaseline(ctx, key, seconds); err != nil {
			return fmt.Errorf("set quota override: %w", err)
		}
	}
	s.logger.Info(ctx, "quota override set",
		logger.String("admin", caller.Key),
		logger.String("identity_key", key),
		logger.Float64("total_minutes", totalMinutes),
	)
	return nil
}

// ClearQuotaOverride restores targetKey's class allotment.
func (s *Service) ClearQuotaOverride(ctx context.Context, caller model.IdentityContext, targetKey string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	key, err := validTarget(targetKey)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOverride(ctx, key); err != nil {
		return fmt.Errorf("clear quota override: %w", err)
	}
	return nil
}

// WipeIdentity is the user's explicit data wipe: the visitor id and the
// local usage of ic are deleted. The fingerprint, and the authority's
// record, survive it; the next quota read reconciles before it answers.
func (s *Service) WipeIdentity(ctx context.Context, ic model.IdentityContext) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	if err := s.identities.Wipe(ctx); err != nil {
		return err
	}
	if err := s.ledger.Clear(ctx, ic.Key); err != nil {
		return fmt.Errorf("wipe identity: %w", err)
	}
	if err := s.dropSyncState(ctx, ic.Key); err != nil {
		return fmt.Errorf("wipe identity: %w", err)
	}
	s.bootMu.Lock()
	delete(s.bootFailed, ic.Key)
	s.bootMu.Unlock()
	s.guard.Forget(ctx, ic.Key)
	s.logger.Info(ctx, "identity wiped", logger.String("identity_key", ic.Key))
	return nil
}

// ListUsage summarizes every identity present in the ledger, sorted by key.
func (s *Service) ListUsage(ctx context.Context, caller model.IdentityContext) ([]UsageSummary, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	keys, err := s.ledger.Identities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	sort.Strings(keys)
	out := make([]UsageSummary, 0, len(keys))
	for _, key := range keys {
		snap, err := s.ledger.Snapshot(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list usage: %w", err)
		}
		sum := UsageSummary{
			IdentityKey:     key,
			ConsumedMinutes: decimal.SecondsToMinutes(decimal.FromFloat(snap.ConsumedSeconds)).Float64(),
			EventCount:      snap.EventCount,
		}
		total, ok, err := s.store.Override(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list usage: %w", err)
		}
		if ok {
			sum.OverrideMinutes = &total
		}
		out = append(out, sum)
	}
	return out, nil
}
