package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/model"
)

const syncStatePrefix = "sync.state."

func syncStateKey(identityKey string) string { return syncStatePrefix + identityKey }

// syncState loads what identityKey last agreed with the authority. The
// second result is false when it never reconciled.
func (s *Service) syncState(ctx context.Context, identityKey string) (model.SyncState, bool, error) {
	raw, err := s.store.Get(ctx, syncStateKey(identityKey))
	if errors.Is(err, repository.ErrNotFound) {
		return model.SyncState{}, false, nil
	}
	if err != nil {
		return model.SyncState{}, false, fmt.Errorf("load sync state: %w", err)
	}
	var st model.SyncState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.SyncState{}, false, fmt.Errorf("decode sync state: %w", err)
	}
	return st, true, nil
}

func (s *Service) putSyncState(ctx context.Context, identityKey string, st model.SyncState) error {
	st.UpdatedAt = s.clock.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	if err := s.store.Set(ctx, syncStateKey(identityKey), string(raw)); err != nil {
		return fmt.Errorf("store sync state: %w", err)
	}
	return nil
}

// rebaseline records an administrative total the authority must adopt on
// the next reconciliation.
func (s *Service) rebaseline(ctx context.Context, identityKey string, seconds float64) error {
	return s.putSyncState(ctx, identityKey, model.SyncState{AckedSeconds: seconds, BaselineSeconds: &seconds})
}

func (s *Service) dropSyncState(ctx context.Context, identityKey string) error {
	if err := s.store.Delete(ctx, syncStateKey(identityKey)); err != nil {
		return fmt.Errorf("drop sync state: %w", err)
	}
	return nil
}
