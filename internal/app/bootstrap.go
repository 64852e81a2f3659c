package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/voxmeter/internal/adapters/reconcile"
	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/adapters/transcribe"
	"github.com/okian/voxmeter/internal/config"
	"github.com/okian/voxmeter/internal/domain/quota"
)

// OpenStore opens the persistence backend cfg names. fileName selects the
// SQLite file so the daemon and the authority can share a data directory.
func OpenStore(ctx context.Context, cfg *config.Config, fileName string) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	case config.BackendSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.DataDir,
			repository.WithFileName(fileName),
			repository.WithBusyTimeout(cfg.StoreBusyTimeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store_backend %q", config.ErrInvalidConfig, cfg.StoreBackend)
	}
}

// NewPolicy builds the allotment table from cfg.
func NewPolicy(cfg *config.Config) *quota.Policy {
	return quota.NewPolicy(
		quota.WithAnonymousMinutes(cfg.AnonymousMinutes),
		quota.WithTrialMinutes(cfg.TrialMinutes),
		quota.WithPaidDefaultMinutes(cfg.PaidDefaultMinutes),
		quota.WithPlans(cfg.Plans),
	)
}

// ConfigOptions maps cfg onto service options. The store is left to the
// caller.
func ConfigOptions(cfg *config.Config) ([]Option, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	ceiling := time.Duration(cfg.MaxRecordingMinutes * float64(time.Minute))
	return []Option{
		WithLocation(loc),
		WithPolicy(NewPolicy(cfg)),
		WithWorkerCount(cfg.SyncWorkerCount),
		WithQueueSize(cfg.SyncQueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithRecordingTick(cfg.RecordingTick()),
		WithRecordingCeiling(ceiling),
		WithTranscriber(transcribe.New(cfg.TranscriberURL)),
		WithReconciler(reconcile.New(cfg.AuthorityURL,
			reconcile.WithTimeout(cfg.AuthorityTimeout()),
			reconcile.WithRetries(cfg.AuthorityRetries),
		)),
	}, nil
}
