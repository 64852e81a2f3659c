package service

import (
	"time"

	"github.com/coder/quartz"

	"github.com/okian/voxmeter/internal/adapters/media"
	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/adapters/transcribe"
	"github.com/okian/voxmeter/internal/domain/quota"
	"github.com/okian/voxmeter/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithClock sets the clock for the ledger, identities and recordings.
func WithClock(clock quartz.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLocation sets the calendar location for usage history.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPolicy sets the quota policy.
func WithPolicy(p *quota.Policy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithProber sets the audio duration prober.
func WithProber(p media.Prober) Option {
	return func(s *Service) {
		if p != nil {
			s.prober = p
		}
	}
}

// WithTranscriber sets the speech-to-text collaborator.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(s *Service) {
		if t != nil {
			s.transcriber = t
		}
	}
}

// WithReconciler sets the reconciliation client.
func WithReconciler(r Reconciler) Option {
	return func(s *Service) {
		if r != nil {
			s.reconciler = r
		}
	}
}

// WithWorkerCount sets the number of sync workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending sync jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many operation ids the guard remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithRecordingTick sets the live recording polling interval.
func WithRecordingTick(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.recordingTick = d
		}
	}
}

// WithRecordingCeiling sets the maximum length of one live recording.
func WithRecordingCeiling(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.recordingCeiling = d
		}
	}
}

// WithRecordingRetention sets how long a stopped recording stays
// queryable before it is forgotten.
func WithRecordingRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.recordingRetention = d
		}
	}
}

// WithBootstrapTimeout bounds the first reconciliation of an identity that
// runs before its quota is read.
func WithBootstrapTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.bootstrapTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}
