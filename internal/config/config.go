// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and VOXMETER_ environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the daemon listen address. Loopback by default.
	Addr string `koanf:"addr"`

	// AuthorityAddr configures the reconciliation authority listen address.
	AuthorityAddr string `koanf:"authority_addr"`

	// DataDir holds the SQLite file and its lock.
	DataDir string `koanf:"data_dir"`

	// StoreBackend is memory or sqlite.
	StoreBackend string `koanf:"store_backend"`

	// StoreBusyTimeoutMS is how long SQLite waits on a locked database.
	StoreBusyTimeoutMS int `koanf:"store_busy_timeout_ms"`

	// Timezone names the IANA location used for daily breakdowns.
	Timezone string `koanf:"timezone"`

	// Allotments in minutes per identity class.
	AnonymousMinutes   float64 `koanf:"anonymous_minutes"`
	TrialMinutes       float64 `koanf:"trial_minutes"`
	PaidDefaultMinutes float64 `koanf:"paid_default_minutes"`

	// Plans maps paid plan names to their allotment in minutes.
	Plans map[string]float64 `koanf:"plans"`

	// MaxRecordingMinutes is the hard ceiling on a single live recording.
	MaxRecordingMinutes float64 `koanf:"max_recording_minutes"`

	// RecordingTickMS is the live recording polling interval.
	RecordingTickMS int `koanf:"recording_tick_ms"`

	// DedupeSize bounds the operation guard.
	DedupeSize int `koanf:"dedupe_size"`

	// AuthorityURL is the reconciliation authority base URL. Empty disables sync.
	AuthorityURL       string `koanf:"authority_url"`
	AuthorityTimeoutMS int    `koanf:"authority_timeout_ms"`
	AuthorityRetries   int    `koanf:"authority_retries"`

	// SyncQueueSize bounds pending reconciliation jobs.
	SyncQueueSize int `koanf:"sync_queue_size"`

	// SyncWorkerCount sets the number of reconciliation workers.
	SyncWorkerCount int `koanf:"sync_worker_count"`

	// TranscriberURL is the speech-to-text service base URL. Empty disables transcription.
	TranscriberURL string `koanf:"transcriber_url"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                "127.0.0.1:9480",
		AuthorityAddr:       ":9481",
		DataDir:             "data",
		StoreBackend:        BackendSQLite,
		StoreBusyTimeoutMS:  5000,
		Timezone:            "Local",
		AnonymousMinutes:    5,
		TrialMinutes:        10,
		PaidDefaultMinutes:  60,
		Plans:               map[string]float64{"basic": 60, "pro": 300, "team": 1200},
		MaxRecordingMinutes: 10,
		RecordingTickMS:     1000,
		DedupeSize:          10_000,
		AuthorityTimeoutMS:  5000,
		AuthorityRetries:    3,
		SyncQueueSize:       1024,
		SyncWorkerCount:     max(1, runtime.NumCPU()/2),
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// RecordingTick returns the recording polling interval.
func (c *Config) RecordingTick() time.Duration {
	return time.Duration(c.RecordingTickMS) * time.Millisecond
}

// StoreBusyTimeout returns the SQLite busy timeout.
func (c *Config) StoreBusyTimeout() time.Duration {
	return time.Duration(c.StoreBusyTimeoutMS) * time.Millisecond
}

// AuthorityTimeout returns the per-attempt reconciliation timeout.
func (c *Config) AuthorityTimeout() time.Duration {
	return time.Duration(c.AuthorityTimeoutMS) * time.Millisecond
}

// Validate checks invariants that the services rely on.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir must not be empty for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	}
	if c.AnonymousMinutes < 0 || c.TrialMinutes < 0 || c.PaidDefaultMinutes < 0 {
		return fmt.Errorf("%w: allotments must not be negative", ErrInvalidConfig)
	}
	for name, minutes := range c.Plans {
		if minutes < 0 {
			return fmt.Errorf("%w: plan %q has negative allotment", ErrInvalidConfig, name)
		}
	}
	if c.MaxRecordingMinutes <= 0 {
		return fmt.Errorf("%w: max_recording_minutes must be positive", ErrInvalidConfig)
	}
	if c.RecordingTickMS <= 0 {
		return fmt.Errorf("%w: recording_tick_ms must be positive", ErrInvalidConfig)
	}
	if c.DedupeSize <= 0 || c.SyncQueueSize <= 0 || c.SyncWorkerCount <= 0 {
		return fmt.Errorf("%w: dedupe_size, sync_queue_size and sync_worker_count must be positive", ErrInvalidConfig)
	}
	if c.AuthorityRetries < 0 || c.AuthorityTimeoutMS <= 0 {
		return fmt.Errorf("%w: authority retries/timeout out of range", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
