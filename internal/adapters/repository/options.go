package repository

import "time"

const (
	defaultFileName    = "voxmeter.db"
	defaultBusyTimeout = 5 * time.Second
)

// Option applies a configuration option to the SQLite store.
type Option func(*sqliteOptions)

type sqliteOptions struct {
	fileName    string
	busyTimeout time.Duration
}

// WithFileName sets the database file name inside the data directory.
func WithFileName(name string) Option {
	return func(o *sqliteOptions) {
		if name != "" {
			o.fileName = name
		}
	}
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *sqliteOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}
