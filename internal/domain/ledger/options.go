package ledger

import (
	"time"

	"github.com/coder/quartz"

	"github.com/okian/voxmeter/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for event timestamps and "today".
func WithClock(clock quartz.Clock) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLocation sets the calendar location for daily breakdowns.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// RecordOption attaches optional fields to a usage event.
type RecordOption func(*recordOptions)

type recordOptions struct {
	operationID string
	bytes       int64
	outputChars int
}

// WithOperationID tags the event with the caller's operation id.
func WithOperationID(id string) RecordOption {
	return func(o *recordOptions) { o.operationID = id }
}

// WithBytes records the size of the processed payload.
func WithBytes(n int64) RecordOption {
	return func(o *recordOptions) { o.bytes = n }
}

// WithOutputChars records the length of the produced transcript.
func WithOutputChars(n int) RecordOption {
	return func(o *recordOptions) { o.outputChars = n }
}
