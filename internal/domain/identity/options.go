package identity

import (
	"github.com/coder/quartz"

	"github.com/okian/voxmeter/pkg/logger"
)

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for identity creation times.
func WithClock(clock quartz.Clock) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}
