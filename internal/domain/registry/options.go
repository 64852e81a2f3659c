package registry

import (
	"github.com/coder/quartz"

	"github.com/okian/voxmeter/pkg/logger"
)

// Option applies a configuration option to the Matcher.
type Option func(*Matcher)

// WithClock sets the clock used for record timestamps and ids.
func WithClock(clock quartz.Clock) Option {
	return func(m *Matcher) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the matcher logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Matcher) {
		if log != nil {
			m.log = log
		}
	}
}

// WithDeviceThreshold sets how many of the four basic device signals must
// agree for a device match.
func WithDeviceThreshold(n int) Option {
	return func(m *Matcher) {
		if n > 0 && n <= deviceSignalCount {
			m.deviceThreshold = n
		}
	}
}
