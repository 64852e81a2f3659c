package dedupe

// Option applies a configuration option to the guard.
type Option func(*operationGuard)

// WithMaxSize sets the maximum number of operations to remember.
// maxSize <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(g *operationGuard) {
		g.maxSize = maxSize
	}
}
