package inflight

// Option applies a configuration option to the tracker.
type Option func(*tracker)

// WithMaxSize bounds the number of simultaneously claimed titles.
// A maxSize <= 0 means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(t *tracker) {
		t.maxSize = maxSize
	}
}
