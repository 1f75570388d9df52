package dispatch

import (
	"time"

	"go.uber.org/zap"
)

type config struct {
	logger        *zap.Logger
	metrics       Metrics
	maxAttempts   int
	retryDeadline time.Duration
	retryInterval time.Duration
	maxInterval   time.Duration
	excludeTried  bool
}

type Option func(*config)

func configDefaults() Option {
	return func(c *config) {
		c.logger = zap.NewNop()
		c.metrics = NoopMetrics{}
		c.maxAttempts = 4
		c.retryDeadline = 10 * time.Second
		c.retryInterval = 50 * time.Millisecond
		c.maxInterval = time.Second
		c.excludeTried = true
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMaxAttempts caps the transport attempts of one forwarding chain,
// the first attempt included.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDeadline bounds the wall time a forwarding chain may spend retrying.
func WithRetryDeadline(d time.Duration) Option {
	return func(c *config) {
		c.retryDeadline = d
	}
}

// WithRetryInterval sets the delay before the first retry; later delays grow
// exponentially up to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.retryInterval = d
		}
		if c.maxInterval < d {
			c.maxInterval = d
		}
	}
}

// WithExcludeTried controls whether a retry may pick a peer that already
// failed within the same chain.
func WithExcludeTried(exclude bool) Option {
	return func(c *config) {
		c.excludeTried = exclude
	}
}
