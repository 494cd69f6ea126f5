package coordinator

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultInterval is used when no interval is configured.
	DefaultInterval = time.Minute

	// DefaultTimeout bounds every fetch.
	DefaultTimeout = 10 * time.Second
)

// Classifier maps a fetch error to a short kind label, used in logs and
// metrics, and reports whether the error is fatal.
type Classifier func(err error) (kind string, fatal bool)

func defaultClassifier(error) (string, bool) {
	return "error", false
}

type options struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	classify Classifier
	clock    clockwork.Clock
}

// Option is a functional option for configuring a Coordinator.
type Option func(*options)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithTimeout sets the bound on each fetch.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClassifier sets the function that decides whether a fetch error is fatal.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithClock replaces the wall clock (useful for testing).
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
