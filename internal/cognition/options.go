package cognition

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a lifecycle operation is attempted
// from a state that does not allow it.
var ErrInvalidTransition = errors.New("invalid status transition")

// Clock returns the current time.
type Clock func() time.Time

// Option configures a manager.
type Option func(*options)

type options struct {
	clock    Clock
	capacity int
	ttl      time.Duration
	graph    FactGraph
	decay    float64
}

// WithClock overrides the wall clock. Decay and expiry tests rely on it.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCapacity sets the working-memory capacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithDefaultTTL sets the working-memory item lifetime used when an item
// does not specify one.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithDecayRate sets the belief decay rate used when an update does not
// specify one. Zero disables decay for such beliefs.
func WithDecayRate(r float64) Option {
	return func(o *options) {
		o.decay = clamp01(r)
	}
}

// WithFactGraph mirrors semantic facts into g.
func WithFactGraph(g FactGraph) Option {
	return func(o *options) {
		o.graph = g
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:    time.Now,
		capacity: DefaultWorkingCapacity,
		ttl:      DefaultWorkingTTL,
		decay:    DefaultDecayRate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPriority(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

// Float returns a pointer to v, for optional numeric fields such as
// EpisodeSpec.Importance.
func Float(v float64) *float64 {
	return &v
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

// DefaultPriority is used for goals and intentions created without one.
const DefaultPriority = 5
