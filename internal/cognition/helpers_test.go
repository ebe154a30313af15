package cognition_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/cognition/memstore"
)

var testScope = cognition.Scope{TenantID: "tenant-1", AgentID: "agent-1"}

type fakeClock struct {
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	ctx   context.Context
	store *memstore.Store
	clock *fakeClock
	opts  []cognition.Option
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newClock()
	return &fixture{
		ctx:   context.Background(),
		store: memstore.New(),
		clock: clock,
		opts:  []cognition.Option{cognition.WithClock(clock.Now)},
	}
}

func (f *fixture) beliefs(t *testing.T) *cognition.BeliefSystem {
	return cognition.NewBeliefSystem(f.store, testScope, zaptest.NewLogger(t), f.opts...)
}

func (f *fixture) goals(t *testing.T) *cognition.GoalSystem {
	return cognition.NewGoalSystem(f.store, testScope, zaptest.NewLogger(t), f.opts...)
}

func (f *fixture) intentions(t *testing.T) *cognition.IntentionStack {
	return cognition.NewIntentionStack(f.store, testScope, zaptest.NewLogger(t), f.opts...)
}

func (f *fixture) episodes(t *testing.T) *cognition.EpisodicMemory {
	return cognition.NewEpisodicMemory(f.store, testScope, zaptest.NewLogger(t), f.opts...)
}

func (f *fixture) facts(t *testing.T, extra ...cognition.Option) *cognition.SemanticMemory {
	return cognition.NewSemanticMemory(f.store, testScope, zaptest.NewLogger(t), append(f.opts, extra...)...)
}

func (f *fixture) procedures(t *testing.T) *cognition.ProceduralMemory {
	return cognition.NewProceduralMemory(f.store, testScope, zaptest.NewLogger(t), f.opts...)
}

func (f *fixture) working(t *testing.T, extra ...cognition.Option) *cognition.WorkingMemory {
	return cognition.NewWorkingMemory(f.store, testScope, zaptest.NewLogger(t), append(f.opts, extra...)...)
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func ptr[T any](v T) *T { return &v }

// sameDoc reports whether two documents hold the same values, comparing
// numbers by value.
func sameDoc(a, b cognition.Document) bool {
	return a.Contains(b) && b.Contains(a)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
