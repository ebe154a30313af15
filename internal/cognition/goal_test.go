package cognition_test

import (
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

func TestGoalLifecycle(t *testing.T) {
	f := newFixture(t)
	gs := f.goals(t)

	g, err := gs.AddGoal(f.ctx, cognition.GoalSpec{
		Description: "close Q2 deals",
		Priority:    6,
		Target:      cognition.Document{"metric": "deals_closed", "value": 10},
	})
	if err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if g.Status != cognition.GoalActive {
		t.Fatalf("status = %s, want active", g.Status)
	}

	g, err = gs.UpdateGoalProgress(f.ctx, g.ID, cognition.Document{"deals_closed": 4})
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if g.Status != cognition.GoalInProgress {
		t.Fatalf("status = %s, want in_progress", g.Status)
	}

	g, err = gs.CompleteGoal(f.ctx, g.ID, cognition.Document{"deals_closed": 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if g.Status != cognition.GoalCompleted || g.CompletedAt == nil {
		t.Fatalf("complete = %s / %v, want completed with timestamp", g.Status, g.CompletedAt)
	}

	if _, err := gs.AbandonGoal(f.ctx, g.ID, "too late"); !errors.Is(err, cognition.ErrInvalidTransition) {
		t.Errorf("abandon completed goal err = %v, want ErrInvalidTransition", err)
	}
}

func TestGoalBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	gs := f.goals(t)
	g, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Description: "ship release"})

	g, err := gs.BlockGoal(f.ctx, g.ID, "waiting on legal")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if g.Status != cognition.GoalBlocked {
		t.Fatalf("status = %s, want blocked", g.Status)
	}
	if b, _ := g.CurrentProgress.String("blocker"); b != "waiting on legal" {
		t.Errorf("blocker = %q", b)
	}
	if _, err := gs.BlockGoal(f.ctx, g.ID, "again"); !errors.Is(err, cognition.ErrInvalidTransition) {
		t.Errorf("double block err = %v, want ErrInvalidTransition", err)
	}

	g, err = gs.UnblockGoal(f.ctx, g.ID)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if g.Status != cognition.GoalActive {
		t.Errorf("status = %s, want active", g.Status)
	}
	if _, ok := g.CurrentProgress.Get("blocker"); ok {
		t.Error("blocker survived unblock")
	}
	if _, ok := g.CurrentProgress.Get("unblocked_at"); !ok {
		t.Error("unblocked_at not recorded")
	}

	g, err = gs.AbandonGoal(f.ctx, g.ID, "deprioritised")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if g.AbandonedAt == nil {
		t.Error("abandoned_at not stamped")
	}
	if r, _ := g.CurrentProgress.String("abandon_reason"); r != "deprioritised" {
		t.Errorf("abandon_reason = %q", r)
	}
}

func TestGetActiveGoalsOrdering(t *testing.T) {
	f := newFixture(t)
	gs := f.goals(t)
	low, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Description: "low", Priority: 2})
	high, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Description: "high", Priority: 9})
	mid, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Description: "default"})
	if mid.Priority != cognition.DefaultPriority {
		t.Errorf("default priority = %d, want %d", mid.Priority, cognition.DefaultPriority)
	}
	if _, err := gs.UpdateGoalProgress(f.ctx, low.ID, cognition.Document{"x": 1}); err != nil {
		t.Fatal(err)
	}

	active, err := gs.GetActiveGoals(f.ctx, 0)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 || active[0].ID != high.ID || active[1].ID != mid.ID {
		t.Fatalf("active goals = %v, want [high default]", active)
	}

	inProgress, _ := gs.GetGoalsByStatus(f.ctx, cognition.GoalInProgress)
	if len(inProgress) != 1 || inProgress[0].ID != low.ID {
		t.Errorf("in-progress goals = %v, want [low]", inProgress)
	}
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		name    string
		target  cognition.Document
		current cognition.Document
		want    float64
		ok      bool
	}{
		{"half", cognition.Document{"metric": "n", "value": 10}, cognition.Document{"n": 5}, 50, true},
		{"over", cognition.Document{"metric": "n", "value": 10}, cognition.Document{"n": 25}, 100, true},
		{"negative", cognition.Document{"metric": "n", "value": 10}, cognition.Document{"n": -3}, 0, true},
		{"zero target", cognition.Document{"metric": "n", "value": 0}, cognition.Document{"n": 0}, 100, true},
		{"no metric", cognition.Document{"value": 10}, cognition.Document{"n": 5}, 0, false},
		{"no current", cognition.Document{"metric": "n", "value": 10}, cognition.Document{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &cognition.Goal{Target: tt.target, CurrentProgress: tt.current}
			got, ok := cognition.ProgressPercentage(g)
			if ok != tt.ok || !approx(got, tt.want) {
				t.Errorf("ProgressPercentage = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
			again, _ := cognition.ProgressPercentage(g)
			if again != got {
				t.Errorf("second call = %v, want %v", again, got)
			}
		})
	}
}

func TestShouldFocusOnGoal(t *testing.T) {
	f := newFixture(t)
	gs := f.goals(t)
	urgent, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Priority: 8, Target: cognition.Document{"metric": "n", "value": 1}, CurrentProgress: cognition.Document{"n": 1}})
	nearly, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Priority: 4, Target: cognition.Document{"metric": "n", "value": 10}, CurrentProgress: cognition.Document{"n": 9}})
	behind, _ := gs.AddGoal(f.ctx, cognition.GoalSpec{Priority: 4, Target: cognition.Document{"metric": "n", "value": 10}, CurrentProgress: cognition.Document{"n": 2}})

	for _, tc := range []struct {
		id   string
		want bool
	}{{urgent.ID, true}, {nearly.ID, false}, {behind.ID, true}} {
		got, err := gs.ShouldFocusOnGoal(f.ctx, tc.id, cognition.DefaultFocusThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("focus on %s = %v, want %v", tc.id, got, tc.want)
		}
	}

	pct, ok, err := gs.CalculateGoalProgressPercentage(f.ctx, nearly.ID)
	if err != nil || !ok || !approx(pct, 90) {
		t.Errorf("progress = %v, %v, %v; want 90, true, nil", pct, ok, err)
	}
	if _, ok, _ := gs.CalculateGoalProgressPercentage(f.ctx, "missing"); ok {
		t.Error("missing goal reported measurable progress")
	}
}

func TestMissingGoalReturnsNil(t *testing.T) {
	f := newFixture(t)
	g, err := f.goals(t).CompleteGoal(f.ctx, "nope", nil)
	if err != nil || g != nil {
		t.Errorf("complete missing goal = %v, %v; want nil, nil", g, err)
	}
}

func TestGoalRoundTrip(t *testing.T) {
	f := newFixture(t)
	gs := f.goals(t)
	g, err := gs.AddGoal(f.ctx, cognition.GoalSpec{
		Type:            cognition.GoalMaintenance,
		Description:     "keep inbox under 20 unread",
		Priority:        8,
		Target:          cognition.Document{"unread": 20, "labels": []any{"support", "sales"}},
		CurrentProgress: cognition.Document{"unread": 35, "trend": map[string]any{"week": -4.5}},
	})
	if err != nil {
		t.Fatal(err)
	}

	check := func(want *cognition.Goal) {
		t.Helper()
		got, err := gs.GetGoal(f.ctx, want.ID)
		if err != nil || got == nil {
			t.Fatalf("get goal = %v, %v", got, err)
		}
		if got.ID != want.ID || got.TenantID != testScope.TenantID || got.AgentID != testScope.AgentID {
			t.Errorf("identity = %s/%s/%s", got.ID, got.TenantID, got.AgentID)
		}
		if got.Type != want.Type || got.Description != want.Description || got.Priority != want.Priority || got.Status != want.Status {
			t.Errorf("goal = %+v, want %+v", got, want)
		}
		if !sameDoc(got.Target, want.Target) || !sameDoc(got.CurrentProgress, want.CurrentProgress) {
			t.Errorf("documents = %v / %v, want %v / %v", got.Target, got.CurrentProgress, want.Target, want.CurrentProgress)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) || !sameTime(got.CompletedAt, want.CompletedAt) || !sameTime(got.AbandonedAt, want.AbandonedAt) {
			t.Errorf("timestamps = %v %v %v", got.CreatedAt, got.CompletedAt, got.AbandonedAt)
		}
	}
	check(g)

	f.clock.Advance(time.Hour)
	done, err := gs.CompleteGoal(f.ctx, g.ID, cognition.Document{"unread": 12})
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed goal has no completion time")
	}
	check(done)
}
