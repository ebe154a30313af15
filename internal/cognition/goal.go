package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultFocusThreshold is the progress percentage under which a
// normal-priority goal still deserves attention.
const DefaultFocusThreshold = 50.0

// highPriority goals are always worth focusing on while open.
const highPriority = 7

// GoalSpec describes a new goal. A zero Priority selects DefaultPriority.
type GoalSpec struct {
	Type            GoalType
	Description     string
	Priority        int
	Target          Document
	CurrentProgress Document
}

// GoalSystem manages the agent's desires for one scope.
type GoalSystem struct {
	store  GoalStore
	scope  Scope
	clock  Clock
	logger *zap.Logger
}

// NewGoalSystem creates a goal manager bound to scope.
func NewGoalSystem(store GoalStore, scope Scope, logger *zap.Logger, opts ...Option) *GoalSystem {
	o := buildOptions(opts)
	return &GoalSystem{store: store, scope: scope, clock: o.clock, logger: nopIfNil(logger)}
}

// AddGoal creates an active goal.
func (s *GoalSystem) AddGoal(ctx context.Context, spec GoalSpec) (*Goal, error) {
	if spec.Type == "" {
		spec.Type = GoalAchievement
	}
	now := s.clock()
	g := &Goal{
		Record: Record{
			TenantID:  s.scope.TenantID,
			AgentID:   s.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:            spec.Type,
		Description:     spec.Description,
		Priority:        clampPriority(spec.Priority),
		Target:          docOrEmpty(spec.Target),
		CurrentProgress: docOrEmpty(spec.CurrentProgress),
		Status:          GoalActive,
	}
	if err := s.store.InsertGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	s.logger.Info("goal added",
		zap.String("goal", g.ID),
		zap.String("type", string(g.Type)),
		zap.Int("priority", g.Priority))
	return g, nil
}

// GetGoal returns the goal with id, or nil.
func (s *GoalSystem) GetGoal(ctx context.Context, id string) (*Goal, error) {
	g, err := s.store.GetGoal(ctx, s.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", id, err)
	}
	return g, nil
}

// GetActiveGoals returns active goals at or above minPriority, highest
// priority first and oldest first among equals.
func (s *GoalSystem) GetActiveGoals(ctx context.Context, minPriority int) ([]*Goal, error) {
	goals, err := s.store.ListGoals(ctx, s.scope, GoalFilter{Statuses: []GoalStatus{GoalActive}, MinPriority: minPriority})
	if err != nil {
		return nil, fmt.Errorf("list active goals: %w", err)
	}
	return goals, nil
}

// GetGoalsByStatus returns goals in any of the given statuses.
func (s *GoalSystem) GetGoalsByStatus(ctx context.Context, statuses ...GoalStatus) ([]*Goal, error) {
	goals, err := s.store.ListGoals(ctx, s.scope, GoalFilter{Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// UpdateGoalProgress merges progress into the goal's current progress. An
// active goal moves to in_progress.
func (s *GoalSystem) UpdateGoalProgress(ctx context.Context, id string, progress Document) (*Goal, error) {
	return s.mutate(ctx, id, func(g *Goal, now time.Time) error {
		if g.Status.Terminal() {
			return fmt.Errorf("update progress of %s goal %s: %w", g.Status, g.ID, ErrInvalidTransition)
		}
		g.CurrentProgress = g.CurrentProgress.Merge(progress)
		if g.Status == GoalActive {
			g.Status = GoalInProgress
		}
		return nil
	})
}

// CompleteGoal marks an open goal completed, optionally merging final progress.
func (s *GoalSystem) CompleteGoal(ctx context.Context, id string, finalProgress Document) (*Goal, error) {
	return s.mutate(ctx, id, func(g *Goal, now time.Time) error {
		if g.Status.Terminal() {
			return fmt.Errorf("complete %s goal %s: %w", g.Status, g.ID, ErrInvalidTransition)
		}
		if finalProgress != nil {
			g.CurrentProgress = g.CurrentProgress.Merge(finalProgress)
		}
		g.Status = GoalCompleted
		g.CompletedAt = ptrTime(now)
		return nil
	})
}

// AbandonGoal gives up on an open goal.
func (s *GoalSystem) AbandonGoal(ctx context.Context, id, reason string) (*Goal, error) {
	return s.mutate(ctx, id, func(g *Goal, now time.Time) error {
		if g.Status.Terminal() {
			return fmt.Errorf("abandon %s goal %s: %w", g.Status, g.ID, ErrInvalidTransition)
		}
		if reason != "" {
			g.CurrentProgress = g.CurrentProgress.Merge(Document{"abandon_reason": reason})
		}
		g.Status = GoalAbandoned
		g.AbandonedAt = ptrTime(now)
		return nil
	})
}

// BlockGoal parks an active or in-progress goal behind blocker.
func (s *GoalSystem) BlockGoal(ctx context.Context, id, blocker string) (*Goal, error) {
	return s.mutate(ctx, id, func(g *Goal, now time.Time) error {
		if g.Status != GoalActive && g.Status != GoalInProgress {
			return fmt.Errorf("block %s goal %s: %w", g.Status, g.ID, ErrInvalidTransition)
		}
		g.CurrentProgress = g.CurrentProgress.Merge(Document{
			"blocker":    blocker,
			"blocked_at": now.UTC().Format(time.RFC3339),
		})
		g.Status = GoalBlocked
		return nil
	})
}

// UnblockGoal returns a blocked goal to active.
func (s *GoalSystem) UnblockGoal(ctx context.Context, id string) (*Goal, error) {
	return s.mutate(ctx, id, func(g *Goal, now time.Time) error {
		if g.Status != GoalBlocked {
			return fmt.Errorf("unblock %s goal %s: %w", g.Status, g.ID, ErrInvalidTransition)
		}
		if g.CurrentProgress == nil {
			g.CurrentProgress = Document{}
		}
		delete(g.CurrentProgress, "blocker")
		delete(g.CurrentProgress, "blocked_at")
		g.CurrentProgress["unblocked_at"] = now.UTC().Format(time.RFC3339)
		g.Status = GoalActive
		return nil
	})
}

// CalculateGoalProgressPercentage returns the goal's progress percentage.
// ok is false when the goal does not exist or its target cannot be measured.
func (s *GoalSystem) CalculateGoalProgressPercentage(ctx context.Context, id string) (pct float64, ok bool, err error) {
	g, err := s.GetGoal(ctx, id)
	if err != nil || g == nil {
		return 0, false, err
	}
	pct, ok = ProgressPercentage(g)
	return pct, ok, nil
}

// ShouldFocusOnGoal reports whether the goal deserves attention this cycle:
// open goals of priority 7 or more always do, others only while their
// measurable progress is below threshold.
func (s *GoalSystem) ShouldFocusOnGoal(ctx context.Context, id string, threshold float64) (bool, error) {
	g, err := s.GetGoal(ctx, id)
	if err != nil || g == nil {
		return false, err
	}
	if g.Status != GoalActive && g.Status != GoalInProgress {
		return false, nil
	}
	if g.Priority >= highPriority {
		return true, nil
	}
	pct, ok := ProgressPercentage(g)
	if !ok {
		return true, nil
	}
	return pct < threshold, nil
}

// ProgressPercentage computes 100 * current[target.metric] / target.value,
// clamped to [0, 100]. A zero target value counts as met when the current
// value is not negative.
func ProgressPercentage(g *Goal) (float64, bool) {
	metric, ok := g.Target.String("metric")
	if !ok || metric == "" {
		return 0, false
	}
	targetValue, ok := g.Target.Float("value")
	if !ok {
		return 0, false
	}
	current, ok := g.CurrentProgress.Float(metric)
	if !ok {
		return 0, false
	}
	if targetValue == 0 {
		if current >= 0 {
			return 100, true
		}
		return 0, true
	}
	pct := 100 * current / targetValue
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

func (s *GoalSystem) mutate(ctx context.Context, id string, fn func(g *Goal, now time.Time) error) (*Goal, error) {
	g, err := s.GetGoal(ctx, id)
	if err != nil || g == nil {
		return nil, err
	}
	from := g.Status
	now := s.clock()
	if err := fn(g, now); err != nil {
		return nil, err
	}
	g.UpdatedAt = now
	if err := s.store.UpdateGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("update goal %s: %w", id, err)
	}
	if from != g.Status {
		s.logger.Info("goal status changed",
			zap.String("goal", g.ID),
			zap.String("from", string(from)),
			zap.String("to", string(g.Status)))
	}
	return g, nil
}

func docOrEmpty(d Document) Document {
	if d == nil {
		return Document{}
	}
	return d.Clone()
}
