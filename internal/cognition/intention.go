package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultClearAfterDays is how long completed intentions are kept.
const DefaultClearAfterDays = 7

// IntentionSpec describes a new intention. A zero Priority selects
// DefaultPriority.
type IntentionSpec struct {
	Type         IntentionType
	Description  string
	Plan         Document
	Priority     int
	GoalID       string
	Context      Document
	Dependencies []string
}

// IntentionStack manages the agent's committed plans for one scope.
type IntentionStack struct {
	store  IntentionStore
	scope  Scope
	clock  Clock
	logger *zap.Logger
}

// NewIntentionStack creates an intention manager bound to scope.
func NewIntentionStack(store IntentionStore, scope Scope, logger *zap.Logger, opts ...Option) *IntentionStack {
	o := buildOptions(opts)
	return &IntentionStack{store: store, scope: scope, clock: o.clock, logger: nopIfNil(logger)}
}

// AddIntention commits to a new planned intention.
func (s *IntentionStack) AddIntention(ctx context.Context, spec IntentionSpec) (*Intention, error) {
	if spec.Type == "" {
		spec.Type = IntentionAction
	}
	now := s.clock()
	i := &Intention{
		Record: Record{
			TenantID:  s.scope.TenantID,
			AgentID:   s.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		GoalID:       spec.GoalID,
		Type:         spec.Type,
		Description:  spec.Description,
		Plan:         docOrEmpty(spec.Plan),
		Status:       IntentionPlanned,
		Priority:     clampPriority(spec.Priority),
		Context:      docOrEmpty(spec.Context),
		Dependencies: unionStrings(nil, spec.Dependencies),
	}
	if err := s.store.InsertIntention(ctx, i); err != nil {
		return nil, fmt.Errorf("insert intention: %w", err)
	}
	s.logger.Info("intention added",
		zap.String("intention", i.ID),
		zap.String("goal", i.GoalID),
		zap.Int("priority", i.Priority),
		zap.Int("dependencies", len(i.Dependencies)))
	return i, nil
}

// GetIntention returns the intention with id, or nil.
func (s *IntentionStack) GetIntention(ctx context.Context, id string) (*Intention, error) {
	i, err := s.store.GetIntention(ctx, s.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get intention %s: %w", id, err)
	}
	return i, nil
}

// GetNextIntention returns the highest-priority planned intention whose
// dependencies have all completed, or nil when none is ready. Dependency
// state is read fresh on every call.
func (s *IntentionStack) GetNextIntention(ctx context.Context) (*Intention, error) {
	planned, err := s.store.ListIntentions(ctx, s.scope, IntentionFilter{Statuses: []IntentionStatus{IntentionPlanned}})
	if err != nil {
		return nil, fmt.Errorf("list planned intentions: %w", err)
	}
	for _, i := range planned {
		ready, err := s.dependenciesMet(ctx, i)
		if err != nil {
			return nil, err
		}
		if ready {
			return i, nil
		}
	}
	return nil, nil
}

// GetIntentionsForGoal returns every intention serving goalID.
func (s *IntentionStack) GetIntentionsForGoal(ctx context.Context, goalID string) ([]*Intention, error) {
	out, err := s.store.ListIntentions(ctx, s.scope, IntentionFilter{GoalID: goalID})
	if err != nil {
		return nil, fmt.Errorf("list intentions for goal %s: %w", goalID, err)
	}
	return out, nil
}

// GetInProgressIntentions returns intentions currently being executed.
func (s *IntentionStack) GetInProgressIntentions(ctx context.Context) ([]*Intention, error) {
	out, err := s.store.ListIntentions(ctx, s.scope, IntentionFilter{Statuses: []IntentionStatus{IntentionInProgress}})
	if err != nil {
		return nil, fmt.Errorf("list in-progress intentions: %w", err)
	}
	return out, nil
}

// StartIntention moves a planned intention to in_progress.
func (s *IntentionStack) StartIntention(ctx context.Context, id string) (*Intention, error) {
	return s.transition(ctx, id, func(i *Intention, now time.Time) error {
		if i.Status != IntentionPlanned {
			return fmt.Errorf("start %s intention %s: %w", i.Status, i.ID, ErrInvalidTransition)
		}
		i.Status = IntentionInProgress
		i.StartedAt = ptrTime(now)
		return nil
	})
}

// CompleteIntention marks an open intention completed and records outcome.
func (s *IntentionStack) CompleteIntention(ctx context.Context, id string, outcome Document) (*Intention, error) {
	return s.transition(ctx, id, func(i *Intention, now time.Time) error {
		if i.Status != IntentionPlanned && i.Status != IntentionInProgress {
			return fmt.Errorf("complete %s intention %s: %w", i.Status, i.ID, ErrInvalidTransition)
		}
		if outcome != nil {
			i.Context = i.Context.Merge(Document{"outcome": map[string]any(outcome.Clone())})
		}
		i.Status = IntentionCompleted
		i.CompletedAt = ptrTime(now)
		return nil
	})
}

// FailIntention marks an open intention failed. retry records whether the
// caller intends to retry it.
func (s *IntentionStack) FailIntention(ctx context.Context, id, errMsg string, retry bool) (*Intention, error) {
	return s.transition(ctx, id, func(i *Intention, now time.Time) error {
		if i.Status != IntentionPlanned && i.Status != IntentionInProgress {
			return fmt.Errorf("fail %s intention %s: %w", i.Status, i.ID, ErrInvalidTransition)
		}
		i.Context = i.Context.Merge(Document{"error": errMsg, "retry": retry})
		i.Status = IntentionFailed
		i.FailedAt = ptrTime(now)
		return nil
	})
}

// AbandonIntention drops an intention that has not reached a terminal state.
func (s *IntentionStack) AbandonIntention(ctx context.Context, id, reason string) (*Intention, error) {
	return s.transition(ctx, id, func(i *Intention, now time.Time) error {
		if i.Status.Terminal() {
			return fmt.Errorf("abandon %s intention %s: %w", i.Status, i.ID, ErrInvalidTransition)
		}
		i.Context = i.Context.Merge(Document{"abandon_reason": reason})
		i.Status = IntentionAbandoned
		return nil
	})
}

// RetryIntention returns a failed intention to planned and bumps its retry
// counter.
func (s *IntentionStack) RetryIntention(ctx context.Context, id string) (*Intention, error) {
	return s.transition(ctx, id, func(i *Intention, now time.Time) error {
		if i.Status != IntentionFailed {
			return fmt.Errorf("retry %s intention %s: %w", i.Status, i.ID, ErrInvalidTransition)
		}
		count, _ := i.Context.Int("retry_count")
		i.Context = i.Context.Merge(Document{"retry_count": count + 1})
		i.Status = IntentionPlanned
		i.FailedAt = nil
		return nil
	})
}

// ClearCompletedIntentions soft-deletes intentions completed more than
// olderThanDays ago and returns how many were cleared.
func (s *IntentionStack) ClearCompletedIntentions(ctx context.Context, olderThanDays int) (int, error) {
	now := s.clock()
	cutoff := now.Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	done, err := s.store.ListIntentions(ctx, s.scope, IntentionFilter{
		Statuses:        []IntentionStatus{IntentionCompleted},
		CompletedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list completed intentions: %w", err)
	}
	cleared := 0
	for _, i := range done {
		i.DeletedAt = ptrTime(now)
		i.UpdatedAt = now
		if err := s.store.UpdateIntention(ctx, i); err != nil {
			return cleared, fmt.Errorf("clear intention %s: %w", i.ID, err)
		}
		cleared++
	}
	s.logger.Info("cleared completed intentions",
		zap.String("agent", s.scope.AgentID),
		zap.Int("cleared", cleared))
	return cleared, nil
}

func (s *IntentionStack) dependenciesMet(ctx context.Context, i *Intention) (bool, error) {
	if len(i.Dependencies) == 0 {
		return true, nil
	}
	statuses, err := s.store.IntentionStatuses(ctx, s.scope, i.Dependencies)
	if err != nil {
		return false, fmt.Errorf("dependency status for %s: %w", i.ID, err)
	}
	for _, dep := range i.Dependencies {
		if statuses[dep] != IntentionCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *IntentionStack) transition(ctx context.Context, id string, fn func(i *Intention, now time.Time) error) (*Intention, error) {
	i, err := s.GetIntention(ctx, id)
	if err != nil || i == nil {
		return nil, err
	}
	from := i.Status
	now := s.clock()
	if err := fn(i, now); err != nil {
		return nil, err
	}
	i.UpdatedAt = now
	if err := s.store.UpdateIntention(ctx, i); err != nil {
		return nil, fmt.Errorf("update intention %s: %w", id, err)
	}
	s.logger.Info("intention status changed",
		zap.String("intention", i.ID),
		zap.String("from", string(from)),
		zap.String("to", string(i.Status)))
	return i, nil
}
