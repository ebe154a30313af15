// Package planning turns goals into committed intentions, either from a
// learned procedure or from an LLM-generated plan.
package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

// ErrInvalidPlan is returned for plans whose steps reference missing or
// later steps.
var ErrInvalidPlan = errors.New("invalid plan")

// Step is one intention to create. DependsOn holds indices of earlier steps.
type Step struct {
	Type        cognition.IntentionType `json:"intention_type"`
	Description string                  `json:"description"`
	Plan        cognition.Document      `json:"plan"`
	Priority    int                     `json:"priority"`
	DependsOn   []int                   `json:"depends_on"`
}

// Plan is an ordered list of steps serving one goal.
type Plan struct {
	GoalID    string `json:"goal_id"`
	Steps     []Step `json:"steps"`
	Reasoning string `json:"reasoning"`
	// ProcedureID is set when the plan was replayed from procedural memory.
	ProcedureID string `json:"procedure_id,omitempty"`
}

// Validate checks that every dependency points at an earlier step.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("%w: step %d has no description", ErrInvalidPlan, i)
		}
		for _, d := range s.DependsOn {
			if d < 0 || d >= i {
				return fmt.Errorf("%w: step %d depends on step %d", ErrInvalidPlan, i, d)
			}
		}
	}
	return nil
}

const systemPrompt = `You plan work for an autonomous agent.
Break the goal into a short ordered list of concrete steps.
Each step has an intention_type (action, tactic or strategy), a description,
an optional plan object with parameters, a priority from 1 to 10,
and depends_on: the zero-based indices of earlier steps it needs.

Reply with JSON of the form:
{"steps": [{"intention_type": "action", "description": "...", "plan": {}, "priority": 5, "depends_on": []}],
 "reasoning": "..."}`

// Planner builds plans for goals.
type Planner struct {
	router      *provider.Router
	model       string
	temperature float64
	logger      *zap.Logger
}

// New creates a planner. A nil router restricts it to procedure replay.
func New(router *provider.Router, model string, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{router: router, model: model, temperature: 0.3, logger: logger}
}

// Context is what the planner knows when planning for a goal.
type Context struct {
	Goal       *cognition.Goal
	Beliefs    []*cognition.Belief
	Procedures []*cognition.Procedure
	Working    []*cognition.WorkingItem
}

// Plan returns a plan for c.Goal. A candidate procedure with steps is
// replayed directly; otherwise the LLM is asked.
func (p *Planner) Plan(ctx context.Context, c Context) (*Plan, error) {
	if c.Goal == nil {
		return nil, fmt.Errorf("%w: no goal", ErrInvalidPlan)
	}
	for _, proc := range c.Procedures {
		if len(proc.Steps) > 0 {
			plan := FromProcedure(c.Goal, proc)
			p.logger.Info("plan replayed from procedure",
				zap.String("goal", c.Goal.ID),
				zap.String("procedure", proc.Name),
				zap.Int("steps", len(plan.Steps)))
			return plan, nil
		}
	}
	if p.router == nil || p.router.Empty() {
		return nil, fmt.Errorf("plan goal %s: no procedure matches and no provider is configured", c.Goal.ID)
	}

	resp, err := p.router.Route(ctx, provider.PurposePlanning, &provider.ChatRequest{
		Model:       p.model,
		Messages:    []provider.Message{provider.System(systemPrompt), provider.User(Prompt(c))},
		Temperature: p.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan goal %s: %w", c.Goal.ID, err)
	}
	var plan Plan
	if err := provider.DecodeJSON(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("plan goal %s: %w", c.Goal.ID, err)
	}
	plan.GoalID = c.Goal.ID
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	p.logger.Info("plan generated",
		zap.String("goal", c.Goal.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return &plan, nil
}

// FromProcedure converts a learned procedure into a sequential plan.
func FromProcedure(goal *cognition.Goal, proc *cognition.Procedure) *Plan {
	plan := &Plan{
		GoalID:      goal.ID,
		ProcedureID: proc.ID,
		Reasoning:   fmt.Sprintf("replaying procedure %q (success rate %.2f over %d runs)", proc.Name, proc.SuccessRate, proc.ExecutionCount),
	}
	for i, s := range proc.Steps {
		desc, _ := s.String("description")
		if desc == "" {
			desc, _ = s.String("action")
		}
		if desc == "" {
			desc = fmt.Sprintf("%s step %d", proc.Name, i+1)
		}
		step := Step{
			Type:        cognition.IntentionAction,
			Description: desc,
			Plan:        s.Clone(),
			Priority:    goal.Priority,
		}
		if i > 0 {
			step.DependsOn = []int{i - 1}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// Prompt renders the planning context for the LLM.
func Prompt(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal (%s, priority %d): %s\n", c.Goal.Type, c.Goal.Priority, c.Goal.Description)
	if len(c.Goal.Target) > 0 {
		b.WriteString("Target:\n")
		b.WriteString(indent(c.Goal.Target.Text()))
	}
	if len(c.Goal.CurrentProgress) > 0 {
		b.WriteString("Progress so far:\n")
		b.WriteString(indent(c.Goal.CurrentProgress.Text()))
	}
	if len(c.Beliefs) > 0 {
		b.WriteString("\nRelevant beliefs:\n")
		b.WriteString(cognition.FormatBeliefs(c.Beliefs))
		b.WriteString("\n")
	}
	if len(c.Working) > 0 {
		b.WriteString("\nCurrently attending to:\n")
		for _, w := range c.Working {
			fmt.Fprintf(&b, "- [%s] %s", w.Type, strings.ReplaceAll(strings.TrimRight(w.Content.Text(), "\n"), "\n", "; "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Commit adds the plan's steps to the intention stack in order, translating
// step indices into intention ids.
func Commit(ctx context.Context, stack *cognition.IntentionStack, plan *Plan) ([]*cognition.Intention, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	out := make([]*cognition.Intention, 0, len(plan.Steps))
	for i, s := range plan.Steps {
		deps := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, out[d].ID)
		}
		stepCtx := cognition.Document{"plan_step": i}
		if plan.ProcedureID != "" {
			stepCtx["procedure_id"] = plan.ProcedureID
		}
		in, err := stack.AddIntention(ctx, cognition.IntentionSpec{
			Type:         s.Type,
			Description:  s.Description,
			Plan:         s.Plan,
			Priority:     s.Priority,
			GoalID:       plan.GoalID,
			Context:      stepCtx,
			Dependencies: deps,
		})
		if err != nil {
			return out, fmt.Errorf("commit plan step %d: %w", i, err)
		}
		out = append(out, in)
	}
	return out, nil
}
