package planning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/cognition/memstore"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

var scope = cognition.Scope{TenantID: "tenant-1", AgentID: "agent-1"}

func fakeLLM(t *testing.T, content string) (*provider.Router, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Messages       []provider.Message `json:"messages"`
			ResponseFormat map[string]string  `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", req.ResponseFormat)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "renew the acme contract") {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	r := provider.NewRouter(logger)
	r.Register(provider.NewOpenAIProvider(provider.ProviderConfig{ID: "fake", Endpoint: srv.URL}, logger))
	return r, &calls
}

func goal(t *testing.T, store *memstore.Store) *cognition.Goal {
	t.Helper()
	g, err := cognition.NewGoalSystem(store, scope, zaptest.NewLogger(t)).AddGoal(context.Background(), cognition.GoalSpec{
		Type:        cognition.GoalAchievement,
		Description: "renew the acme contract",
		Priority:    8,
		Target:      cognition.Document{"deadline": "2026-04-01"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestPlanFromLLMAndCommit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := goal(t, store)
	r, calls := fakeLLM(t, "```json\n"+`{"steps": [
		{"intention_type": "action", "description": "draft renewal offer", "priority": 7, "depends_on": []},
		{"intention_type": "action", "description": "send offer to procurement", "plan": {"channel": "email"}, "priority": 6, "depends_on": [0]}
	], "reasoning": "offer first"}`+"\n```")

	p := New(r, "", zaptest.NewLogger(t))
	plan, err := p.Plan(ctx, Context{Goal: g})
	if err != nil {
		t.Fatal(err)
	}
	if *calls != 1 || plan.GoalID != g.ID || len(plan.Steps) != 2 {
		t.Fatalf("plan = %+v, calls = %d", plan, *calls)
	}

	stack := cognition.NewIntentionStack(store, scope, zaptest.NewLogger(t))
	intentions, err := Commit(ctx, stack, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(intentions) != 2 {
		t.Fatalf("intentions = %d", len(intentions))
	}
	second := intentions[1]
	if len(second.Dependencies) != 1 || second.Dependencies[0] != intentions[0].ID {
		t.Errorf("dependencies = %v, want [%s]", second.Dependencies, intentions[0].ID)
	}
	if second.GoalID != g.ID {
		t.Errorf("goal id = %q", second.GoalID)
	}
	if ch, _ := second.Plan.String("channel"); ch != "email" {
		t.Errorf("plan = %v", second.Plan)
	}

	next, err := stack.GetNextIntention(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != intentions[0].ID {
		t.Errorf("next = %+v, want first step", next)
	}
}

func TestPlanPrefersProcedure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := goal(t, store)
	r, calls := fakeLLM(t, `{}`)

	proc := &cognition.Procedure{
		Record:         cognition.Record{ID: "proc-1"},
		Name:           "contract_renewal",
		Steps:          []cognition.Document{{"action": "pull usage report"}, {"description": "call champion"}, {}},
		SuccessRate:    0.9,
		ExecutionCount: 10,
	}
	plan, err := New(r, "", zaptest.NewLogger(t)).Plan(ctx, Context{Goal: g, Procedures: []*cognition.Procedure{proc}})
	if err != nil {
		t.Fatal(err)
	}
	if *calls != 0 {
		t.Errorf("LLM called %d times", *calls)
	}
	if plan.ProcedureID != "proc-1" || len(plan.Steps) != 3 {
		t.Fatalf("plan = %+v", plan)
	}
	want := []string{"pull usage report", "call champion", "contract_renewal step 3"}
	for i, s := range plan.Steps {
		if s.Description != want[i] {
			t.Errorf("step %d = %q, want %q", i, s.Description, want[i])
		}
		if s.Priority != 8 {
			t.Errorf("step %d priority = %d", i, s.Priority)
		}
	}
	if len(plan.Steps[2].DependsOn) != 1 || plan.Steps[2].DependsOn[0] != 1 {
		t.Errorf("depends_on = %v", plan.Steps[2].DependsOn)
	}

	intentions, err := Commit(ctx, cognition.NewIntentionStack(store, scope, zaptest.NewLogger(t)), plan)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := intentions[0].Context.String("procedure_id"); id != "proc-1" {
		t.Errorf("context = %v", intentions[0].Context)
	}
}

func TestPlanRejectsForwardDependency(t *testing.T) {
	store := memstore.New()
	g := goal(t, store)
	r, _ := fakeLLM(t, `{"steps": [
		{"description": "a", "priority": 5, "depends_on": [1]},
		{"description": "b", "priority": 5}
	]}`)
	_, err := New(r, "", zaptest.NewLogger(t)).Plan(context.Background(), Context{Goal: g})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("err = %v, want ErrInvalidPlan", err)
	}
}

func TestPlanWithoutProvider(t *testing.T) {
	store := memstore.New()
	g := goal(t, store)
	if _, err := New(nil, "", zaptest.NewLogger(t)).Plan(context.Background(), Context{Goal: g}); err == nil {
		t.Fatal("expected error without procedure or provider")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		ok   bool
	}{
		{"empty", Plan{}, false},
		{"blank description", Plan{Steps: []Step{{Description: " "}}}, false},
		{"self dependency", Plan{Steps: []Step{{Description: "a", DependsOn: []int{0}}}}, false},
		{"negative", Plan{Steps: []Step{{Description: "a"}, {Description: "b", DependsOn: []int{-1}}}}, false},
		{"chain", Plan{Steps: []Step{{Description: "a"}, {Description: "b", DependsOn: []int{0}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestPromptIncludesContext(t *testing.T) {
	g := &cognition.Goal{Type: cognition.GoalMaintenance, Priority: 4, Description: "keep inbox zero",
		CurrentProgress: cognition.Document{"unread": 12}}
	out := Prompt(Context{
		Goal:    g,
		Beliefs: []*cognition.Belief{{Subject: "inbox", Predicate: "volume", Object: cognition.Document{"level": "high"}, Confidence: 0.8}},
		Working: []*cognition.WorkingItem{{Type: "observation", Content: cognition.Document{"subject": "invoice"}}},
	})
	for _, want := range []string{"keep inbox zero", "unread: 12", "[Current Beliefs]", "[observation] subject: invoice"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}
