package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/cognition/memstore"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

func fakeLLM(t *testing.T, content string, status int) *provider.Router {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		var req struct {
			Messages []provider.Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Observation type: email") {
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
	return r
}

var obs = &cognition.Observation{
	ID: "obs-1", EmployeeID: "agent-1", TenantID: "tenant-1",
	Type: "email", Source: "gmail", Priority: 7,
	Content: cognition.Document{"from": "ceo@acme.com", "body": "we are cutting budgets"},
}

func TestExtractorAppliesBeliefs(t *testing.T) {
	r := fakeLLM(t, `{"beliefs": [
		{"subject": "acme", "predicate": "budget_trend", "object": {"direction": "down"}, "confidence": 0.7, "belief_type": "State"},
		{"subject": "acme", "predicate": "churn_risk", "object": "elevated", "confidence": 0.5, "belief_type": "evaluative"},
		{"subject": "", "predicate": "ignored", "object": null, "confidence": 0.9}
	], "observation_summary": "Acme is cutting budgets"}`, http.StatusOK)

	logger := zaptest.NewLogger(t)
	bs := cognition.NewBeliefSystem(memstore.New(), obs.Scope(), logger)
	beliefs, err := bs.ExtractBeliefsFromObservation(context.Background(), obs, New(r, "", logger))
	if err != nil {
		t.Fatal(err)
	}
	if len(beliefs) != 2 {
		t.Fatalf("beliefs = %d, want 2", len(beliefs))
	}
	if beliefs[0].Type != cognition.BeliefState || beliefs[0].Source != cognition.SourceObservation {
		t.Errorf("first belief = %+v", beliefs[0])
	}
	if v, _ := beliefs[1].Object.String("value"); v != "elevated" {
		t.Errorf("scalar object = %v", beliefs[1].Object)
	}
	if len(beliefs[1].Evidence) != 1 || beliefs[1].Evidence[0] != "obs-1" {
		t.Errorf("evidence = %v", beliefs[1].Evidence)
	}
}

func TestExtractorFailureYieldsNoBeliefs(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bs := cognition.NewBeliefSystem(memstore.New(), obs.Scope(), logger)

	for name, r := range map[string]*provider.Router{
		"http error": fakeLLM(t, "", http.StatusBadGateway),
		"not json":   fakeLLM(t, "I could not find any beliefs.", http.StatusOK),
	} {
		beliefs, err := bs.ExtractBeliefsFromObservation(context.Background(), obs, New(r, "", logger))
		if err != nil || len(beliefs) != 0 {
			t.Errorf("%s: beliefs = %v, err = %v", name, beliefs, err)
		}
	}
}

func TestObjectDoc(t *testing.T) {
	if d := objectDoc(nil); d == nil || len(d) != 0 {
		t.Errorf("nil = %v", d)
	}
	if d := objectDoc([]any{1.0}); d["value"] == nil {
		t.Errorf("list = %v", d)
	}
}
