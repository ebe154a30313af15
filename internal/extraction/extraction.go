// Package extraction asks an LLM which beliefs an observation implies.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

const systemPrompt = `You maintain the world model of an autonomous work agent.
Given an observation, list the beliefs it supports as subject-predicate-object tuples.
Use short snake_case predicates. Put structured detail in the object.
Confidence is between 0 and 1 and reflects how directly the observation supports the belief.
belief_type is one of: state, event, causal, evaluative.

Reply with JSON of the form:
{"beliefs": [{"subject": "...", "predicate": "...", "object": {...}, "confidence": 0.0,
  "belief_type": "state", "reasoning": "..."}],
 "observation_summary": "..."}`

// Extractor implements cognition.BeliefExtractor on a provider router.
type Extractor struct {
	router      *provider.Router
	model       string
	temperature float64
	logger      *zap.Logger
}

var _ cognition.BeliefExtractor = (*Extractor)(nil)

// New creates an extractor. An empty model uses each provider's default.
func New(router *provider.Router, model string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{router: router, model: model, temperature: 0.2, logger: logger}
}

type reply struct {
	Beliefs []struct {
		Subject    string  `json:"subject"`
		Predicate  string  `json:"predicate"`
		Object     any     `json:"object"`
		Confidence float64 `json:"confidence"`
		Type       string  `json:"belief_type"`
		Reasoning  string  `json:"reasoning"`
	} `json:"beliefs"`
	Summary string `json:"observation_summary"`
}

// ExtractBeliefs sends the rendered observation to the extraction provider.
func (e *Extractor) ExtractBeliefs(ctx context.Context, obs *cognition.Observation, text string) (*cognition.BeliefExtraction, error) {
	resp, err := e.router.Route(ctx, provider.PurposeExtraction, &provider.ChatRequest{
		Model:       e.model,
		Messages:    []provider.Message{provider.System(systemPrompt), provider.User(text)},
		Temperature: e.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract beliefs: %w", err)
	}

	var r reply
	if err := provider.DecodeJSON(resp.Content, &r); err != nil {
		return nil, fmt.Errorf("extract beliefs: %w", err)
	}

	out := &cognition.BeliefExtraction{Summary: r.Summary}
	for _, b := range r.Beliefs {
		out.Beliefs = append(out.Beliefs, cognition.ExtractedBelief{
			Subject:    strings.TrimSpace(b.Subject),
			Predicate:  strings.TrimSpace(b.Predicate),
			Object:     objectDoc(b.Object),
			Confidence: b.Confidence,
			Type:       cognition.BeliefType(strings.ToLower(b.Type)),
			Reasoning:  b.Reasoning,
		})
	}
	e.logger.Debug("beliefs proposed",
		zap.String("observation", obs.ID),
		zap.Int("beliefs", len(out.Beliefs)),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return out, nil
}

// objectDoc wraps scalar or list objects so every belief object is a
// document.
func objectDoc(v any) cognition.Document {
	switch o := v.(type) {
	case nil:
		return cognition.Document{}
	case map[string]any:
		return cognition.Document(o)
	default:
		return cognition.Document{"value": o}
	}
}
