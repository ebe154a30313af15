package cognition

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExtractedBelief is one belief tuple proposed by an extraction service.
type ExtractedBelief struct {
	Subject    string     `json:"subject"`
	Predicate  string     `json:"predicate"`
	Object     Document   `json:"object"`
	Confidence float64    `json:"confidence"`
	Type       BeliefType `json:"belief_type"`
	Reasoning  string     `json:"reasoning"`
}

// BeliefExtraction is the structured result of belief extraction.
type BeliefExtraction struct {
	Beliefs []ExtractedBelief `json:"beliefs"`
	Summary string            `json:"observation_summary"`
}

// BeliefExtractor turns an observation into belief tuples. text is the
// observation already rendered by FormatObservation.
type BeliefExtractor interface {
	ExtractBeliefs(ctx context.Context, obs *Observation, text string) (*BeliefExtraction, error)
}

// FormatObservation renders an observation as plain text for an LLM.
func FormatObservation(obs *Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Observation type: %s\n", obs.Type)
	fmt.Fprintf(&b, "Source: %s\n", obs.Source)
	fmt.Fprintf(&b, "Priority: %d\n", obs.Priority)
	if !obs.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", obs.Timestamp.UTC().Format(time.RFC3339))
	}
	if obs.RequiresAction {
		b.WriteString("Requires action: yes\n")
	}
	b.WriteString("Content:\n")
	for _, line := range strings.Split(strings.TrimRight(obs.Content.Text(), "\n"), "\n") {
		if line == "" {
			continue
		}
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
