package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// DefaultBackfillLimit bounds how many rows of each kind one pass embeds.
const DefaultBackfillLimit = 64

// BackfillReport counts the rows a backfill pass embedded.
type BackfillReport struct {
	Episodes int `json:"episodes"`
	Facts    int `json:"facts"`
}

// Backfiller embeds episodes and facts stored without a vector. Reading,
// embedding and writing happen in separate steps so no transaction stays
// open across the provider call.
type Backfiller struct {
	backend  cognition.Transactor
	provider Provider
	limit    int
	logger   *zap.Logger
}

// NewBackfiller creates a backfiller. limit <= 0 selects DefaultBackfillLimit.
func NewBackfiller(backend cognition.Transactor, provider Provider, limit int, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	return &Backfiller{backend: backend, provider: provider, limit: limit, logger: logger}
}

// Run fills missing embeddings for scope.
func (b *Backfiller) Run(ctx context.Context, scope cognition.Scope) (BackfillReport, error) {
	var (
		rep      BackfillReport
		episodes []*cognition.Episode
		facts    []*cognition.Fact
	)
	err := b.backend.InTx(ctx, func(s cognition.Store) error {
		var err error
		episodes, err = cognition.NewEpisodicMemory(s, scope, b.logger).EpisodesMissingEmbedding(ctx, b.limit)
		if err != nil {
			return err
		}
		facts, err = cognition.NewSemanticMemory(s, scope, b.logger).FactsMissingEmbedding(ctx, b.limit)
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("load rows to embed: %w", err)
	}
	if len(episodes) == 0 && len(facts) == 0 {
		return rep, nil
	}

	texts := make([]string, 0, len(episodes)+len(facts))
	for _, e := range episodes {
		texts = append(texts, EpisodeText(e))
	}
	for _, f := range facts {
		texts = append(texts, FactText(f))
	}
	vecs, err := b.provider.Embed(ctx, texts)
	if err != nil {
		return rep, fmt.Errorf("embed backfill batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return rep, fmt.Errorf("embed backfill batch: got %d vectors for %d texts", len(vecs), len(texts))
	}

	err = b.backend.InTx(ctx, func(s cognition.Store) error {
		em := cognition.NewEpisodicMemory(s, scope, b.logger)
		for i, e := range episodes {
			got, err := em.SetEmbedding(ctx, e.ID, vecs[i])
			if err != nil {
				return err
			}
			if got != nil {
				rep.Episodes++
			}
		}
		sm := cognition.NewSemanticMemory(s, scope, b.logger)
		for i, f := range facts {
			got, err := sm.SetFactEmbedding(ctx, f.ID, vecs[len(episodes)+i])
			if err != nil {
				return err
			}
			if got != nil {
				rep.Facts++
			}
		}
		return nil
	})
	if err != nil {
		return BackfillReport{}, fmt.Errorf("store embeddings: %w", err)
	}

	b.logger.Info("embeddings backfilled",
		zap.String("agent", scope.AgentID),
		zap.Int("episodes", rep.Episodes),
		zap.Int("facts", rep.Facts))
	return rep, nil
}

// EpisodeText is the text embedded for an episode.
func EpisodeText(e *cognition.Episode) string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	if e.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Description)
	}
	if len(e.Participants) > 0 {
		sb.WriteString("\nParticipants: ")
		sb.WriteString(strings.Join(e.Participants, ", "))
	}
	if text := e.Content.Text(); text != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(text, "\n"))
	}
	return sb.String()
}

// FactText is the text embedded for a fact.
func FactText(f *cognition.Fact) string {
	return f.Subject + " " + strings.ReplaceAll(f.Predicate, "_", " ") + " " + f.Object
}
