package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Semantic memory defaults.
const (
	DefaultFactConfidence       = 0.8
	DefaultFactQueryLimit       = 50
	DefaultFactSearchLimit      = 10
	DefaultFactTextLimit        = 20
	DefaultRelatedDepth         = 2
	DefaultRelatedPerLevel      = 20
	DefaultFactDecayDays        = 180
	DefaultFactDecay            = 0.9
	DefaultFactDecayMaxAccess   = 4
	DefaultArchiveFactDays      = 90
	DefaultArchiveMaxConfidence = 0.3
	DefaultMinAccessCount       = 10
	DefaultFactBoost            = 1.1
	entitySummaryLimit          = 100
)

// FactSpec describes a fact to store. A nil Confidence selects
// DefaultFactConfidence and a zero Type selects FactEntity.
type FactSpec struct {
	Type       FactType
	Subject    string
	Predicate  string
	Object     string
	Confidence *float64
	Source     string
	Verified   bool
	Embedding  []float32
}

// FactQuery narrows QueryFacts. Empty fields match anything.
type FactQuery struct {
	Subject   string
	Predicate string
	Limit     int
}

// SemanticMemory holds durable facts for one scope. Reads count as accesses.
type SemanticMemory struct {
	store  FactStore
	scope  Scope
	clock  Clock
	graph  FactGraph
	logger *zap.Logger
}

// NewSemanticMemory creates a semantic memory manager bound to scope. Use
// WithFactGraph to mirror facts into a graph database.
func NewSemanticMemory(store FactStore, scope Scope, logger *zap.Logger, opts ...Option) *SemanticMemory {
	o := buildOptions(opts)
	return &SemanticMemory{store: store, scope: scope, clock: o.clock, graph: o.graph, logger: nopIfNil(logger)}
}

// StoreFact upserts the fact for (subject, predicate). Updating an existing
// fact counts as an access.
func (m *SemanticMemory) StoreFact(ctx context.Context, spec FactSpec) (*Fact, error) {
	if spec.Type == "" {
		spec.Type = FactEntity
	}
	confidence := DefaultFactConfidence
	if spec.Confidence != nil {
		confidence = clamp01(*spec.Confidence)
	}
	now := m.clock()
	existing, err := m.store.FindFact(ctx, m.scope, spec.Subject, spec.Predicate)
	if err != nil {
		return nil, fmt.Errorf("find fact %s/%s: %w", spec.Subject, spec.Predicate, err)
	}

	if existing != nil {
		existing.Type = spec.Type
		existing.Object = spec.Object
		existing.Confidence = confidence
		existing.Verified = spec.Verified
		if spec.Source != "" {
			existing.Source = spec.Source
		}
		if spec.Embedding != nil {
			existing.Embedding = cloneVector(spec.Embedding)
		}
		existing.AccessCount++
		existing.LastAccessedAt = ptrTime(now)
		existing.UpdatedAt = now
		if err := m.store.UpdateFact(ctx, existing); err != nil {
			return nil, fmt.Errorf("update fact %s: %w", existing.ID, err)
		}
		m.link(ctx, existing)
		m.logger.Debug("fact updated", zap.String("fact", existing.ID), zap.String("subject", existing.Subject))
		return existing, nil
	}

	f := &Fact{
		Record: Record{
			TenantID:  m.scope.TenantID,
			AgentID:   m.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:       spec.Type,
		Subject:    spec.Subject,
		Predicate:  spec.Predicate,
		Object:     spec.Object,
		Confidence: confidence,
		Source:     spec.Source,
		Verified:   spec.Verified,
		Embedding:  cloneVector(spec.Embedding),
	}
	if err := m.store.InsertFact(ctx, f); err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	m.link(ctx, f)
	m.logger.Debug("fact stored", zap.String("fact", f.ID), zap.String("subject", f.Subject))
	return f, nil
}

// GetFact returns the fact with id, or nil, and records the access.
func (m *SemanticMemory) GetFact(ctx context.Context, id string) (*Fact, error) {
	f, err := m.store.GetFact(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get fact %s: %w", id, err)
	}
	if f == nil {
		return nil, nil
	}
	if err := m.touch(ctx, []*Fact{f}); err != nil {
		return nil, err
	}
	return f, nil
}

// QueryFacts lists facts matching q, highest confidence first, and records
// an access on each returned fact.
func (m *SemanticMemory) QueryFacts(ctx context.Context, q FactQuery) ([]*Fact, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{
		Subject:   q.Subject,
		Predicate: q.Predicate,
		Limit:     limitOr(q.Limit, DefaultFactQueryLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	if err := m.touch(ctx, facts); err != nil {
		return nil, err
	}
	return facts, nil
}

// SearchSimilarFacts returns facts whose embedding is at least threshold
// similar to query, optionally restricted to subject and predicate.
func (m *SemanticMemory) SearchSimilarFacts(ctx context.Context, query []float32, threshold float64, subject, predicate string, limit int) ([]ScoredFact, error) {
	hits, err := m.store.SearchFacts(ctx, m.scope, query, limitOr(limit, DefaultFactSearchLimit), threshold, subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	facts := make([]*Fact, len(hits))
	for i, h := range hits {
		facts[i] = h.Fact
	}
	if err := m.touch(ctx, facts); err != nil {
		return nil, err
	}
	return hits, nil
}

// SearchFactsText does a case-insensitive substring search over subject,
// predicate and object.
func (m *SemanticMemory) SearchFactsText(ctx context.Context, query string, limit int) ([]*Fact, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{Text: query, Limit: limitOr(limit, DefaultFactTextLimit)})
	if err != nil {
		return nil, fmt.Errorf("search facts %q: %w", query, err)
	}
	if err := m.touch(ctx, facts); err != nil {
		return nil, err
	}
	return facts, nil
}

// GetRelatedFacts walks the fact graph breadth first from entity. Level 0
// holds facts about entity; each later level holds facts about the objects
// of the previous level that have not been visited. The walk stops after
// maxDepth levels or when a level introduces no new entity.
func (m *SemanticMemory) GetRelatedFacts(ctx context.Context, entity string, maxDepth, limitPerLevel int) ([][]*Fact, error) {
	maxDepth = limitOr(maxDepth, DefaultRelatedDepth)
	limitPerLevel = limitOr(limitPerLevel, DefaultRelatedPerLevel)

	visited := map[string]bool{entity: true}
	frontier := []string{entity}
	var levels [][]*Fact

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var level []*Fact
		for _, subject := range frontier {
			if len(level) >= limitPerLevel {
				break
			}
			facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{Subject: subject, Limit: limitPerLevel - len(level)})
			if err != nil {
				return nil, fmt.Errorf("related facts of %s: %w", subject, err)
			}
			level = append(level, facts...)
		}
		if len(level) == 0 {
			break
		}
		levels = append(levels, level)

		var next []string
		for _, f := range level {
			if f.Object == "" || visited[f.Object] {
				continue
			}
			visited[f.Object] = true
			next = append(next, f.Object)
		}
		frontier = next
	}
	return levels, nil
}

// UpdateFactConfidence sets a fact's confidence, clamped to [0, 1].
func (m *SemanticMemory) UpdateFactConfidence(ctx context.Context, id string, confidence float64) (*Fact, error) {
	f, err := m.store.GetFact(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get fact %s: %w", id, err)
	}
	if f == nil {
		return nil, nil
	}
	f.Confidence = clamp01(confidence)
	f.UpdatedAt = m.clock()
	if err := m.store.UpdateFact(ctx, f); err != nil {
		return nil, fmt.Errorf("update fact confidence %s: %w", id, err)
	}
	return f, nil
}

// DecayOldFacts multiplies the confidence of rarely accessed facts older
// than minDaysOld by decay. Facts accessed five times or more are kept.
func (m *SemanticMemory) DecayOldFacts(ctx context.Context, minDaysOld int, decay float64) (int, error) {
	maxAccess := DefaultFactDecayMaxAccess
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{
		CreatedBefore:  m.cutoff(minDaysOld),
		MaxAccessCount: &maxAccess,
	})
	if err != nil {
		return 0, fmt.Errorf("list old facts: %w", err)
	}
	n, err := m.scaleConfidence(ctx, facts, decay)
	m.logger.Info("decayed old facts", zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	return n, err
}

// ArchiveLowConfidenceFacts soft-deletes facts older than minDaysOld whose
// confidence is below maxConfidence.
func (m *SemanticMemory) ArchiveLowConfidenceFacts(ctx context.Context, maxConfidence float64, minDaysOld int) (int, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{
		CreatedBefore: m.cutoff(minDaysOld),
		MaxConfidence: &maxConfidence,
	})
	if err != nil {
		return 0, fmt.Errorf("list low confidence facts: %w", err)
	}
	now := m.clock()
	archived := 0
	for _, f := range facts {
		f.DeletedAt = ptrTime(now)
		f.UpdatedAt = now
		if err := m.store.UpdateFact(ctx, f); err != nil {
			return archived, fmt.Errorf("archive fact %s: %w", f.ID, err)
		}
		m.unlink(ctx, f)
		archived++
	}
	m.logger.Info("archived low confidence facts", zap.String("agent", m.scope.AgentID), zap.Int("count", archived))
	return archived, nil
}

// ReinforceFrequentlyAccessed multiplies the confidence of facts accessed at
// least minAccessCount times by boost, capped at 1.
func (m *SemanticMemory) ReinforceFrequentlyAccessed(ctx context.Context, minAccessCount int, boost float64) (int, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{MinAccessCount: minAccessCount})
	if err != nil {
		return 0, fmt.Errorf("list frequently accessed facts: %w", err)
	}
	n, err := m.scaleConfidence(ctx, facts, boost)
	m.logger.Info("reinforced frequently accessed facts", zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	return n, err
}

// GetEntitySummary flattens up to 100 facts about entity into a
// predicate-to-object map. Later facts overwrite earlier ones.
func (m *SemanticMemory) GetEntitySummary(ctx context.Context, entity string) (map[string]string, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{Subject: entity, Limit: entitySummaryLimit})
	if err != nil {
		return nil, fmt.Errorf("summarise entity %s: %w", entity, err)
	}
	summary := make(map[string]string, len(facts))
	for _, f := range facts {
		summary[f.Predicate] = f.Object
	}
	return summary, nil
}

// SetFactEmbedding attaches an embedding computed out of band.
func (m *SemanticMemory) SetFactEmbedding(ctx context.Context, id string, embedding []float32) (*Fact, error) {
	f, err := m.store.GetFact(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get fact %s: %w", id, err)
	}
	if f == nil {
		return nil, nil
	}
	f.Embedding = cloneVector(embedding)
	f.UpdatedAt = m.clock()
	if err := m.store.UpdateFact(ctx, f); err != nil {
		return nil, fmt.Errorf("set fact embedding %s: %w", id, err)
	}
	return f, nil
}

// FactsMissingEmbedding lists facts still waiting for an embedding.
func (m *SemanticMemory) FactsMissingEmbedding(ctx context.Context, limit int) ([]*Fact, error) {
	facts, err := m.store.ListFacts(ctx, m.scope, FactFilter{MissingEmbedding: true, Limit: limitOr(limit, DefaultFactQueryLimit)})
	if err != nil {
		return nil, fmt.Errorf("list facts missing embedding: %w", err)
	}
	return facts, nil
}

func (m *SemanticMemory) touch(ctx context.Context, facts []*Fact) error {
	now := m.clock()
	for _, f := range facts {
		f.AccessCount++
		f.LastAccessedAt = ptrTime(now)
		f.UpdatedAt = now
		if err := m.store.UpdateFact(ctx, f); err != nil {
			return fmt.Errorf("record fact access %s: %w", f.ID, err)
		}
	}
	return nil
}

func (m *SemanticMemory) scaleConfidence(ctx context.Context, facts []*Fact, factor float64) (int, error) {
	now := m.clock()
	n := 0
	for _, f := range facts {
		f.Confidence = clamp01(f.Confidence * factor)
		f.UpdatedAt = now
		if err := m.store.UpdateFact(ctx, f); err != nil {
			return n, fmt.Errorf("scale fact confidence %s: %w", f.ID, err)
		}
		n++
	}
	return n, nil
}

func (m *SemanticMemory) link(ctx context.Context, f *Fact) {
	if m.graph == nil {
		return
	}
	if err := m.graph.LinkFact(ctx, m.scope, f); err != nil {
		m.logger.Warn("fact graph link failed", zap.String("fact", f.ID), zap.Error(err))
	}
}

func (m *SemanticMemory) unlink(ctx context.Context, f *Fact) {
	if m.graph == nil {
		return
	}
	if err := m.graph.UnlinkFact(ctx, m.scope, f); err != nil {
		m.logger.Warn("fact graph unlink failed", zap.String("fact", f.ID), zap.Error(err))
	}
}

func (m *SemanticMemory) cutoff(days int) time.Time {
	return m.clock().Add(-time.Duration(days) * 24 * time.Hour)
}
