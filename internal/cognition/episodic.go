package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Episodic memory defaults.
const (
	DefaultEpisodeImportance     = 0.5
	DefaultRecallLimit           = 10
	DefaultSimilarityThreshold   = 0.7
	DefaultRecentDays            = 7
	DefaultRecentLimit           = 50
	DefaultParticipantLimit      = 20
	DefaultTypeLimit             = 20
	DefaultMinRecallCount        = 5
	DefaultReinforceBoost        = 1.1
	DefaultRareRecallDays        = 90
	DefaultImportanceDecay       = 0.9
	DefaultArchiveEpisodeDays    = 365
	DefaultArchiveMaxImportance  = 0.3
	DefaultConsolidationWindow   = 24 * time.Hour
	DefaultConsolidationMinScore = 0.95
)

// EpisodeSpec describes a new episode. A nil Importance selects
// DefaultEpisodeImportance and a zero OccurredAt selects now.
type EpisodeSpec struct {
	Type         EpisodeType
	Description  string
	Content      Document
	Participants []string
	Location     string
	Embedding    []float32
	Importance   *float64
	OccurredAt   time.Time
}

// ConsolidationOptions bounds a consolidation pass.
type ConsolidationOptions struct {
	Window        time.Duration
	MinSimilarity float64
}

// EpisodicMemory stores and recalls time-stamped experiences for one scope.
type EpisodicMemory struct {
	store  EpisodeStore
	scope  Scope
	clock  Clock
	logger *zap.Logger
}

// NewEpisodicMemory creates an episodic memory manager bound to scope.
func NewEpisodicMemory(store EpisodeStore, scope Scope, logger *zap.Logger, opts ...Option) *EpisodicMemory {
	o := buildOptions(opts)
	return &EpisodicMemory{store: store, scope: scope, clock: o.clock, logger: nopIfNil(logger)}
}

// RecordEpisode stores a new experience. The embedding may be filled later.
func (m *EpisodicMemory) RecordEpisode(ctx context.Context, spec EpisodeSpec) (*Episode, error) {
	now := m.clock()
	if spec.Type == "" {
		spec.Type = EpisodeEvent
	}
	importance := DefaultEpisodeImportance
	if spec.Importance != nil {
		importance = *spec.Importance
	}
	if spec.OccurredAt.IsZero() {
		spec.OccurredAt = now
	}
	e := &Episode{
		Record: Record{
			TenantID:  m.scope.TenantID,
			AgentID:   m.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:         spec.Type,
		Description:  spec.Description,
		Content:      docOrEmpty(spec.Content),
		Participants: unionStrings(nil, spec.Participants),
		Location:     spec.Location,
		Embedding:    cloneVector(spec.Embedding),
		Importance:   clamp01(importance),
		OccurredAt:   spec.OccurredAt,
	}
	if err := m.store.InsertEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	m.logger.Debug("episode recorded",
		zap.String("episode", e.ID),
		zap.String("type", string(e.Type)),
		zap.Bool("embedded", e.Embedding != nil))
	return e, nil
}

// GetEpisode returns the episode with id, or nil. It does not count as a
// recall.
func (m *EpisodicMemory) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	e, err := m.store.GetEpisode(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get episode %s: %w", id, err)
	}
	return e, nil
}

// SetEmbedding attaches an embedding computed out of band.
func (m *EpisodicMemory) SetEmbedding(ctx context.Context, id string, embedding []float32) (*Episode, error) {
	e, err := m.GetEpisode(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	e.Embedding = cloneVector(embedding)
	e.UpdatedAt = m.clock()
	if err := m.store.UpdateEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("set episode embedding %s: %w", id, err)
	}
	return e, nil
}

// EpisodesMissingEmbedding lists episodes still waiting for an embedding.
func (m *EpisodicMemory) EpisodesMissingEmbedding(ctx context.Context, limit int) ([]*Episode, error) {
	out, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{MissingEmbedding: true, Limit: limitOr(limit, DefaultRecentLimit)})
	if err != nil {
		return nil, fmt.Errorf("list episodes missing embedding: %w", err)
	}
	return out, nil
}

// RecallSimilar returns episodes whose embedding is at least threshold
// similar to query, most similar first. Every recalled episode is
// reinforced: its recall count increments and its recall time is stamped.
func (m *EpisodicMemory) RecallSimilar(ctx context.Context, query []float32, limit int, threshold float64) ([]ScoredEpisode, error) {
	hits, err := m.store.SearchEpisodes(ctx, m.scope, query, limitOr(limit, DefaultRecallLimit), threshold)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	now := m.clock()
	for _, h := range hits {
		if err := m.markRecalled(ctx, h.Episode, now); err != nil {
			return nil, err
		}
	}
	m.logger.Debug("similar episodes recalled",
		zap.String("agent", m.scope.AgentID),
		zap.Int("recalled", len(hits)),
		zap.Float64("threshold", threshold))
	return hits, nil
}

// RecallRecent returns episodes that occurred within the last days, newest
// first. An empty episodeType matches every type.
func (m *EpisodicMemory) RecallRecent(ctx context.Context, days, limit int, episodeType EpisodeType) ([]*Episode, error) {
	if days <= 0 {
		days = DefaultRecentDays
	}
	since := m.clock().Add(-time.Duration(days) * 24 * time.Hour)
	out, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{
		Type:          episodeType,
		OccurredAfter: since,
		Limit:         limitOr(limit, DefaultRecentLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("recall recent episodes: %w", err)
	}
	return out, nil
}

// RecallWithParticipant returns episodes involving participant, newest first.
func (m *EpisodicMemory) RecallWithParticipant(ctx context.Context, participant string, limit int) ([]*Episode, error) {
	out, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{
		Participant: participant,
		Limit:       limitOr(limit, DefaultParticipantLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("recall episodes with %s: %w", participant, err)
	}
	return out, nil
}

// RecallByType returns episodes of one type, newest first.
func (m *EpisodicMemory) RecallByType(ctx context.Context, episodeType EpisodeType, limit int) ([]*Episode, error) {
	out, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{
		Type:  episodeType,
		Limit: limitOr(limit, DefaultTypeLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("recall %s episodes: %w", episodeType, err)
	}
	return out, nil
}

// UpdateImportance sets an episode's importance, clamped to [0, 1].
func (m *EpisodicMemory) UpdateImportance(ctx context.Context, id string, importance float64) (*Episode, error) {
	e, err := m.GetEpisode(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	e.Importance = clamp01(importance)
	e.UpdatedAt = m.clock()
	if err := m.store.UpdateEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("update episode importance %s: %w", id, err)
	}
	return e, nil
}

// ReinforceFrequentlyRecalled multiplies the importance of episodes recalled
// at least minRecallCount times by boost, capped at 1.
func (m *EpisodicMemory) ReinforceFrequentlyRecalled(ctx context.Context, minRecallCount int, boost float64) (int, error) {
	rows, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{MinRecallCount: minRecallCount})
	if err != nil {
		return 0, fmt.Errorf("list frequently recalled episodes: %w", err)
	}
	n, err := m.scaleImportance(ctx, rows, boost)
	m.logger.Info("reinforced frequently recalled episodes",
		zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	return n, err
}

// DecayRarelyRecalled multiplies the importance of never-recalled episodes
// older than minDaysOld by decay.
func (m *EpisodicMemory) DecayRarelyRecalled(ctx context.Context, minDaysOld int, decay float64) (int, error) {
	zero := 0
	rows, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{
		CreatedBefore:  m.cutoff(minDaysOld),
		MaxRecallCount: &zero,
	})
	if err != nil {
		return 0, fmt.Errorf("list rarely recalled episodes: %w", err)
	}
	n, err := m.scaleImportance(ctx, rows, decay)
	m.logger.Info("decayed rarely recalled episodes",
		zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	return n, err
}

// ArchiveLowImportance soft-deletes episodes older than minDaysOld whose
// importance is below maxImportance.
func (m *EpisodicMemory) ArchiveLowImportance(ctx context.Context, minDaysOld int, maxImportance float64) (int, error) {
	rows, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{
		CreatedBefore: m.cutoff(minDaysOld),
		MaxImportance: &maxImportance,
	})
	if err != nil {
		return 0, fmt.Errorf("list low importance episodes: %w", err)
	}
	now := m.clock()
	archived := 0
	for _, e := range rows {
		e.DeletedAt = ptrTime(now)
		e.UpdatedAt = now
		if err := m.store.UpdateEpisode(ctx, e); err != nil {
			return archived, fmt.Errorf("archive episode %s: %w", e.ID, err)
		}
		archived++
	}
	m.logger.Info("archived low importance episodes",
		zap.String("agent", m.scope.AgentID), zap.Int("count", archived))
	return archived, nil
}

// ConsolidateMemories walks recent embedded episodes and counts
// near-duplicate pairs without merging them. It always returns 0.
//
// TODO: merge near-duplicate episodes once a policy for combining content and
// participants is agreed; until then the pass only reports candidates.
func (m *EpisodicMemory) ConsolidateMemories(ctx context.Context, opts ConsolidationOptions) (int, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultConsolidationWindow
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultConsolidationMinScore
	}
	recent, err := m.store.ListEpisodes(ctx, m.scope, EpisodeFilter{OccurredAfter: m.clock().Add(-opts.Window)})
	if err != nil {
		return 0, fmt.Errorf("list episodes for consolidation: %w", err)
	}
	candidates := 0
	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			if recent[i].Embedding == nil || recent[j].Embedding == nil {
				continue
			}
			if CosineSimilarity(recent[i].Embedding, recent[j].Embedding) >= opts.MinSimilarity {
				candidates++
			}
		}
	}
	m.logger.Debug("consolidation pass complete",
		zap.String("agent", m.scope.AgentID),
		zap.Int("scanned", len(recent)),
		zap.Int("candidates", candidates))
	return 0, nil
}

func (m *EpisodicMemory) markRecalled(ctx context.Context, e *Episode, now time.Time) error {
	e.RecallCount++
	e.LastRecalledAt = ptrTime(now)
	e.UpdatedAt = now
	if err := m.store.UpdateEpisode(ctx, e); err != nil {
		return fmt.Errorf("mark episode %s recalled: %w", e.ID, err)
	}
	return nil
}

func (m *EpisodicMemory) scaleImportance(ctx context.Context, rows []*Episode, factor float64) (int, error) {
	now := m.clock()
	n := 0
	for _, e := range rows {
		e.Importance = clamp01(e.Importance * factor)
		e.UpdatedAt = now
		if err := m.store.UpdateEpisode(ctx, e); err != nil {
			return n, fmt.Errorf("scale episode importance %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

func (m *EpisodicMemory) cutoff(days int) time.Time {
	return m.clock().Add(-time.Duration(days) * 24 * time.Hour)
}
