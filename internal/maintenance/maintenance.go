// Package maintenance runs the periodic memory upkeep passes for every agent
// scope: belief decay, working-memory expiry, decay, archive and
// reinforcement of long-term memories, and intention cleanup.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/embedding"
)

var tracer = otel.Tracer("github.com/nidhogg/nuka-mind/internal/maintenance")

// Policy holds the thresholds for one sweep.
type Policy struct {
	EpisodeRareRecallDays       int     `json:"episode_rare_recall_days"`
	EpisodeImportanceDecay      float64 `json:"episode_importance_decay"`
	EpisodeArchiveDays          int     `json:"episode_archive_days"`
	EpisodeArchiveMaxImportance float64 `json:"episode_archive_max_importance"`
	EpisodeMinRecallCount       int     `json:"episode_min_recall_count"`
	EpisodeBoost                float64 `json:"episode_boost"`

	FactDecayDays            int     `json:"fact_decay_days"`
	FactDecay                float64 `json:"fact_decay"`
	FactArchiveDays          int     `json:"fact_archive_days"`
	FactArchiveMaxConfidence float64 `json:"fact_archive_max_confidence"`
	FactMinAccessCount       int     `json:"fact_min_access_count"`
	FactBoost                float64 `json:"fact_boost"`

	ProcedurePoorMaxSuccessRate   float64 `json:"procedure_poor_max_success_rate"`
	ProcedurePoorMinExecutions    int     `json:"procedure_poor_min_executions"`
	ProcedureProvenMinSuccessRate float64 `json:"procedure_proven_min_success_rate"`
	ProcedureProvenMinExecutions  int     `json:"procedure_proven_min_executions"`

	ClearIntentionsAfterDays int  `json:"clear_intentions_after_days"`
	Consolidate              bool `json:"consolidate"`
}

// DefaultPolicy returns the memory managers' default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		EpisodeRareRecallDays:       cognition.DefaultRareRecallDays,
		EpisodeImportanceDecay:      cognition.DefaultImportanceDecay,
		EpisodeArchiveDays:          cognition.DefaultArchiveEpisodeDays,
		EpisodeArchiveMaxImportance: cognition.DefaultArchiveMaxImportance,
		EpisodeMinRecallCount:       cognition.DefaultMinRecallCount,
		EpisodeBoost:                cognition.DefaultReinforceBoost,

		FactDecayDays:            cognition.DefaultFactDecayDays,
		FactDecay:                cognition.DefaultFactDecay,
		FactArchiveDays:          cognition.DefaultArchiveFactDays,
		FactArchiveMaxConfidence: cognition.DefaultArchiveMaxConfidence,
		FactMinAccessCount:       cognition.DefaultMinAccessCount,
		FactBoost:                cognition.DefaultFactBoost,

		ProcedurePoorMaxSuccessRate:   cognition.DefaultPoorMaxSuccessRate,
		ProcedurePoorMinExecutions:    cognition.DefaultPoorMinExecutions,
		ProcedureProvenMinSuccessRate: cognition.DefaultProvenMinSuccessRate,
		ProcedureProvenMinExecutions:  cognition.DefaultProvenMinExecutions,

		ClearIntentionsAfterDays: cognition.DefaultClearAfterDays,
	}
}

// Report counts what one sweep of one scope changed.
type Report struct {
	Scope                cognition.Scope          `json:"scope"`
	Beliefs              cognition.DecayReport    `json:"beliefs"`
	WorkingExpired       int                      `json:"working_expired"`
	EpisodesDecayed      int                      `json:"episodes_decayed"`
	EpisodesArchived     int                      `json:"episodes_archived"`
	EpisodesReinforced   int                      `json:"episodes_reinforced"`
	FactsDecayed         int                      `json:"facts_decayed"`
	FactsArchived        int                      `json:"facts_archived"`
	FactsReinforced      int                      `json:"facts_reinforced"`
	ProceduresArchived   int                      `json:"procedures_archived"`
	ProceduresReinforced int                      `json:"procedures_reinforced"`
	IntentionsCleared    int                      `json:"intentions_cleared"`
	Backfill             embedding.BackfillReport `json:"backfill"`
	Duration             time.Duration            `json:"duration"`
}

// Sweeper runs maintenance passes against a backend.
type Sweeper struct {
	backend  cognition.Backend
	working  cognition.WorkingStore
	backfill *embedding.Backfiller
	policy   Policy
	opts     []cognition.Option
	logger   *zap.Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastErrs int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithWorkingStore expires working memory in w instead of the backend.
func WithWorkingStore(w cognition.WorkingStore) Option {
	return func(s *Sweeper) { s.working = w }
}

// WithBackfiller fills missing embeddings after each scope's sweep.
func WithBackfiller(b *embedding.Backfiller) Option {
	return func(s *Sweeper) { s.backfill = b }
}

// WithManagerOptions passes options through to the memory managers.
func WithManagerOptions(opts ...cognition.Option) Option {
	return func(s *Sweeper) { s.opts = append(s.opts, opts...) }
}

// NewSweeper creates a sweeper applying policy.
func NewSweeper(backend cognition.Backend, policy Policy, logger *zap.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{backend: backend, policy: policy, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SweepScope runs every pass for scope inside one transaction. Embedding
// backfill runs afterwards and its failure does not fail the sweep.
func (s *Sweeper) SweepScope(ctx context.Context, scope cognition.Scope) (Report, error) {
	ctx, span := tracer.Start(ctx, "maintenance.sweep_scope")
	defer span.End()
	span.SetAttributes(
		attribute.String("nuka.tenant", scope.TenantID),
		attribute.String("nuka.agent", scope.AgentID),
	)

	start := time.Now()
	rep := Report{Scope: scope}
	p := s.policy
	err := s.backend.InTx(ctx, func(st cognition.Store) error {
		st = cognition.WithWorkingStore(st, s.working)
		var err error

		if rep.Beliefs, err = cognition.NewBeliefSystem(st, scope, s.logger, s.opts...).DecayBeliefs(ctx); err != nil {
			return err
		}
		if rep.WorkingExpired, err = cognition.NewWorkingMemory(st, scope, s.logger, s.opts...).CleanupExpired(ctx); err != nil {
			return err
		}

		em := cognition.NewEpisodicMemory(st, scope, s.logger, s.opts...)
		if rep.EpisodesDecayed, err = em.DecayRarelyRecalled(ctx, p.EpisodeRareRecallDays, p.EpisodeImportanceDecay); err != nil {
			return err
		}
		if rep.EpisodesArchived, err = em.ArchiveLowImportance(ctx, p.EpisodeArchiveDays, p.EpisodeArchiveMaxImportance); err != nil {
			return err
		}
		if rep.EpisodesReinforced, err = em.ReinforceFrequentlyRecalled(ctx, p.EpisodeMinRecallCount, p.EpisodeBoost); err != nil {
			return err
		}
		if p.Consolidate {
			if _, err = em.ConsolidateMemories(ctx, cognition.ConsolidationOptions{}); err != nil {
				return err
			}
		}

		sm := cognition.NewSemanticMemory(st, scope, s.logger, s.opts...)
		if rep.FactsDecayed, err = sm.DecayOldFacts(ctx, p.FactDecayDays, p.FactDecay); err != nil {
			return err
		}
		if rep.FactsArchived, err = sm.ArchiveLowConfidenceFacts(ctx, p.FactArchiveMaxConfidence, p.FactArchiveDays); err != nil {
			return err
		}
		if rep.FactsReinforced, err = sm.ReinforceFrequentlyAccessed(ctx, p.FactMinAccessCount, p.FactBoost); err != nil {
			return err
		}

		pm := cognition.NewProceduralMemory(st, scope, s.logger, s.opts...)
		if rep.ProceduresArchived, err = pm.ArchivePoorProcedures(ctx, p.ProcedurePoorMaxSuccessRate, p.ProcedurePoorMinExecutions); err != nil {
			return err
		}
		if rep.ProceduresReinforced, err = pm.ReinforceSuccessfulProcedures(ctx, p.ProcedureProvenMinSuccessRate, p.ProcedureProvenMinExecutions); err != nil {
			return err
		}

		rep.IntentionsCleared, err = cognition.NewIntentionStack(st, scope, s.logger, s.opts...).ClearCompletedIntentions(ctx, p.ClearIntentionsAfterDays)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, fmt.Errorf("sweep %s/%s: %w", scope.TenantID, scope.AgentID, err)
	}

	if s.backfill != nil {
		if rep.Backfill, err = s.backfill.Run(ctx, scope); err != nil {
			s.logger.Warn("embedding backfill failed",
				zap.String("agent", scope.AgentID),
				zap.Error(err))
		}
	}

	rep.Duration = time.Since(start)
	s.logger.Info("memory sweep complete",
		zap.String("tenant", scope.TenantID),
		zap.String("agent", scope.AgentID),
		zap.Int("beliefs_decayed", rep.Beliefs.Decayed),
		zap.Int("beliefs_removed", rep.Beliefs.Removed),
		zap.Int("working_expired", rep.WorkingExpired),
		zap.Int("episodes_archived", rep.EpisodesArchived),
		zap.Int("facts_archived", rep.FactsArchived),
		zap.Int("procedures_archived", rep.ProceduresArchived),
		zap.Int("intentions_cleared", rep.IntentionsCleared),
		zap.Duration("took", rep.Duration))
	return rep, nil
}

// SweepAll sweeps every scope the backend holds. A failing scope is logged
// and does not stop the others; the failures are returned joined.
func (s *Sweeper) SweepAll(ctx context.Context) ([]Report, error) {
	scopes, err := s.backend.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}

	var reports []Report
	var errs []error
	for _, scope := range scopes {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rep, err := s.SweepScope(ctx, scope)
		if err != nil {
			s.logger.Warn("sweep failed", zap.String("agent", scope.AgentID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, rep)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErrs = len(errs)
	s.mu.Unlock()
	return reports, errors.Join(errs...)
}

// LastRun reports when SweepAll last finished and how many scopes failed.
func (s *Sweeper) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErrs
}

// Run sweeps every interval until ctx is cancelled. The first sweep fires
// after one interval.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("maintenance loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance loop stopped")
			return
		case <-ticker.C:
			reports, err := s.SweepAll(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("maintenance sweep finished with errors", zap.Error(err))
			}
			s.logger.Debug("maintenance tick", zap.Int("scopes", len(reports)))
		}
	}
}
