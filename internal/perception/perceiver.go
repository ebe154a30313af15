package perception

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/embedding"
)

// ObservationItemType is the working-memory item type for perceived
// observations.
const ObservationItemType = "observation"

var tracer = otel.Tracer("github.com/nidhogg/nuka-mind/internal/perception")

// Perceiver records observations into an agent's memory: a working-memory
// item, an observation episode, and the beliefs extracted from it.
type Perceiver struct {
	backend   cognition.Transactor
	working   cognition.WorkingStore
	extractor cognition.BeliefExtractor
	embedder  embedding.Provider
	opts      []cognition.Option
	logger    *zap.Logger
}

// PerceiverOption configures a Perceiver.
type PerceiverOption func(*Perceiver)

// WithWorkingStore keeps working memory in w instead of the backend.
func WithWorkingStore(w cognition.WorkingStore) PerceiverOption {
	return func(p *Perceiver) { p.working = w }
}

// WithExtractor enables belief extraction.
func WithExtractor(e cognition.BeliefExtractor) PerceiverOption {
	return func(p *Perceiver) { p.extractor = e }
}

// WithEmbedder embeds episodes as they are recorded.
func WithEmbedder(e embedding.Provider) PerceiverOption {
	return func(p *Perceiver) { p.embedder = e }
}

// WithManagerOptions passes options through to the memory managers.
func WithManagerOptions(opts ...cognition.Option) PerceiverOption {
	return func(p *Perceiver) { p.opts = append(p.opts, opts...) }
}

// NewPerceiver creates a perceiver writing through backend.
func NewPerceiver(backend cognition.Transactor, logger *zap.Logger, opts ...PerceiverOption) *Perceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Perceiver{backend: backend, logger: logger}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Perception is what one observation produced.
type Perception struct {
	Item    *cognition.WorkingItem
	Episode *cognition.Episode
	Beliefs []*cognition.Belief
}

// Ingest records obs. LLM and embedding calls run before the transaction
// opens; their failures degrade to no beliefs or no embedding.
func (p *Perceiver) Ingest(ctx context.Context, obs *cognition.Observation) (*Perception, error) {
	if obs == nil || obs.TenantID == "" || obs.EmployeeID == "" {
		return nil, errors.New("observation needs tenant_id and employee_id")
	}
	ctx, span := tracer.Start(ctx, "perception.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("nuka.tenant", obs.TenantID),
		attribute.String("nuka.agent", obs.EmployeeID),
		attribute.String("nuka.observation_type", obs.Type),
	)

	var extractor cognition.BeliefExtractor
	if p.extractor != nil {
		extraction, err := p.extractor.ExtractBeliefs(ctx, obs, cognition.FormatObservation(obs))
		extractor = settled{extraction: extraction, err: err}
	}

	spec := episodeSpec(obs)
	if p.embedder != nil {
		vec, err := embedding.EmbedOne(ctx, p.embedder, embedding.EpisodeText(&cognition.Episode{
			Type:         spec.Type,
			Description:  spec.Description,
			Content:      spec.Content,
			Participants: spec.Participants,
		}))
		if err != nil {
			p.logger.Warn("episode embedding failed, leaving it for backfill",
				zap.String("observation", obs.ID),
				zap.Error(err))
		} else {
			spec.Embedding = vec
		}
	}

	scope := obs.Scope()
	out := &Perception{}
	err := p.backend.InTx(ctx, func(s cognition.Store) error {
		s = cognition.WithWorkingStore(s, p.working)

		item, err := cognition.NewWorkingMemory(s, scope, p.logger, p.opts...).AddItem(ctx, cognition.ItemSpec{
			Type:       ObservationItemType,
			Content:    observationContent(obs),
			Importance: cognition.Float(importance(obs.Priority)),
			SourceRef:  obs.ID,
		})
		if err != nil {
			return err
		}
		out.Item = item

		ep, err := cognition.NewEpisodicMemory(s, scope, p.logger, p.opts...).RecordEpisode(ctx, spec)
		if err != nil {
			return err
		}
		out.Episode = ep

		beliefs, err := cognition.NewBeliefSystem(s, scope, p.logger, p.opts...).ExtractBeliefsFromObservation(ctx, obs, extractor)
		if err != nil {
			return err
		}
		out.Beliefs = beliefs
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ingest observation %s: %w", obs.ID, err)
	}

	span.SetAttributes(attribute.Int("nuka.beliefs", len(out.Beliefs)))
	p.logger.Info("observation perceived",
		zap.String("agent", scope.AgentID),
		zap.String("observation", obs.ID),
		zap.String("type", obs.Type),
		zap.Int("beliefs", len(out.Beliefs)))
	return out, nil
}

// Run ingests observations from feed for every scope until ctx is
// cancelled. Ingest failures are logged and the observation is skipped.
func (p *Perceiver) Run(ctx context.Context, feed *Feed, scopes []cognition.Scope, lastID string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		g.Go(func() error {
			p.logger.Info("perceiving", zap.String("stream", Stream(scope)))
			for obs := range feed.Subscribe(ctx, scope, lastID) {
				if obs.TenantID != scope.TenantID || obs.EmployeeID != scope.AgentID {
					p.logger.Warn("dropping observation for another agent",
						zap.String("stream", Stream(scope)),
						zap.String("observation", obs.ID))
					continue
				}
				if _, err := p.Ingest(ctx, obs); err != nil {
					p.logger.Error("perception failed",
						zap.String("observation", obs.ID),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// settled replays an extraction computed outside the transaction.
type settled struct {
	extraction *cognition.BeliefExtraction
	err        error
}

func (s settled) ExtractBeliefs(context.Context, *cognition.Observation, string) (*cognition.BeliefExtraction, error) {
	return s.extraction, s.err
}

func episodeSpec(obs *cognition.Observation) cognition.EpisodeSpec {
	var participants []string
	if obs.Source != "" {
		participants = []string{obs.Source}
	}
	return cognition.EpisodeSpec{
		Type:         cognition.EpisodeObservation,
		Description:  fmt.Sprintf("%s observation from %s", obs.Type, obs.Source),
		Content:      observationContent(obs),
		Participants: participants,
		Importance:   cognition.Float(importance(obs.Priority)),
		OccurredAt:   obs.Timestamp,
	}
}

func observationContent(obs *cognition.Observation) cognition.Document {
	doc := obs.Content.Clone()
	if doc == nil {
		doc = cognition.Document{}
	}
	doc["observation_id"] = obs.ID
	doc["observation_type"] = obs.Type
	doc["source"] = obs.Source
	doc["requires_action"] = obs.RequiresAction
	return doc
}

// importance maps a 1-10 priority onto [0.1, 1]. Zero means unset.
func importance(priority int) float64 {
	if priority <= 0 {
		return cognition.DefaultWorkingImportance
	}
	return float64(min(priority, 10)) / 10
}
