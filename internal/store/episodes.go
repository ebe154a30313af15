package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const episodeColumns = `id, tenant_id, agent_id, episode_type, description, content, participants,
	location, embedding::text, importance, recall_count, last_recalled_at, occurred_at,
	created_at, updated_at, deleted_at`

func scanEpisode(row pgx.Row, extra ...any) (*cognition.Episode, error) {
	var e cognition.Episode
	var embedding *string
	dest := []any{
		&e.ID, &e.TenantID, &e.AgentID, &e.Type, &e.Description, &e.Content, &e.Participants,
		&e.Location, &embedding, &e.Importance, &e.RecallCount, &e.LastRecalledAt, &e.OccurredAt,
		&e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	vec, err := parseVector(embedding)
	if err != nil {
		return nil, err
	}
	e.Embedding = vec
	return &e, nil
}

// GetEpisode retrieves a single episode by ID.
func (t *Tx) GetEpisode(ctx context.Context, scope cognition.Scope, id string) (*cognition.Episode, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	e, err := scanEpisode(t.tx.QueryRow(ctx, `SELECT `+episodeColumns+` FROM episodes`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %s: %w", id, err)
	}
	return e, nil
}

// InsertEpisode stores a new episode.
func (t *Tx) InsertEpisode(ctx context.Context, e *cognition.Episode) error {
	e.ID = newID(e.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO episodes (id, tenant_id, agent_id, episode_type, description, content, participants,
			location, embedding, importance, recall_count, last_recalled_at, occurred_at,
			created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.TenantID, e.AgentID, string(e.Type), e.Description, doc(e.Content), textArray(e.Participants),
		e.Location, vectorParam(e.Embedding), e.Importance, e.RecallCount, e.LastRecalledAt, e.OccurredAt,
		e.CreatedAt, e.UpdatedAt, e.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	t.indexVector(ctx, cognition.KindEpisode, e.Record, e.Embedding)
	return nil
}

// UpdateEpisode overwrites a stored episode.
func (t *Tx) UpdateEpisode(ctx context.Context, e *cognition.Episode) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE episodes SET episode_type = $2, description = $3, content = $4, participants = $5,
			location = $6, embedding = $7::vector, importance = $8, recall_count = $9,
			last_recalled_at = $10, occurred_at = $11, updated_at = $12, deleted_at = $13
		WHERE id = $1`,
		e.ID, string(e.Type), e.Description, doc(e.Content), textArray(e.Participants),
		e.Location, vectorParam(e.Embedding), e.Importance, e.RecallCount,
		e.LastRecalledAt, e.OccurredAt, e.UpdatedAt, e.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update episode %s: %w", e.ID, err)
	}
	t.indexVector(ctx, cognition.KindEpisode, e.Record, e.Embedding)
	return nil
}

// ListEpisodes orders by occurred_at desc.
func (t *Tx) ListEpisodes(ctx context.Context, scope cognition.Scope, f cognition.EpisodeFilter) ([]*cognition.Episode, error) {
	q := newFilter(scope)
	if f.Type != "" {
		q.add("episode_type = $%d", string(f.Type))
	}
	if f.Participant != "" {
		q.add("$%d = ANY(participants)", f.Participant)
	}
	if !f.OccurredAfter.IsZero() {
		q.add("occurred_at >= $%d", f.OccurredAfter)
	}
	if !f.CreatedBefore.IsZero() {
		q.add("created_at < $%d", f.CreatedBefore)
	}
	if f.MinRecallCount > 0 {
		q.add("recall_count >= $%d", f.MinRecallCount)
	}
	if f.MaxRecallCount != nil {
		q.add("recall_count <= $%d", *f.MaxRecallCount)
	}
	if f.MaxImportance != nil {
		q.add("importance < $%d", *f.MaxImportance)
	}
	if f.MissingEmbedding {
		q.raw("embedding IS NULL")
	}
	rows, err := t.tx.Query(ctx, `SELECT `+episodeColumns+` FROM episodes`+q.where()+
		` ORDER BY occurred_at DESC, id`+q.limit(f.Limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Episode, error) {
		return scanEpisode(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	return out, nil
}

// SearchEpisodes uses the vector index when one is configured and pgvector
// cosine distance otherwise.
func (t *Tx) SearchEpisodes(ctx context.Context, scope cognition.Scope, query []float32, limit int, threshold float64) ([]cognition.ScoredEpisode, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	if hits, ok := t.searchIndex(ctx, cognition.KindEpisode, scope, query, limit, threshold); ok {
		return t.episodesByHits(ctx, scope, hits, threshold)
	}

	q := newFilter(scope)
	vec := q.arg(vectorParam(query))
	q.raw("embedding IS NOT NULL")
	q.raw("vector_dims(embedding) = " + strconv.Itoa(len(query)))
	q.raw(fmt.Sprintf("1 - (embedding <=> %s::vector) >= %s", vec, q.arg(threshold)))
	rows, err := t.tx.Query(ctx, `SELECT `+episodeColumns+`, 1 - (embedding <=> `+vec+`::vector)
		FROM episodes`+q.where()+` ORDER BY embedding <=> `+vec+`::vector`+q.limit(limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (cognition.ScoredEpisode, error) {
		var sim float64
		e, err := scanEpisode(r, &sim)
		return cognition.ScoredEpisode{Episode: e, Similarity: sim}, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	return out, nil
}

func (t *Tx) episodesByHits(ctx context.Context, scope cognition.Scope, hits []cognition.VectorHit, threshold float64) ([]cognition.ScoredEpisode, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids, scores := idOrder(hits)
	q := newFilter(scope)
	q.add("id = ANY($%d)", ids)
	rows, err := t.tx.Query(ctx, `SELECT `+episodeColumns+` FROM episodes`+q.where(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("load episode hits: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Episode, error) {
		return scanEpisode(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	byID := make(map[string]*cognition.Episode, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]cognition.ScoredEpisode, 0, len(found))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok || scores[id] < threshold {
			continue
		}
		out = append(out, cognition.ScoredEpisode{Episode: e, Similarity: scores[id]})
	}
	return out, nil
}
