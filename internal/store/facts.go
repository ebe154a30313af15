package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const factColumns = `id, tenant_id, agent_id, fact_type, subject, predicate, object, confidence,
	source, verified, embedding::text, access_count, last_accessed_at, created_at, updated_at, deleted_at`

func scanFact(row pgx.Row, extra ...any) (*cognition.Fact, error) {
	var f cognition.Fact
	var embedding *string
	dest := []any{
		&f.ID, &f.TenantID, &f.AgentID, &f.Type, &f.Subject, &f.Predicate, &f.Object, &f.Confidence,
		&f.Source, &f.Verified, &embedding, &f.AccessCount, &f.LastAccessedAt, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	vec, err := parseVector(embedding)
	if err != nil {
		return nil, err
	}
	f.Embedding = vec
	return &f, nil
}

// FindFact looks up the fact for a subject and predicate.
func (t *Tx) FindFact(ctx context.Context, scope cognition.Scope, subject, predicate string) (*cognition.Fact, error) {
	q := newFilter(scope)
	q.add("subject = $%d", subject)
	q.add("predicate = $%d", predicate)
	f, err := scanFact(t.tx.QueryRow(ctx, `SELECT `+factColumns+` FROM facts`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fact %s/%s: %w", subject, predicate, err)
	}
	return f, nil
}

// GetFact retrieves a single fact by ID.
func (t *Tx) GetFact(ctx context.Context, scope cognition.Scope, id string) (*cognition.Fact, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	f, err := scanFact(t.tx.QueryRow(ctx, `SELECT `+factColumns+` FROM facts`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact %s: %w", id, err)
	}
	return f, nil
}

// InsertFact stores a new fact.
func (t *Tx) InsertFact(ctx context.Context, f *cognition.Fact) error {
	f.ID = newID(f.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO facts (id, tenant_id, agent_id, fact_type, subject, predicate, object, confidence,
			source, verified, embedding, access_count, last_accessed_at, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector, $12, $13, $14, $15, $16)`,
		f.ID, f.TenantID, f.AgentID, string(f.Type), f.Subject, f.Predicate, f.Object, f.Confidence,
		f.Source, f.Verified, vectorParam(f.Embedding), f.AccessCount, f.LastAccessedAt, f.CreatedAt, f.UpdatedAt, f.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fact %s/%s: %w", f.Subject, f.Predicate, err)
	}
	t.indexVector(ctx, cognition.KindFact, f.Record, f.Embedding)
	return nil
}

// UpdateFact overwrites a stored fact.
func (t *Tx) UpdateFact(ctx context.Context, f *cognition.Fact) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE facts SET fact_type = $2, object = $3, confidence = $4, source = $5, verified = $6,
			embedding = $7::vector, access_count = $8, last_accessed_at = $9, updated_at = $10, deleted_at = $11
		WHERE id = $1`,
		f.ID, string(f.Type), f.Object, f.Confidence, f.Source, f.Verified,
		vectorParam(f.Embedding), f.AccessCount, f.LastAccessedAt, f.UpdatedAt, f.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update fact %s: %w", f.ID, err)
	}
	t.indexVector(ctx, cognition.KindFact, f.Record, f.Embedding)
	return nil
}

// ListFacts orders by confidence desc, then updated_at desc.
func (t *Tx) ListFacts(ctx context.Context, scope cognition.Scope, f cognition.FactFilter) ([]*cognition.Fact, error) {
	q := newFilter(scope)
	if f.Subject != "" {
		q.add("subject = $%d", f.Subject)
	}
	if f.Predicate != "" {
		q.add("predicate = $%d", f.Predicate)
	}
	if f.Text != "" {
		p := q.arg("%" + likeEscape(f.Text) + "%")
		q.raw("(subject ILIKE " + p + " OR predicate ILIKE " + p + " OR object ILIKE " + p + ")")
	}
	if f.MinAccessCount > 0 {
		q.add("access_count >= $%d", f.MinAccessCount)
	}
	if f.MaxAccessCount != nil {
		q.add("access_count <= $%d", *f.MaxAccessCount)
	}
	if f.MaxConfidence != nil {
		q.add("confidence < $%d", *f.MaxConfidence)
	}
	if !f.CreatedBefore.IsZero() {
		q.add("created_at < $%d", f.CreatedBefore)
	}
	if f.MissingEmbedding {
		q.raw("embedding IS NULL")
	}
	rows, err := t.tx.Query(ctx, `SELECT `+factColumns+` FROM facts`+q.where()+
		` ORDER BY confidence DESC, updated_at DESC, id`+q.limit(f.Limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Fact, error) {
		return scanFact(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan fact: %w", err)
	}
	return out, nil
}

// SearchFacts uses the vector index when one is configured and pgvector
// cosine distance otherwise. Index hits are post-filtered by subject and
// predicate, so fewer than limit rows may come back.
func (t *Tx) SearchFacts(ctx context.Context, scope cognition.Scope, query []float32, limit int, threshold float64, subject, predicate string) ([]cognition.ScoredFact, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	if hits, ok := t.searchIndex(ctx, cognition.KindFact, scope, query, limit, threshold); ok {
		return t.factsByHits(ctx, scope, hits, threshold, subject, predicate)
	}

	q := newFilter(scope)
	vec := q.arg(vectorParam(query))
	q.raw("embedding IS NOT NULL")
	q.raw("vector_dims(embedding) = " + strconv.Itoa(len(query)))
	q.raw(fmt.Sprintf("1 - (embedding <=> %s::vector) >= %s", vec, q.arg(threshold)))
	if subject != "" {
		q.add("subject = $%d", subject)
	}
	if predicate != "" {
		q.add("predicate = $%d", predicate)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+factColumns+`, 1 - (embedding <=> `+vec+`::vector)
		FROM facts`+q.where()+` ORDER BY embedding <=> `+vec+`::vector`+q.limit(limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (cognition.ScoredFact, error) {
		var sim float64
		f, err := scanFact(r, &sim)
		return cognition.ScoredFact{Fact: f, Similarity: sim}, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fact: %w", err)
	}
	return out, nil
}

func (t *Tx) factsByHits(ctx context.Context, scope cognition.Scope, hits []cognition.VectorHit, threshold float64, subject, predicate string) ([]cognition.ScoredFact, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids, scores := idOrder(hits)
	q := newFilter(scope)
	q.add("id = ANY($%d)", ids)
	if subject != "" {
		q.add("subject = $%d", subject)
	}
	if predicate != "" {
		q.add("predicate = $%d", predicate)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+factColumns+` FROM facts`+q.where(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("load fact hits: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Fact, error) {
		return scanFact(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan fact: %w", err)
	}
	byID := make(map[string]*cognition.Fact, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	out := make([]cognition.ScoredFact, 0, len(found))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok || scores[id] < threshold {
			continue
		}
		out = append(out, cognition.ScoredFact{Fact: f, Similarity: scores[id]})
	}
	return out, nil
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeEscape escapes LIKE metacharacters so text matches literally.
func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}
