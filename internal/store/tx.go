package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// Tx is a PostgreSQL transaction exposing the cognition repositories.
type Tx struct {
	tx     pgx.Tx
	index  cognition.VectorIndex
	logger *zap.Logger
}

var _ cognition.Store = (*Tx)(nil)

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a
// no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// indexVector mirrors an embedding into the external index when one is set,
// and drops it once the record is soft-deleted.
func (t *Tx) indexVector(ctx context.Context, kind string, r cognition.Record, vec []float32) {
	if t.index == nil || vec == nil {
		return
	}
	var err error
	if r.DeletedAt != nil {
		err = t.index.RemoveVector(ctx, kind, r.Scope(), r.ID)
	} else {
		err = t.index.IndexVector(ctx, kind, r.Scope(), r.ID, vec)
	}
	if err != nil {
		t.logger.Warn("vector index write failed",
			zap.String("kind", kind),
			zap.String("id", r.ID),
			zap.Error(err))
	}
}

// searchIndex returns index hits, or ok=false when pgvector should be used.
func (t *Tx) searchIndex(ctx context.Context, kind string, scope cognition.Scope, query []float32, limit int, threshold float64) ([]cognition.VectorHit, bool) {
	if t.index == nil {
		return nil, false
	}
	hits, err := t.index.SearchVectors(ctx, kind, scope, query, limit, threshold)
	if err != nil {
		t.logger.Warn("vector index search failed, using pgvector",
			zap.String("kind", kind),
			zap.Error(err))
		return nil, false
	}
	return hits, true
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// filter accumulates WHERE clauses with positional arguments. Each clause
// contains exactly one %d placeholder for its argument.
type filter struct {
	clauses []string
	args    []any
}

func newFilter(scope cognition.Scope) *filter {
	f := &filter{}
	f.add("tenant_id = $%d", scope.TenantID)
	f.add("agent_id = $%d", scope.AgentID)
	f.clauses = append(f.clauses, "deleted_at IS NULL")
	return f
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) raw(clause string) {
	f.clauses = append(f.clauses, clause)
}

// arg registers an argument without a clause and returns its placeholder.
func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return "$" + strconv.Itoa(len(f.args))
}

func (f *filter) where() string {
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func (f *filter) limit(n int) string {
	if n <= 0 {
		return ""
	}
	return " LIMIT " + f.arg(n)
}

// vectorParam encodes v in pgvector's text form, or NULL for nil.
func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// parseVector decodes pgvector's text form.
func parseVector(s *string) ([]float32, error) {
	if s == nil {
		return nil, nil
	}
	body := strings.TrimSpace(*s)
	body = strings.TrimPrefix(body, "[")
	body = strings.TrimSuffix(body, "]")
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// doc returns d, or an empty document for a NOT NULL column.
func doc(d cognition.Document) cognition.Document {
	if d == nil {
		return cognition.Document{}
	}
	return d
}

// nullDoc returns nil for a nil document so the column is NULL.
func nullDoc(d cognition.Document) any {
	if d == nil {
		return nil
	}
	return d
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// idOrder maps ids to their rank so rows loaded by id can be returned in
// index order.
func idOrder(hits []cognition.VectorHit) ([]string, map[string]float64) {
	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}
	return ids, scores
}
