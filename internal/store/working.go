package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const workingColumns = `id, tenant_id, agent_id, item_type, content, importance, access_count,
	last_accessed_at, expires_at, source_ref, created_at, updated_at, deleted_at`

func scanWorkingItem(row pgx.Row) (*cognition.WorkingItem, error) {
	var w cognition.WorkingItem
	err := row.Scan(
		&w.ID, &w.TenantID, &w.AgentID, &w.Type, &w.Content, &w.Importance, &w.AccessCount,
		&w.LastAccessedAt, &w.ExpiresAt, &w.SourceRef, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorkingItem returns the item even when it has expired; liveness is the
// caller's decision.
func (t *Tx) GetWorkingItem(ctx context.Context, scope cognition.Scope, id string) (*cognition.WorkingItem, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	w, err := scanWorkingItem(t.tx.QueryRow(ctx, `SELECT `+workingColumns+` FROM working_memory`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working item %s: %w", id, err)
	}
	return w, nil
}

// InsertWorkingItem stores a new working item.
func (t *Tx) InsertWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	w.ID = newID(w.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO working_memory (`+workingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		w.ID, w.TenantID, w.AgentID, w.Type, doc(w.Content), w.Importance, w.AccessCount,
		w.LastAccessedAt, w.ExpiresAt, w.SourceRef, w.CreatedAt, w.UpdatedAt, w.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert working item: %w", err)
	}
	return nil
}

// UpdateWorkingItem overwrites a stored working item.
func (t *Tx) UpdateWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE working_memory SET item_type = $2, content = $3, importance = $4, access_count = $5,
			last_accessed_at = $6, expires_at = $7, source_ref = $8, updated_at = $9, deleted_at = $10
		WHERE id = $1`,
		w.ID, w.Type, doc(w.Content), w.Importance, w.AccessCount,
		w.LastAccessedAt, w.ExpiresAt, w.SourceRef, w.UpdatedAt, w.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update working item %s: %w", w.ID, err)
	}
	return nil
}

// ListWorkingItems orders by importance desc, then created_at desc.
func (t *Tx) ListWorkingItems(ctx context.Context, scope cognition.Scope, f cognition.WorkingFilter) ([]*cognition.WorkingItem, error) {
	q := newFilter(scope)
	if f.Type != "" {
		q.add("item_type = $%d", f.Type)
	}
	if !f.LiveAt.IsZero() {
		q.add("expires_at > $%d", f.LiveAt)
	}
	if !f.ExpiredAt.IsZero() {
		q.add("expires_at <= $%d", f.ExpiredAt)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+workingColumns+` FROM working_memory`+q.where()+
		` ORDER BY importance DESC, created_at DESC, id`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("list working items: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.WorkingItem, error) {
		return scanWorkingItem(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan working item: %w", err)
	}
	return out, nil
}
