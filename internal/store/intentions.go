package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const intentionColumns = `id, tenant_id, agent_id, COALESCE(goal_id, ''), intention_type, description,
	plan, status, priority, context, dependencies, started_at, completed_at, failed_at,
	created_at, updated_at, deleted_at`

func scanIntention(row pgx.Row) (*cognition.Intention, error) {
	var i cognition.Intention
	err := row.Scan(
		&i.ID, &i.TenantID, &i.AgentID, &i.GoalID, &i.Type, &i.Description,
		&i.Plan, &i.Status, &i.Priority, &i.Context, &i.Dependencies, &i.StartedAt, &i.CompletedAt, &i.FailedAt,
		&i.CreatedAt, &i.UpdatedAt, &i.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// nullText maps an empty string to NULL.
func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetIntention retrieves a single intention by ID.
func (t *Tx) GetIntention(ctx context.Context, scope cognition.Scope, id string) (*cognition.Intention, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	i, err := scanIntention(t.tx.QueryRow(ctx, `SELECT `+intentionColumns+` FROM intentions`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intention %s: %w", id, err)
	}
	return i, nil
}

// InsertIntention stores a new intention.
func (t *Tx) InsertIntention(ctx context.Context, i *cognition.Intention) error {
	i.ID = newID(i.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO intentions (id, tenant_id, agent_id, goal_id, intention_type, description,
			plan, status, priority, context, dependencies, started_at, completed_at, failed_at,
			created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		i.ID, i.TenantID, i.AgentID, nullText(i.GoalID), string(i.Type), i.Description,
		doc(i.Plan), string(i.Status), i.Priority, doc(i.Context), textArray(i.Dependencies),
		i.StartedAt, i.CompletedAt, i.FailedAt, i.CreatedAt, i.UpdatedAt, i.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert intention: %w", err)
	}
	return nil
}

// UpdateIntention overwrites a stored intention.
func (t *Tx) UpdateIntention(ctx context.Context, i *cognition.Intention) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE intentions SET goal_id = $2, intention_type = $3, description = $4, plan = $5,
			status = $6, priority = $7, context = $8, dependencies = $9, started_at = $10,
			completed_at = $11, failed_at = $12, updated_at = $13, deleted_at = $14
		WHERE id = $1`,
		i.ID, nullText(i.GoalID), string(i.Type), i.Description, doc(i.Plan),
		string(i.Status), i.Priority, doc(i.Context), textArray(i.Dependencies), i.StartedAt,
		i.CompletedAt, i.FailedAt, i.UpdatedAt, i.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update intention %s: %w", i.ID, err)
	}
	return nil
}

// ListIntentions orders by priority desc, then created_at asc.
func (t *Tx) ListIntentions(ctx context.Context, scope cognition.Scope, f cognition.IntentionFilter) ([]*cognition.Intention, error) {
	q := newFilter(scope)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q.add("status = ANY($%d)", statuses)
	}
	if f.GoalID != "" {
		q.add("goal_id = $%d", f.GoalID)
	}
	if !f.CompletedBefore.IsZero() {
		q.add("completed_at < $%d", f.CompletedBefore)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+intentionColumns+` FROM intentions`+q.where()+
		` ORDER BY priority DESC, created_at ASC`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Intention, error) {
		return scanIntention(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan intention: %w", err)
	}
	return out, nil
}

// IntentionStatuses includes soft-deleted rows.
func (t *Tx) IntentionStatuses(ctx context.Context, scope cognition.Scope, ids []string) (map[string]cognition.IntentionStatus, error) {
	out := make(map[string]cognition.IntentionStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, status FROM intentions
		WHERE tenant_id = $1 AND agent_id = $2 AND id = ANY($3)`,
		scope.TenantID, scope.AgentID, ids)
	if err != nil {
		return nil, fmt.Errorf("intention statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan intention status: %w", err)
		}
		out[id] = cognition.IntentionStatus(status)
	}
	return out, rows.Err()
}
