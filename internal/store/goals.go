package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const goalColumns = `id, tenant_id, agent_id, goal_type, description, priority, target,
	current_progress, status, completed_at, abandoned_at, created_at, updated_at, deleted_at`

func scanGoal(row pgx.Row) (*cognition.Goal, error) {
	var g cognition.Goal
	err := row.Scan(
		&g.ID, &g.TenantID, &g.AgentID, &g.Type, &g.Description, &g.Priority, &g.Target,
		&g.CurrentProgress, &g.Status, &g.CompletedAt, &g.AbandonedAt, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGoal retrieves a single goal by ID.
func (t *Tx) GetGoal(ctx context.Context, scope cognition.Scope, id string) (*cognition.Goal, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	g, err := scanGoal(t.tx.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", id, err)
	}
	return g, nil
}

// InsertGoal stores a new goal.
func (t *Tx) InsertGoal(ctx context.Context, g *cognition.Goal) error {
	g.ID = newID(g.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, g.TenantID, g.AgentID, string(g.Type), g.Description, g.Priority, doc(g.Target),
		doc(g.CurrentProgress), string(g.Status), g.CompletedAt, g.AbandonedAt, g.CreatedAt, g.UpdatedAt, g.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// UpdateGoal overwrites a stored goal.
func (t *Tx) UpdateGoal(ctx context.Context, g *cognition.Goal) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE goals SET goal_type = $2, description = $3, priority = $4, target = $5,
			current_progress = $6, status = $7, completed_at = $8, abandoned_at = $9,
			updated_at = $10, deleted_at = $11
		WHERE id = $1`,
		g.ID, string(g.Type), g.Description, g.Priority, doc(g.Target),
		doc(g.CurrentProgress), string(g.Status), g.CompletedAt, g.AbandonedAt,
		g.UpdatedAt, g.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update goal %s: %w", g.ID, err)
	}
	return nil
}

// ListGoals orders by priority desc, then created_at asc.
func (t *Tx) ListGoals(ctx context.Context, scope cognition.Scope, f cognition.GoalFilter) ([]*cognition.Goal, error) {
	q := newFilter(scope)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q.add("status = ANY($%d)", statuses)
	}
	if f.MinPriority > 0 {
		q.add("priority >= $%d", f.MinPriority)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+goalColumns+` FROM goals`+q.where()+
		` ORDER BY priority DESC, created_at ASC`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Goal, error) {
		return scanGoal(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	return out, nil
}
