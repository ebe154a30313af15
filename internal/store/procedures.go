package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const procedureColumns = `id, tenant_id, agent_id, procedure_type, name, steps, trigger_conditions,
	success_rate, execution_count, success_count, avg_execution_time, context, embedding::text,
	created_at, updated_at, deleted_at`

func scanProcedure(row pgx.Row) (*cognition.Procedure, error) {
	var p cognition.Procedure
	var embedding *string
	err := row.Scan(
		&p.ID, &p.TenantID, &p.AgentID, &p.Type, &p.Name, &p.Steps, &p.TriggerConditions,
		&p.SuccessRate, &p.ExecutionCount, &p.SuccessCount, &p.AvgExecutionTime, &p.Context, &embedding,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Embedding, err = parseVector(embedding); err != nil {
		return nil, err
	}
	return &p, nil
}

func steps(s []cognition.Document) []cognition.Document {
	if s == nil {
		return []cognition.Document{}
	}
	return s
}

// GetProcedure retrieves a single procedure by ID.
func (t *Tx) GetProcedure(ctx context.Context, scope cognition.Scope, id string) (*cognition.Procedure, error) {
	q := newFilter(scope)
	q.add("id = $%d", id)
	p, err := scanProcedure(t.tx.QueryRow(ctx, `SELECT `+procedureColumns+` FROM procedures`+q.where(), q.args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get procedure %s: %w", id, err)
	}
	return p, nil
}

// InsertProcedure stores a new procedure.
func (t *Tx) InsertProcedure(ctx context.Context, p *cognition.Procedure) error {
	p.ID = newID(p.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO procedures (id, tenant_id, agent_id, procedure_type, name, steps, trigger_conditions,
			success_rate, execution_count, success_count, avg_execution_time, context, embedding,
			created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::vector, $14, $15, $16)`,
		p.ID, p.TenantID, p.AgentID, p.Type, p.Name, steps(p.Steps), doc(p.TriggerConditions),
		p.SuccessRate, p.ExecutionCount, p.SuccessCount, p.AvgExecutionTime, doc(p.Context), vectorParam(p.Embedding),
		p.CreatedAt, p.UpdatedAt, p.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert procedure %s: %w", p.Name, err)
	}
	return nil
}

// UpdateProcedure overwrites a stored procedure.
func (t *Tx) UpdateProcedure(ctx context.Context, p *cognition.Procedure) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE procedures SET procedure_type = $2, name = $3, steps = $4, trigger_conditions = $5,
			success_rate = $6, execution_count = $7, success_count = $8, avg_execution_time = $9,
			context = $10, embedding = $11::vector, updated_at = $12, deleted_at = $13
		WHERE id = $1`,
		p.ID, p.Type, p.Name, steps(p.Steps), doc(p.TriggerConditions),
		p.SuccessRate, p.ExecutionCount, p.SuccessCount, p.AvgExecutionTime,
		doc(p.Context), vectorParam(p.Embedding), p.UpdatedAt, p.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update procedure %s: %w", p.ID, err)
	}
	return nil
}

// ListProcedures orders by success_rate desc, then execution_count desc.
func (t *Tx) ListProcedures(ctx context.Context, scope cognition.Scope, f cognition.ProcedureFilter) ([]*cognition.Procedure, error) {
	q := newFilter(scope)
	if f.Name != "" {
		q.add("name = $%d", f.Name)
	}
	if f.Type != "" {
		q.add("procedure_type = $%d", f.Type)
	}
	if f.MinSuccessRate != nil {
		q.add("success_rate >= $%d", *f.MinSuccessRate)
	}
	if f.MaxSuccessRate != nil {
		q.add("success_rate < $%d", *f.MaxSuccessRate)
	}
	if f.MinExecutions > 0 {
		q.add("execution_count >= $%d", f.MinExecutions)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+procedureColumns+` FROM procedures`+q.where()+
		` ORDER BY success_rate DESC, execution_count DESC, created_at`+q.limit(f.Limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Procedure, error) {
		return scanProcedure(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan procedure: %w", err)
	}
	return out, nil
}
