package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const beliefColumns = `id, tenant_id, agent_id, subject, predicate, object, confidence,
	belief_type, source, evidence, formed_at, last_updated_at, decay_rate,
	created_at, updated_at, deleted_at`

func scanBelief(row pgx.Row) (*cognition.Belief, error) {
	var b cognition.Belief
	err := row.Scan(
		&b.ID, &b.TenantID, &b.AgentID, &b.Subject, &b.Predicate, &b.Object, &b.Confidence,
		&b.Type, &b.Source, &b.Evidence, &b.FormedAt, &b.LastUpdatedAt, &b.DecayRate,
		&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBelief returns the live belief for (subject, predicate).
func (t *Tx) FindBelief(ctx context.Context, scope cognition.Scope, subject, predicate string) (*cognition.Belief, error) {
	b, err := scanBelief(t.tx.QueryRow(ctx, `
		SELECT `+beliefColumns+` FROM beliefs
		WHERE tenant_id = $1 AND agent_id = $2 AND subject = $3 AND predicate = $4
		  AND deleted_at IS NULL`,
		scope.TenantID, scope.AgentID, subject, predicate))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find belief %s/%s: %w", subject, predicate, err)
	}
	return b, nil
}

// InsertBelief stores a new belief. The live-key unique index rejects a
// second live belief for the same subject and predicate.
func (t *Tx) InsertBelief(ctx context.Context, b *cognition.Belief) error {
	b.ID = newID(b.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO beliefs (`+beliefColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		b.ID, b.TenantID, b.AgentID, b.Subject, b.Predicate, doc(b.Object), b.Confidence,
		string(b.Type), string(b.Source), textArray(b.Evidence), b.FormedAt, b.LastUpdatedAt, b.DecayRate,
		b.CreatedAt, b.UpdatedAt, b.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert belief %s/%s: %w", b.Subject, b.Predicate, err)
	}
	return nil
}

// UpdateBelief overwrites every mutable column of b.
func (t *Tx) UpdateBelief(ctx context.Context, b *cognition.Belief) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE beliefs SET object = $2, confidence = $3, belief_type = $4, source = $5,
			evidence = $6, last_updated_at = $7, decay_rate = $8, updated_at = $9, deleted_at = $10
		WHERE id = $1`,
		b.ID, doc(b.Object), b.Confidence, string(b.Type), string(b.Source),
		textArray(b.Evidence), b.LastUpdatedAt, b.DecayRate, b.UpdatedAt, b.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update belief %s: %w", b.ID, err)
	}
	return nil
}

// ListBeliefs orders by confidence desc, then last_updated_at desc.
func (t *Tx) ListBeliefs(ctx context.Context, scope cognition.Scope, f cognition.BeliefFilter) ([]*cognition.Belief, error) {
	q := newFilter(scope)
	if f.Subject != "" {
		q.add("subject = $%d", f.Subject)
	}
	if f.Type != "" {
		q.add("belief_type = $%d", string(f.Type))
	}
	if f.MinConfidence > 0 {
		q.add("confidence >= $%d", f.MinConfidence)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+beliefColumns+` FROM beliefs`+q.where()+
		` ORDER BY confidence DESC, last_updated_at DESC`, q.args...)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.Belief, error) {
		return scanBelief(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan belief: %w", err)
	}
	return out, nil
}

// AppendBeliefHistory inserts one immutable history row.
func (t *Tx) AppendBeliefHistory(ctx context.Context, h *cognition.BeliefHistory) error {
	h.ID = newID(h.ID)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO belief_history (id, tenant_id, agent_id, belief_id, subject, predicate,
			change_type, old_value, new_value, old_confidence, new_confidence, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		h.ID, h.TenantID, h.AgentID, h.BeliefID, h.Subject, h.Predicate,
		string(h.ChangeType), nullDoc(h.OldValue), nullDoc(h.NewValue), h.OldConfidence, h.NewConfidence,
		h.Reason, h.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("append belief history %s: %w", h.BeliefID, err)
	}
	return nil
}

// ListBeliefHistory orders newest first.
func (t *Tx) ListBeliefHistory(ctx context.Context, scope cognition.Scope, f cognition.HistoryFilter) ([]*cognition.BeliefHistory, error) {
	q := &filter{}
	q.add("tenant_id = $%d", scope.TenantID)
	q.add("agent_id = $%d", scope.AgentID)
	if f.Subject != "" {
		q.add("subject = $%d", f.Subject)
	}
	if f.Predicate != "" {
		q.add("predicate = $%d", f.Predicate)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, tenant_id, agent_id, belief_id, subject, predicate, change_type,
			old_value, new_value, old_confidence, new_confidence, reason, changed_at
		FROM belief_history`+q.where()+` ORDER BY changed_at DESC, seq DESC`+q.limit(f.Limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list belief history: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*cognition.BeliefHistory, error) {
		var h cognition.BeliefHistory
		err := r.Scan(&h.ID, &h.TenantID, &h.AgentID, &h.BeliefID, &h.Subject, &h.Predicate, &h.ChangeType,
			&h.OldValue, &h.NewValue, &h.OldConfidence, &h.NewConfidence, &h.Reason, &h.ChangedAt)
		return &h, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan belief history: %w", err)
	}
	return out, nil
}
