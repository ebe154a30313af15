package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Procedural memory defaults.
const (
	DefaultMinSuccessRate       = 0.5
	DefaultSituationLimit       = 5
	DefaultMinExecutions        = 3
	DefaultBestLimit            = 10
	DefaultPoorMaxSuccessRate   = 0.3
	DefaultPoorMinExecutions    = 5
	DefaultProvenMinSuccessRate = 0.8
	DefaultProvenMinExecutions  = 5
	// MaxOutcomeLog bounds context["outcomes"].
	MaxOutcomeLog = 10
)

// ProcedureRecord reports one execution of a procedure. ExecutionTime is in
// seconds and may be nil when unknown.
type ProcedureRecord struct {
	Type              string
	Name              string
	Steps             []Document
	TriggerConditions Document
	Success           bool
	ExecutionTime     *float64
	Context           Document
	Embedding         []float32
}

// ProceduralMemory learns skills from execution outcomes for one scope.
type ProceduralMemory struct {
	store  ProcedureStore
	scope  Scope
	clock  Clock
	logger *zap.Logger
}

// NewProceduralMemory creates a procedural memory manager bound to scope.
func NewProceduralMemory(store ProcedureStore, scope Scope, logger *zap.Logger, opts ...Option) *ProceduralMemory {
	o := buildOptions(opts)
	return &ProceduralMemory{store: store, scope: scope, clock: o.clock, logger: nopIfNil(logger)}
}

// RecordProcedure folds one execution into the procedure matching name and
// trigger conditions, creating it on first use.
func (m *ProceduralMemory) RecordProcedure(ctx context.Context, r ProcedureRecord) (*Procedure, error) {
	now := m.clock()
	existing, err := m.match(ctx, r.Name, r.TriggerConditions)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		p := existing
		p.ExecutionCount++
		if r.Success {
			p.SuccessCount++
		}
		p.SuccessRate = float64(p.SuccessCount) / float64(p.ExecutionCount)
		if r.ExecutionTime != nil {
			if p.AvgExecutionTime == nil {
				p.AvgExecutionTime = Float(*r.ExecutionTime)
			} else {
				n := float64(p.ExecutionCount)
				p.AvgExecutionTime = Float((*p.AvgExecutionTime*(n-1) + *r.ExecutionTime) / n)
			}
		}
		if r.Steps != nil {
			p.Steps = cloneDocs(r.Steps)
		}
		if r.Type != "" {
			p.Type = r.Type
		}
		if r.Embedding != nil {
			p.Embedding = cloneVector(r.Embedding)
		}
		p.Context = appendOutcome(p.Context.Merge(r.Context), r, now)
		p.UpdatedAt = now
		if err := m.store.UpdateProcedure(ctx, p); err != nil {
			return nil, fmt.Errorf("update procedure %s: %w", p.ID, err)
		}
		m.logger.Debug("procedure execution recorded",
			zap.String("procedure", p.ID),
			zap.String("name", p.Name),
			zap.Int("executions", p.ExecutionCount),
			zap.Float64("success_rate", p.SuccessRate))
		return p, nil
	}

	p := &Procedure{
		Record: Record{
			TenantID:  m.scope.TenantID,
			AgentID:   m.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:              r.Type,
		Name:              r.Name,
		Steps:             cloneDocs(r.Steps),
		TriggerConditions: docOrEmpty(r.TriggerConditions),
		ExecutionCount:    1,
		AvgExecutionTime:  cloneFloat(r.ExecutionTime),
		Embedding:         cloneVector(r.Embedding),
	}
	if p.Steps == nil {
		p.Steps = []Document{}
	}
	if r.Success {
		p.SuccessCount = 1
		p.SuccessRate = 1
	}
	p.Context = appendOutcome(docOrEmpty(r.Context), r, now)
	if err := m.store.InsertProcedure(ctx, p); err != nil {
		return nil, fmt.Errorf("insert procedure: %w", err)
	}
	m.logger.Info("procedure learned", zap.String("procedure", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProcedure returns the procedure with id, or nil.
func (m *ProceduralMemory) GetProcedure(ctx context.Context, id string) (*Procedure, error) {
	p, err := m.store.GetProcedure(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get procedure %s: %w", id, err)
	}
	return p, nil
}

// GetProceduresByName returns every live procedure called name.
func (m *ProceduralMemory) GetProceduresByName(ctx context.Context, name string) ([]*Procedure, error) {
	out, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{Name: name})
	if err != nil {
		return nil, fmt.Errorf("list procedures named %s: %w", name, err)
	}
	return out, nil
}

// FindProceduresForSituation returns up to limit procedures, best first,
// whose success rate is at least minSuccessRate and whose trigger conditions
// hold in situation. An empty procType matches every type.
func (m *ProceduralMemory) FindProceduresForSituation(ctx context.Context, situation Document, procType string, minSuccessRate float64, limit int) ([]*Procedure, error) {
	limit = limitOr(limit, DefaultSituationLimit)
	candidates, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{
		Type:           procType,
		MinSuccessRate: &minSuccessRate,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate procedures: %w", err)
	}
	var out []*Procedure
	for _, p := range candidates {
		if !MatchConditions(p.TriggerConditions, situation) {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetBestProcedures returns procedures executed at least minExecutions
// times, ordered by success rate then execution count.
func (m *ProceduralMemory) GetBestProcedures(ctx context.Context, procType string, minExecutions, limit int) ([]*Procedure, error) {
	out, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{
		Type:          procType,
		MinExecutions: minExecutions,
		Limit:         limitOr(limit, DefaultBestLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("list best procedures: %w", err)
	}
	return out, nil
}

// ArchivePoorProcedures soft-deletes procedures with enough executions and a
// success rate below maxSuccessRate.
func (m *ProceduralMemory) ArchivePoorProcedures(ctx context.Context, maxSuccessRate float64, minExecutions int) (int, error) {
	rows, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{
		MaxSuccessRate: &maxSuccessRate,
		MinExecutions:  minExecutions,
	})
	if err != nil {
		return 0, fmt.Errorf("list poor procedures: %w", err)
	}
	now := m.clock()
	archived := 0
	for _, p := range rows {
		p.DeletedAt = ptrTime(now)
		p.UpdatedAt = now
		if err := m.store.UpdateProcedure(ctx, p); err != nil {
			return archived, fmt.Errorf("archive procedure %s: %w", p.ID, err)
		}
		archived++
	}
	m.logger.Info("archived poor procedures", zap.String("agent", m.scope.AgentID), zap.Int("count", archived))
	return archived, nil
}

// ReinforceSuccessfulProcedures flags procedures with enough executions and
// a success rate of at least minSuccessRate as proven. Rows already flagged
// are left untouched and not counted.
func (m *ProceduralMemory) ReinforceSuccessfulProcedures(ctx context.Context, minSuccessRate float64, minExecutions int) (int, error) {
	rows, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{
		MinSuccessRate: &minSuccessRate,
		MinExecutions:  minExecutions,
	})
	if err != nil {
		return 0, fmt.Errorf("list successful procedures: %w", err)
	}
	now := m.clock()
	n := 0
	for _, p := range rows {
		if proven, _ := p.Context.Bool("proven"); proven {
			continue
		}
		p.Context = p.Context.Merge(Document{"proven": true})
		p.UpdatedAt = now
		if err := m.store.UpdateProcedure(ctx, p); err != nil {
			return n, fmt.Errorf("reinforce procedure %s: %w", p.ID, err)
		}
		n++
	}
	m.logger.Info("reinforced successful procedures", zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	return n, nil
}

func (m *ProceduralMemory) match(ctx context.Context, name string, conditions Document) (*Procedure, error) {
	named, err := m.store.ListProcedures(ctx, m.scope, ProcedureFilter{Name: name})
	if err != nil {
		return nil, fmt.Errorf("find procedure %s: %w", name, err)
	}
	for _, p := range named {
		if p.TriggerConditions.Contains(conditions) {
			return p, nil
		}
	}
	return nil, nil
}

// appendOutcome adds one execution to the capped outcome log in ctxDoc.
func appendOutcome(ctxDoc Document, r ProcedureRecord, at time.Time) Document {
	if ctxDoc == nil {
		ctxDoc = Document{}
	}
	var log []any
	if prev, ok := normalizeValue(ctxDoc["outcomes"]).([]any); ok {
		log = prev
	}
	entry := map[string]any{
		"success":     r.Success,
		"recorded_at": at.UTC().Format(time.RFC3339),
	}
	if r.ExecutionTime != nil {
		entry["execution_time"] = *r.ExecutionTime
	}
	log = append(log, entry)
	if len(log) > MaxOutcomeLog {
		log = log[len(log)-MaxOutcomeLog:]
	}
	ctxDoc["outcomes"] = log
	return ctxDoc
}
