package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultDecayRate is the confidence lost per day without an update.
	DefaultDecayRate = 0.1
	// MinBeliefConfidence is the floor below which decayed beliefs are removed.
	MinBeliefConfidence = 0.1
	// DefaultHistoryLimit bounds GetBeliefHistory.
	DefaultHistoryLimit = 100

	decayedAwayReason = "confidence decayed below threshold"
	secondsPerDay     = 86400
)

// BeliefUpdate describes a belief to create or overwrite. A zero Type selects
// BeliefState and a nil DecayRate selects the manager's default rate
// (DefaultDecayRate unless WithDecayRate is given). An explicit zero rate
// never decays.
type BeliefUpdate struct {
	Subject    string
	Predicate  string
	Object     Document
	Confidence float64
	Source     BeliefSource
	Type       BeliefType
	Evidence   []string
	DecayRate  *float64
}

// DecayReport summarises one DecayBeliefs pass.
type DecayReport struct {
	Scanned int `json:"scanned"`
	Decayed int `json:"decayed"`
	Removed int `json:"removed"`
}

// BeliefSystem maintains the agent's world model for one scope.
type BeliefSystem struct {
	store     BeliefStore
	scope     Scope
	clock     Clock
	decayRate float64
	logger    *zap.Logger
}

// NewBeliefSystem creates a belief manager bound to scope.
func NewBeliefSystem(store BeliefStore, scope Scope, logger *zap.Logger, opts ...Option) *BeliefSystem {
	o := buildOptions(opts)
	return &BeliefSystem{store: store, scope: scope, clock: o.clock, decayRate: o.decay, logger: nopIfNil(logger)}
}

// GetBelief returns the live belief for (subject, predicate), or nil.
func (s *BeliefSystem) GetBelief(ctx context.Context, subject, predicate string) (*Belief, error) {
	b, err := s.store.FindBelief(ctx, s.scope, subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("get belief %s/%s: %w", subject, predicate, err)
	}
	return b, nil
}

// UpdateBelief overwrites the matching live belief or creates a new one.
// Evidence is unioned with what the belief already holds. Every call appends
// exactly one history row.
func (s *BeliefSystem) UpdateBelief(ctx context.Context, u BeliefUpdate) (*Belief, error) {
	if u.Type == "" {
		u.Type = BeliefState
	}
	decayRate := s.decayRate
	if u.DecayRate != nil {
		decayRate = clamp01(*u.DecayRate)
	}
	object := u.Object.Clone()
	if object == nil {
		object = Document{}
	}
	confidence := clamp01(u.Confidence)
	now := s.clock()

	existing, err := s.store.FindBelief(ctx, s.scope, u.Subject, u.Predicate)
	if err != nil {
		return nil, fmt.Errorf("find belief %s/%s: %w", u.Subject, u.Predicate, err)
	}

	if existing != nil {
		oldValue := existing.Object.Clone()
		oldConfidence := existing.Confidence

		existing.Object = object
		existing.Confidence = confidence
		existing.Source = u.Source
		existing.Type = u.Type
		existing.DecayRate = decayRate
		existing.Evidence = unionStrings(existing.Evidence, u.Evidence)
		existing.LastUpdatedAt = now
		existing.UpdatedAt = now
		if err := s.store.UpdateBelief(ctx, existing); err != nil {
			return nil, fmt.Errorf("update belief %s: %w", existing.ID, err)
		}
		if err := s.appendHistory(ctx, existing, ChangeUpdated, oldValue, existing.Object, Float(oldConfidence), Float(confidence), "", now); err != nil {
			return nil, err
		}
		s.logger.Debug("belief updated",
			zap.String("subject", u.Subject),
			zap.String("predicate", u.Predicate),
			zap.Float64("old_confidence", oldConfidence),
			zap.Float64("confidence", confidence))
		return existing, nil
	}

	b := &Belief{
		Record: Record{
			TenantID:  s.scope.TenantID,
			AgentID:   s.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Subject:       u.Subject,
		Predicate:     u.Predicate,
		Object:        object,
		Confidence:    confidence,
		Type:          u.Type,
		Source:        u.Source,
		Evidence:      unionStrings(nil, u.Evidence),
		FormedAt:      now,
		LastUpdatedAt: now,
		DecayRate:     decayRate,
	}
	if err := s.store.InsertBelief(ctx, b); err != nil {
		return nil, fmt.Errorf("insert belief %s/%s: %w", u.Subject, u.Predicate, err)
	}
	if err := s.appendHistory(ctx, b, ChangeCreated, nil, b.Object, nil, Float(confidence), "", now); err != nil {
		return nil, err
	}
	s.logger.Debug("belief formed",
		zap.String("subject", u.Subject),
		zap.String("predicate", u.Predicate),
		zap.Float64("confidence", confidence))
	return b, nil
}

// GetAllBeliefs returns every live belief at or above minConfidence.
func (s *BeliefSystem) GetAllBeliefs(ctx context.Context, minConfidence float64) ([]*Belief, error) {
	beliefs, err := s.store.ListBeliefs(ctx, s.scope, BeliefFilter{MinConfidence: minConfidence})
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	return beliefs, nil
}

// GetBeliefsAbout returns live beliefs about subject at or above minConfidence.
func (s *BeliefSystem) GetBeliefsAbout(ctx context.Context, subject string, minConfidence float64) ([]*Belief, error) {
	beliefs, err := s.store.ListBeliefs(ctx, s.scope, BeliefFilter{Subject: subject, MinConfidence: minConfidence})
	if err != nil {
		return nil, fmt.Errorf("list beliefs about %s: %w", subject, err)
	}
	return beliefs, nil
}

// GetBeliefsByType returns live beliefs of one type at or above minConfidence.
func (s *BeliefSystem) GetBeliefsByType(ctx context.Context, t BeliefType, minConfidence float64) ([]*Belief, error) {
	beliefs, err := s.store.ListBeliefs(ctx, s.scope, BeliefFilter{Type: t, MinConfidence: minConfidence})
	if err != nil {
		return nil, fmt.Errorf("list %s beliefs: %w", t, err)
	}
	return beliefs, nil
}

// DecayBeliefs lowers the confidence of beliefs that have not been updated
// for at least a day. Beliefs falling below MinBeliefConfidence are removed.
// Re-running the pass on the same day is a no-op.
func (s *BeliefSystem) DecayBeliefs(ctx context.Context) (DecayReport, error) {
	var report DecayReport
	beliefs, err := s.store.ListBeliefs(ctx, s.scope, BeliefFilter{})
	if err != nil {
		return report, fmt.Errorf("list beliefs for decay: %w", err)
	}
	now := s.clock()

	for _, b := range beliefs {
		report.Scanned++
		days := now.Sub(b.LastUpdatedAt).Seconds() / secondsPerDay
		if days < 1 {
			continue
		}
		oldConfidence := b.Confidence
		newConfidence := math.Max(0, oldConfidence-b.DecayRate*days)

		if newConfidence < MinBeliefConfidence {
			b.DeletedAt = ptrTime(now)
			b.UpdatedAt = now
			if err := s.store.UpdateBelief(ctx, b); err != nil {
				return report, fmt.Errorf("remove decayed belief %s: %w", b.ID, err)
			}
			if err := s.appendHistory(ctx, b, ChangeDeleted, nil, nil, Float(oldConfidence), Float(newConfidence), decayedAwayReason, now); err != nil {
				return report, err
			}
			report.Removed++
			continue
		}

		b.Confidence = newConfidence
		b.LastUpdatedAt = now
		b.UpdatedAt = now
		if err := s.store.UpdateBelief(ctx, b); err != nil {
			return report, fmt.Errorf("decay belief %s: %w", b.ID, err)
		}
		if err := s.appendHistory(ctx, b, ChangeDecayed, nil, nil, Float(oldConfidence), Float(newConfidence), "", now); err != nil {
			return report, err
		}
		report.Decayed++
	}

	s.logger.Info("belief decay sweep complete",
		zap.String("agent", s.scope.AgentID),
		zap.Int("scanned", report.Scanned),
		zap.Int("decayed", report.Decayed),
		zap.Int("removed", report.Removed))
	return report, nil
}

// RemoveBelief soft-deletes the belief for (subject, predicate). It reports
// whether a live belief existed.
func (s *BeliefSystem) RemoveBelief(ctx context.Context, subject, predicate, reason string) (bool, error) {
	b, err := s.store.FindBelief(ctx, s.scope, subject, predicate)
	if err != nil {
		return false, fmt.Errorf("find belief %s/%s: %w", subject, predicate, err)
	}
	if b == nil {
		return false, nil
	}
	now := s.clock()
	b.DeletedAt = ptrTime(now)
	b.UpdatedAt = now
	if err := s.store.UpdateBelief(ctx, b); err != nil {
		return false, fmt.Errorf("remove belief %s: %w", b.ID, err)
	}
	if err := s.appendHistory(ctx, b, ChangeDeleted, b.Object, nil, Float(b.Confidence), nil, reason, now); err != nil {
		return false, err
	}
	return true, nil
}

// ExtractBeliefsFromObservation asks extractor for beliefs implied by obs and
// applies each one. Extraction failures are logged and yield no beliefs so
// that perception never halts the cycle; store failures are returned.
func (s *BeliefSystem) ExtractBeliefsFromObservation(ctx context.Context, obs *Observation, extractor BeliefExtractor) ([]*Belief, error) {
	if obs == nil || extractor == nil {
		return nil, nil
	}
	extraction, err := extractor.ExtractBeliefs(ctx, obs, FormatObservation(obs))
	if err != nil {
		s.logger.Warn("belief extraction failed",
			zap.String("observation", obs.ID),
			zap.String("agent", s.scope.AgentID),
			zap.Error(err))
		return []*Belief{}, nil
	}
	if extraction == nil {
		return []*Belief{}, nil
	}

	beliefs := make([]*Belief, 0, len(extraction.Beliefs))
	for _, eb := range extraction.Beliefs {
		if eb.Subject == "" || eb.Predicate == "" {
			s.logger.Debug("skipping extracted belief without subject or predicate",
				zap.String("observation", obs.ID))
			continue
		}
		var evidence []string
		if obs.ID != "" {
			evidence = []string{obs.ID}
		}
		b, err := s.UpdateBelief(ctx, BeliefUpdate{
			Subject:    eb.Subject,
			Predicate:  eb.Predicate,
			Object:     eb.Object,
			Confidence: eb.Confidence,
			Source:     SourceObservation,
			Type:       normalizeBeliefType(eb.Type),
			Evidence:   evidence,
		})
		if err != nil {
			return beliefs, err
		}
		beliefs = append(beliefs, b)
	}

	s.logger.Info("beliefs extracted from observation",
		zap.String("observation", obs.ID),
		zap.String("summary", extraction.Summary),
		zap.Int("beliefs", len(beliefs)))
	return beliefs, nil
}

// GetBeliefHistory returns history rows newest first.
func (s *BeliefSystem) GetBeliefHistory(ctx context.Context, q HistoryFilter) ([]*BeliefHistory, error) {
	q.Limit = limitOr(q.Limit, DefaultHistoryLimit)
	rows, err := s.store.ListBeliefHistory(ctx, s.scope, q)
	if err != nil {
		return nil, fmt.Errorf("list belief history: %w", err)
	}
	return rows, nil
}

func (s *BeliefSystem) appendHistory(ctx context.Context, b *Belief, change ChangeType, oldValue, newValue Document, oldConf, newConf *float64, reason string, at time.Time) error {
	h := &BeliefHistory{
		TenantID:      b.TenantID,
		AgentID:       b.AgentID,
		BeliefID:      b.ID,
		Subject:       b.Subject,
		Predicate:     b.Predicate,
		ChangeType:    change,
		OldValue:      oldValue.Clone(),
		NewValue:      newValue.Clone(),
		OldConfidence: oldConf,
		NewConfidence: newConf,
		Reason:        reason,
		ChangedAt:     at,
	}
	if err := s.store.AppendBeliefHistory(ctx, h); err != nil {
		return fmt.Errorf("append belief history %s: %w", b.ID, err)
	}
	return nil
}

// FormatBeliefs renders beliefs as a prompt section.
func FormatBeliefs(beliefs []*Belief) string {
	if len(beliefs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Current Beliefs]\n")
	for _, belief := range beliefs {
		obj, err := json.Marshal(belief.Object)
		if err != nil {
			obj = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s %s: %s (confidence: %.2f)\n", belief.Subject, belief.Predicate, obj, belief.Confidence)
	}
	return b.String()
}

func normalizeBeliefType(t BeliefType) BeliefType {
	switch t {
	case BeliefState, BeliefEvent, BeliefCausal, BeliefEvaluative:
		return t
	}
	return BeliefState
}

// unionStrings appends the members of add missing from base, keeping order.
func unionStrings(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]bool, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
