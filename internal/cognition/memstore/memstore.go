// Package memstore is an in-process implementation of cognition.Store. It is
// used by tests and for local runs without PostgreSQL.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// ErrConflict mirrors a unique violation on a live (subject, predicate) key.
var ErrConflict = errors.New("live record already exists")

// Store keeps every record in maps guarded by a single RWMutex. Records are
// cloned on the way in and out so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	seq        int64
	order      map[string]int64
	beliefs    map[string]*cognition.Belief
	history    []*cognition.BeliefHistory
	goals      map[string]*cognition.Goal
	intentions map[string]*cognition.Intention
	episodes   map[string]*cognition.Episode
	facts      map[string]*cognition.Fact
	procedures map[string]*cognition.Procedure
	working    map[string]*cognition.WorkingItem
}

var (
	_ cognition.Store   = (*Store)(nil)
	_ cognition.Backend = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		order:      make(map[string]int64),
		beliefs:    make(map[string]*cognition.Belief),
		goals:      make(map[string]*cognition.Goal),
		intentions: make(map[string]*cognition.Intention),
		episodes:   make(map[string]*cognition.Episode),
		facts:      make(map[string]*cognition.Fact),
		procedures: make(map[string]*cognition.Procedure),
		working:    make(map[string]*cognition.WorkingItem),
	}
}

// InTx runs fn against the store. Writes are applied immediately; there is
// no rollback.
func (s *Store) InTx(ctx context.Context, fn func(cognition.Store) error) error {
	return fn(s)
}

// Scopes lists every scope that owns at least one live record.
func (s *Store) Scopes(ctx context.Context) ([]cognition.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[cognition.Scope]bool)
	add := func(r cognition.Record) {
		if r.DeletedAt == nil {
			seen[r.Scope()] = true
		}
	}
	for _, v := range s.beliefs {
		add(v.Record)
	}
	for _, v := range s.goals {
		add(v.Record)
	}
	for _, v := range s.intentions {
		add(v.Record)
	}
	for _, v := range s.episodes {
		add(v.Record)
	}
	for _, v := range s.facts {
		add(v.Record)
	}
	for _, v := range s.procedures {
		add(v.Record)
	}
	for _, v := range s.working {
		add(v.Record)
	}
	out := make([]cognition.Scope, 0, len(seen))
	for sc := range seen {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

// assign gives r an id when it has none and records insertion order.
// Caller holds the write lock.
func (s *Store) assign(r *cognition.Record) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.seq++
	s.order[r.ID] = s.seq
}

func visible(r cognition.Record, scope cognition.Scope) bool {
	return r.DeletedAt == nil && r.TenantID == scope.TenantID && r.AgentID == scope.AgentID
}

func missing(kind, id string) error {
	return fmt.Errorf("%s %s not found", kind, id)
}

// --- beliefs ---

// FindBelief looks up the belief for a subject and predicate.
func (s *Store) FindBelief(ctx context.Context, scope cognition.Scope, subject, predicate string) (*cognition.Belief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.beliefs {
		if visible(b.Record, scope) && b.Subject == subject && b.Predicate == predicate {
			return b.Clone(), nil
		}
	}
	return nil, nil
}

// InsertBelief stores a new belief.
func (s *Store) InsertBelief(ctx context.Context, b *cognition.Belief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.beliefs {
		if visible(have.Record, b.Scope()) && have.Subject == b.Subject && have.Predicate == b.Predicate {
			return fmt.Errorf("belief %s/%s: %w", b.Subject, b.Predicate, ErrConflict)
		}
	}
	s.assign(&b.Record)
	s.beliefs[b.ID] = b.Clone()
	return nil
}

// UpdateBelief overwrites a stored belief.
func (s *Store) UpdateBelief(ctx context.Context, b *cognition.Belief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.beliefs[b.ID]; !ok {
		return missing("belief", b.ID)
	}
	s.beliefs[b.ID] = b.Clone()
	return nil
}

// ListBeliefs returns the scope's beliefs matching the filter.
func (s *Store) ListBeliefs(ctx context.Context, scope cognition.Scope, f cognition.BeliefFilter) ([]*cognition.Belief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Belief
	for _, b := range s.beliefs {
		if !visible(b.Record, scope) {
			continue
		}
		if f.Subject != "" && b.Subject != f.Subject {
			continue
		}
		if f.Type != "" && b.Type != f.Type {
			continue
		}
		if b.Confidence < f.MinConfidence {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Confidence != c.Confidence {
			return a.Confidence > c.Confidence
		}
		if !a.LastUpdatedAt.Equal(c.LastUpdatedAt) {
			return a.LastUpdatedAt.After(c.LastUpdatedAt)
		}
		return s.order[a.ID] > s.order[c.ID]
	})
	return out, nil
}

// AppendBeliefHistory records one belief change.
func (s *Store) AppendBeliefHistory(ctx context.Context, h *cognition.BeliefHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	s.history = append(s.history, h.Clone())
	return nil
}

// ListBeliefHistory returns the recorded belief changes matching the filter, newest first.
func (s *Store) ListBeliefHistory(ctx context.Context, scope cognition.Scope, f cognition.HistoryFilter) ([]*cognition.BeliefHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.BeliefHistory
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if h.TenantID != scope.TenantID || h.AgentID != scope.AgentID {
			continue
		}
		if f.Subject != "" && h.Subject != f.Subject {
			continue
		}
		if f.Predicate != "" && h.Predicate != f.Predicate {
			continue
		}
		out = append(out, h.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangedAt.After(out[j].ChangedAt)
	})
	return truncate(out, f.Limit), nil
}

// --- goals ---

// GetGoal retrieves a single goal by ID.
func (s *Store) GetGoal(ctx context.Context, scope cognition.Scope, id string) (*cognition.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok || !visible(g.Record, scope) {
		return nil, nil
	}
	return g.Clone(), nil
}

// InsertGoal stores a new goal.
func (s *Store) InsertGoal(ctx context.Context, g *cognition.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&g.Record)
	s.goals[g.ID] = g.Clone()
	return nil
}

// UpdateGoal overwrites a stored goal.
func (s *Store) UpdateGoal(ctx context.Context, g *cognition.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; !ok {
		return missing("goal", g.ID)
	}
	s.goals[g.ID] = g.Clone()
	return nil
}

// ListGoals returns the scope's goals matching the filter.
func (s *Store) ListGoals(ctx context.Context, scope cognition.Scope, f cognition.GoalFilter) ([]*cognition.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Goal
	for _, g := range s.goals {
		if !visible(g.Record, scope) || g.Priority < f.MinPriority {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, g.Status) {
			continue
		}
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return s.order[a.ID] < s.order[c.ID]
	})
	return out, nil
}

// --- intentions ---

// GetIntention retrieves a single intention by ID.
func (s *Store) GetIntention(ctx context.Context, scope cognition.Scope, id string) (*cognition.Intention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.intentions[id]
	if !ok || !visible(i.Record, scope) {
		return nil, nil
	}
	return i.Clone(), nil
}

// InsertIntention stores a new intention.
func (s *Store) InsertIntention(ctx context.Context, i *cognition.Intention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&i.Record)
	s.intentions[i.ID] = i.Clone()
	return nil
}

// UpdateIntention overwrites a stored intention.
func (s *Store) UpdateIntention(ctx context.Context, i *cognition.Intention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intentions[i.ID]; !ok {
		return missing("intention", i.ID)
	}
	s.intentions[i.ID] = i.Clone()
	return nil
}

// ListIntentions returns the scope's intentions matching the filter.
func (s *Store) ListIntentions(ctx context.Context, scope cognition.Scope, f cognition.IntentionFilter) ([]*cognition.Intention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Intention
	for _, i := range s.intentions {
		if !visible(i.Record, scope) {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, i.Status) {
			continue
		}
		if f.GoalID != "" && i.GoalID != f.GoalID {
			continue
		}
		if !f.CompletedBefore.IsZero() && (i.CompletedAt == nil || !i.CompletedAt.Before(f.CompletedBefore)) {
			continue
		}
		out = append(out, i.Clone())
	}
	sort.Slice(out, func(x, y int) bool {
		a, c := out[x], out[y]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return s.order[a.ID] < s.order[c.ID]
	})
	return out, nil
}

// IntentionStatuses reports the status of each listed intention that exists in the scope.
func (s *Store) IntentionStatuses(ctx context.Context, scope cognition.Scope, ids []string) (map[string]cognition.IntentionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]cognition.IntentionStatus, len(ids))
	for _, id := range ids {
		i, ok := s.intentions[id]
		if !ok || i.TenantID != scope.TenantID || i.AgentID != scope.AgentID {
			continue
		}
		out[id] = i.Status
	}
	return out, nil
}

// --- episodes ---

// GetEpisode retrieves a single episode by ID.
func (s *Store) GetEpisode(ctx context.Context, scope cognition.Scope, id string) (*cognition.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[id]
	if !ok || !visible(e.Record, scope) {
		return nil, nil
	}
	return e.Clone(), nil
}

// InsertEpisode stores a new episode.
func (s *Store) InsertEpisode(ctx context.Context, e *cognition.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&e.Record)
	s.episodes[e.ID] = e.Clone()
	return nil
}

// UpdateEpisode overwrites a stored episode.
func (s *Store) UpdateEpisode(ctx context.Context, e *cognition.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[e.ID]; !ok {
		return missing("episode", e.ID)
	}
	s.episodes[e.ID] = e.Clone()
	return nil
}

// ListEpisodes returns the scope's episodes matching the filter.
func (s *Store) ListEpisodes(ctx context.Context, scope cognition.Scope, f cognition.EpisodeFilter) ([]*cognition.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Episode
	for _, e := range s.episodes {
		if !visible(e.Record, scope) || !matchEpisode(e, f) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if !a.OccurredAt.Equal(c.OccurredAt) {
			return a.OccurredAt.After(c.OccurredAt)
		}
		return s.order[a.ID] > s.order[c.ID]
	})
	return truncate(out, f.Limit), nil
}

func matchEpisode(e *cognition.Episode, f cognition.EpisodeFilter) bool {
	switch {
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Participant != "" && !hasString(e.Participants, f.Participant):
		return false
	case !f.OccurredAfter.IsZero() && e.OccurredAt.Before(f.OccurredAfter):
		return false
	case !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore):
		return false
	case e.RecallCount < f.MinRecallCount:
		return false
	case f.MaxRecallCount != nil && e.RecallCount > *f.MaxRecallCount:
		return false
	case f.MaxImportance != nil && e.Importance >= *f.MaxImportance:
		return false
	case f.MissingEmbedding && e.Embedding != nil:
		return false
	}
	return true
}

// SearchEpisodes ranks the scope's episodes by similarity to query.
func (s *Store) SearchEpisodes(ctx context.Context, scope cognition.Scope, query []float32, limit int, threshold float64) ([]cognition.ScoredEpisode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cognition.ScoredEpisode
	for _, e := range s.episodes {
		if !visible(e.Record, scope) || len(e.Embedding) == 0 || len(e.Embedding) != len(query) {
			continue
		}
		sim := cognition.CosineSimilarity(e.Embedding, query)
		if sim < threshold {
			continue
		}
		out = append(out, cognition.ScoredEpisode{Episode: e.Clone(), Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return s.order[out[i].Episode.ID] < s.order[out[j].Episode.ID]
	})
	return truncate(out, limit), nil
}

// --- facts ---

// FindFact looks up the fact for a subject and predicate.
func (s *Store) FindFact(ctx context.Context, scope cognition.Scope, subject, predicate string) (*cognition.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facts {
		if visible(f.Record, scope) && f.Subject == subject && f.Predicate == predicate {
			return f.Clone(), nil
		}
	}
	return nil, nil
}

// GetFact retrieves a single fact by ID.
func (s *Store) GetFact(ctx context.Context, scope cognition.Scope, id string) (*cognition.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	if !ok || !visible(f.Record, scope) {
		return nil, nil
	}
	return f.Clone(), nil
}

// InsertFact stores a new fact.
func (s *Store) InsertFact(ctx context.Context, f *cognition.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.facts {
		if visible(have.Record, f.Scope()) && have.Subject == f.Subject && have.Predicate == f.Predicate {
			return fmt.Errorf("fact %s/%s: %w", f.Subject, f.Predicate, ErrConflict)
		}
	}
	s.assign(&f.Record)
	s.facts[f.ID] = f.Clone()
	return nil
}

// UpdateFact overwrites a stored fact.
func (s *Store) UpdateFact(ctx context.Context, f *cognition.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.facts[f.ID]; !ok {
		return missing("fact", f.ID)
	}
	s.facts[f.ID] = f.Clone()
	return nil
}

// ListFacts returns the scope's facts matching the filter.
func (s *Store) ListFacts(ctx context.Context, scope cognition.Scope, f cognition.FactFilter) ([]*cognition.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Fact
	for _, fact := range s.facts {
		if !visible(fact.Record, scope) || !matchFact(fact, f) {
			continue
		}
		out = append(out, fact.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Confidence != c.Confidence {
			return a.Confidence > c.Confidence
		}
		if !a.UpdatedAt.Equal(c.UpdatedAt) {
			return a.UpdatedAt.After(c.UpdatedAt)
		}
		return s.order[a.ID] > s.order[c.ID]
	})
	return truncate(out, f.Limit), nil
}

func matchFact(fact *cognition.Fact, f cognition.FactFilter) bool {
	switch {
	case f.Subject != "" && fact.Subject != f.Subject:
		return false
	case f.Predicate != "" && fact.Predicate != f.Predicate:
		return false
	case f.Text != "" && !containsFold(f.Text, fact.Subject, fact.Predicate, fact.Object):
		return false
	case fact.AccessCount < f.MinAccessCount:
		return false
	case f.MaxAccessCount != nil && fact.AccessCount > *f.MaxAccessCount:
		return false
	case f.MaxConfidence != nil && fact.Confidence >= *f.MaxConfidence:
		return false
	case !f.CreatedBefore.IsZero() && !fact.CreatedAt.Before(f.CreatedBefore):
		return false
	case f.MissingEmbedding && fact.Embedding != nil:
		return false
	}
	return true
}

// SearchFacts ranks the scope's facts by similarity to query.
func (s *Store) SearchFacts(ctx context.Context, scope cognition.Scope, query []float32, limit int, threshold float64, subject, predicate string) ([]cognition.ScoredFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cognition.ScoredFact
	for _, f := range s.facts {
		if !visible(f.Record, scope) || len(f.Embedding) == 0 || len(f.Embedding) != len(query) {
			continue
		}
		if (subject != "" && f.Subject != subject) || (predicate != "" && f.Predicate != predicate) {
			continue
		}
		sim := cognition.CosineSimilarity(f.Embedding, query)
		if sim < threshold {
			continue
		}
		out = append(out, cognition.ScoredFact{Fact: f.Clone(), Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return s.order[out[i].Fact.ID] < s.order[out[j].Fact.ID]
	})
	return truncate(out, limit), nil
}

// --- procedures ---

// GetProcedure retrieves a single procedure by ID.
func (s *Store) GetProcedure(ctx context.Context, scope cognition.Scope, id string) (*cognition.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procedures[id]
	if !ok || !visible(p.Record, scope) {
		return nil, nil
	}
	return p.Clone(), nil
}

// InsertProcedure stores a new procedure.
func (s *Store) InsertProcedure(ctx context.Context, p *cognition.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&p.Record)
	s.procedures[p.ID] = p.Clone()
	return nil
}

// UpdateProcedure overwrites a stored procedure.
func (s *Store) UpdateProcedure(ctx context.Context, p *cognition.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procedures[p.ID]; !ok {
		return missing("procedure", p.ID)
	}
	s.procedures[p.ID] = p.Clone()
	return nil
}

// ListProcedures returns the scope's procedures matching the filter.
func (s *Store) ListProcedures(ctx context.Context, scope cognition.Scope, f cognition.ProcedureFilter) ([]*cognition.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.Procedure
	for _, p := range s.procedures {
		if !visible(p.Record, scope) {
			continue
		}
		switch {
		case f.Name != "" && p.Name != f.Name:
			continue
		case f.Type != "" && p.Type != f.Type:
			continue
		case f.MinSuccessRate != nil && p.SuccessRate < *f.MinSuccessRate:
			continue
		case f.MaxSuccessRate != nil && p.SuccessRate >= *f.MaxSuccessRate:
			continue
		case p.ExecutionCount < f.MinExecutions:
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.SuccessRate != c.SuccessRate {
			return a.SuccessRate > c.SuccessRate
		}
		if a.ExecutionCount != c.ExecutionCount {
			return a.ExecutionCount > c.ExecutionCount
		}
		return s.order[a.ID] < s.order[c.ID]
	})
	return truncate(out, f.Limit), nil
}

// --- working memory ---

// GetWorkingItem retrieves a single working item by ID.
func (s *Store) GetWorkingItem(ctx context.Context, scope cognition.Scope, id string) (*cognition.WorkingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.working[id]
	if !ok || !visible(w.Record, scope) {
		return nil, nil
	}
	return w.Clone(), nil
}

// InsertWorkingItem stores a new working item.
func (s *Store) InsertWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&w.Record)
	s.working[w.ID] = w.Clone()
	return nil
}

// UpdateWorkingItem overwrites a stored working item.
func (s *Store) UpdateWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.working[w.ID]; !ok {
		return missing("working item", w.ID)
	}
	s.working[w.ID] = w.Clone()
	return nil
}

// ListWorkingItems returns the scope's working items matching the filter.
func (s *Store) ListWorkingItems(ctx context.Context, scope cognition.Scope, f cognition.WorkingFilter) ([]*cognition.WorkingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*cognition.WorkingItem
	for _, w := range s.working {
		if !visible(w.Record, scope) {
			continue
		}
		switch {
		case f.Type != "" && w.Type != f.Type:
			continue
		case !f.LiveAt.IsZero() && !w.ExpiresAt.After(f.LiveAt):
			continue
		case !f.ExpiredAt.IsZero() && w.ExpiresAt.After(f.ExpiredAt):
			continue
		}
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Importance != c.Importance {
			return a.Importance > c.Importance
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.After(c.CreatedAt)
		}
		return s.order[a.ID] > s.order[c.ID]
	})
	return out, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func hasString(set []string, v string) bool {
	return contains(set, v)
}

func containsFold(needle string, fields ...string) bool {
	n := strings.ToLower(needle)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), n) {
			return true
		}
	}
	return false
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
