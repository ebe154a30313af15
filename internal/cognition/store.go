package cognition

import (
	"context"
	"time"
)

// The repository interfaces below are the only way managers touch
// persistence. Implementations must:
//   - assign an ID on insert when the record's ID is empty,
//   - exclude soft-deleted rows from every Find/Get/List/Search unless stated,
//   - persist timestamps exactly as given (managers own the clock),
//   - never commit; transaction boundaries belong to the caller.
// Lookups that match nothing return (nil, nil).

// BeliefFilter narrows a belief scan.
type BeliefFilter struct {
	Subject       string
	Type          BeliefType
	MinConfidence float64
}

// HistoryFilter narrows a belief history scan. Empty fields match anything.
type HistoryFilter struct {
	Subject   string
	Predicate string
	Limit     int
}

// BeliefStore persists beliefs and their append-only history.
type BeliefStore interface {
	FindBelief(ctx context.Context, scope Scope, subject, predicate string) (*Belief, error)
	InsertBelief(ctx context.Context, b *Belief) error
	UpdateBelief(ctx context.Context, b *Belief) error
	// ListBeliefs orders by confidence desc, then last_updated_at desc.
	ListBeliefs(ctx context.Context, scope Scope, f BeliefFilter) ([]*Belief, error)
	AppendBeliefHistory(ctx context.Context, h *BeliefHistory) error
	// ListBeliefHistory orders newest first.
	ListBeliefHistory(ctx context.Context, scope Scope, f HistoryFilter) ([]*BeliefHistory, error)
}

// GoalFilter narrows a goal scan. An empty Statuses matches every status.
type GoalFilter struct {
	Statuses    []GoalStatus
	MinPriority int
}

// GoalStore persists goals.
type GoalStore interface {
	GetGoal(ctx context.Context, scope Scope, id string) (*Goal, error)
	InsertGoal(ctx context.Context, g *Goal) error
	UpdateGoal(ctx context.Context, g *Goal) error
	// ListGoals orders by priority desc, then created_at asc.
	ListGoals(ctx context.Context, scope Scope, f GoalFilter) ([]*Goal, error)
}

// IntentionFilter narrows an intention scan.
type IntentionFilter struct {
	Statuses        []IntentionStatus
	GoalID          string
	CompletedBefore time.Time
}

// IntentionStore persists intentions.
type IntentionStore interface {
	GetIntention(ctx context.Context, scope Scope, id string) (*Intention, error)
	InsertIntention(ctx context.Context, i *Intention) error
	UpdateIntention(ctx context.Context, i *Intention) error
	// ListIntentions orders by priority desc, then created_at asc.
	ListIntentions(ctx context.Context, scope Scope, f IntentionFilter) ([]*Intention, error)
	// IntentionStatuses returns the status of each known id, including
	// soft-deleted rows. Unknown ids are absent from the result.
	IntentionStatuses(ctx context.Context, scope Scope, ids []string) (map[string]IntentionStatus, error)
}

// EpisodeFilter narrows an episode scan. Zero values are ignored. Max bounds
// on floats are exclusive, on counts inclusive; CreatedBefore is exclusive.
type EpisodeFilter struct {
	Type             EpisodeType
	Participant      string
	OccurredAfter    time.Time
	CreatedBefore    time.Time
	MinRecallCount   int
	MaxRecallCount   *int
	MaxImportance    *float64
	MissingEmbedding bool
	Limit            int
}

// ScoredEpisode pairs an episode with its cosine similarity to a query.
type ScoredEpisode struct {
	Episode    *Episode `json:"episode"`
	Similarity float64  `json:"similarity"`
}

// EpisodeStore persists episodic memories.
type EpisodeStore interface {
	GetEpisode(ctx context.Context, scope Scope, id string) (*Episode, error)
	InsertEpisode(ctx context.Context, e *Episode) error
	UpdateEpisode(ctx context.Context, e *Episode) error
	// ListEpisodes orders by occurred_at desc.
	ListEpisodes(ctx context.Context, scope Scope, f EpisodeFilter) ([]*Episode, error)
	// SearchEpisodes returns rows with an embedding whose cosine similarity
	// to query is at least threshold, most similar first.
	SearchEpisodes(ctx context.Context, scope Scope, query []float32, limit int, threshold float64) ([]ScoredEpisode, error)
}

// FactFilter narrows a fact scan with the same bound semantics as
// EpisodeFilter.
type FactFilter struct {
	Subject          string
	Predicate        string
	Text             string
	MinAccessCount   int
	MaxAccessCount   *int
	MaxConfidence    *float64
	CreatedBefore    time.Time
	MissingEmbedding bool
	Limit            int
}

// ScoredFact pairs a fact with its cosine similarity to a query.
type ScoredFact struct {
	Fact       *Fact   `json:"fact"`
	Similarity float64 `json:"similarity"`
}

// FactStore persists semantic facts.
type FactStore interface {
	FindFact(ctx context.Context, scope Scope, subject, predicate string) (*Fact, error)
	GetFact(ctx context.Context, scope Scope, id string) (*Fact, error)
	InsertFact(ctx context.Context, f *Fact) error
	UpdateFact(ctx context.Context, f *Fact) error
	// ListFacts orders by confidence desc, then updated_at desc. Text is a
	// case-insensitive substring match over subject, predicate and object.
	ListFacts(ctx context.Context, scope Scope, f FactFilter) ([]*Fact, error)
	// SearchFacts returns rows with an embedding whose cosine similarity to
	// query is at least threshold, most similar first, optionally restricted
	// to a subject and predicate.
	SearchFacts(ctx context.Context, scope Scope, query []float32, limit int, threshold float64, subject, predicate string) ([]ScoredFact, error)
}

// ProcedureFilter narrows a procedure scan. Zero values are ignored.
// MaxSuccessRate is exclusive, MinSuccessRate inclusive.
type ProcedureFilter struct {
	Name           string
	Type           string
	MinSuccessRate *float64
	MaxSuccessRate *float64
	MinExecutions  int
	Limit          int
}

// ProcedureStore persists procedural memories.
type ProcedureStore interface {
	GetProcedure(ctx context.Context, scope Scope, id string) (*Procedure, error)
	InsertProcedure(ctx context.Context, p *Procedure) error
	UpdateProcedure(ctx context.Context, p *Procedure) error
	// ListProcedures orders by success_rate desc, then execution_count desc.
	ListProcedures(ctx context.Context, scope Scope, f ProcedureFilter) ([]*Procedure, error)
}

// WorkingFilter narrows a working-memory scan. LiveAt keeps items expiring
// after the instant; ExpiredAt keeps items expiring at or before it.
type WorkingFilter struct {
	Type      string
	LiveAt    time.Time
	ExpiredAt time.Time
}

// WorkingStore persists working-memory items.
type WorkingStore interface {
	GetWorkingItem(ctx context.Context, scope Scope, id string) (*WorkingItem, error)
	InsertWorkingItem(ctx context.Context, w *WorkingItem) error
	UpdateWorkingItem(ctx context.Context, w *WorkingItem) error
	// ListWorkingItems orders by importance desc, then created_at desc.
	ListWorkingItems(ctx context.Context, scope Scope, f WorkingFilter) ([]*WorkingItem, error)
}

// Store aggregates every repository. A transaction handle from a concrete
// backend usually satisfies it.
type Store interface {
	BeliefStore
	GoalStore
	IntentionStore
	EpisodeStore
	FactStore
	ProcedureStore
	WorkingStore
}

// VectorHit is a single nearest-neighbour result from a VectorIndex.
type VectorHit struct {
	ID    string
	Score float64
}

// VectorIndex is an external nearest-neighbour index that stores can use
// instead of in-database similarity search. Kind separates record types.
// Soft-deleted records are removed from the index.
type VectorIndex interface {
	IndexVector(ctx context.Context, kind string, scope Scope, id string, vector []float32) error
	RemoveVector(ctx context.Context, kind string, scope Scope, id string) error
	SearchVectors(ctx context.Context, kind string, scope Scope, query []float32, limit int, threshold float64) ([]VectorHit, error)
}

// Vector index kinds.
const (
	KindEpisode = "episodes"
	KindFact    = "facts"
)

// FactGraph is a write-side projection of semantic facts into a graph.
type FactGraph interface {
	LinkFact(ctx context.Context, scope Scope, f *Fact) error
	UnlinkFact(ctx context.Context, scope Scope, f *Fact) error
}

// Transactor runs fn against a Store inside one transaction, committing when
// fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Backend is a Transactor that can also enumerate the scopes it holds.
type Backend interface {
	Transactor
	Scopes(ctx context.Context) ([]Scope, error)
}

// WithWorkingStore returns a Store that reads and writes working memory
// through w and everything else through s.
func WithWorkingStore(s Store, w WorkingStore) Store {
	if w == nil {
		return s
	}
	return splitStore{Store: s, working: w}
}

type splitStore struct {
	Store
	working WorkingStore
}

func (s splitStore) GetWorkingItem(ctx context.Context, scope Scope, id string) (*WorkingItem, error) {
	return s.working.GetWorkingItem(ctx, scope, id)
}

func (s splitStore) InsertWorkingItem(ctx context.Context, w *WorkingItem) error {
	return s.working.InsertWorkingItem(ctx, w)
}

func (s splitStore) UpdateWorkingItem(ctx context.Context, w *WorkingItem) error {
	return s.working.UpdateWorkingItem(ctx, w)
}

func (s splitStore) ListWorkingItems(ctx context.Context, scope Scope, f WorkingFilter) ([]*WorkingItem, error) {
	return s.working.ListWorkingItems(ctx, scope, f)
}
