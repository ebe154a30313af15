package cognition

import (
	"time"
)

// Scope identifies the (tenant, agent) pair every record belongs to.
type Scope struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// Record holds the fields shared by every persisted entity.
type Record struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	AgentID   string     `json:"agent_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Scope returns the owning scope of the record.
func (r Record) Scope() Scope {
	return Scope{TenantID: r.TenantID, AgentID: r.AgentID}
}

// Deleted reports whether the record has been soft-deleted.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// BeliefType classifies what a belief asserts.
type BeliefType string

const (
	BeliefState      BeliefType = "state"
	BeliefEvent      BeliefType = "event"
	BeliefCausal     BeliefType = "causal"
	BeliefEvaluative BeliefType = "evaluative"
)

// BeliefSource records how a belief was acquired.
type BeliefSource string

const (
	SourceObservation BeliefSource = "observation"
	SourceInference   BeliefSource = "inference"
	SourceToldByHuman BeliefSource = "told_by_human"
	SourcePrior       BeliefSource = "prior"
)

// Belief is a confidence-weighted subject-predicate-object statement.
type Belief struct {
	Record
	Subject       string       `json:"subject"`
	Predicate     string       `json:"predicate"`
	Object        Document     `json:"object"`
	Confidence    float64      `json:"confidence"`
	Type          BeliefType   `json:"belief_type"`
	Source        BeliefSource `json:"source"`
	Evidence      []string     `json:"evidence"`
	FormedAt      time.Time    `json:"formed_at"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
	DecayRate     float64      `json:"decay_rate"`
}

// Clone returns a deep copy of b.
func (b *Belief) Clone() *Belief {
	if b == nil {
		return nil
	}
	c := *b
	c.DeletedAt = cloneTime(b.DeletedAt)
	c.Object = b.Object.Clone()
	c.Evidence = cloneStrings(b.Evidence)
	return &c
}

// ChangeType names a belief transition recorded in the history.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
	ChangeDecayed ChangeType = "decayed"
)

// BeliefHistory is an immutable record of one belief transition. Subject and
// predicate are copied from the belief so history can be filtered without a
// join.
type BeliefHistory struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	AgentID       string     `json:"agent_id"`
	BeliefID      string     `json:"belief_id"`
	Subject       string     `json:"subject"`
	Predicate     string     `json:"predicate"`
	ChangeType    ChangeType `json:"change_type"`
	OldValue      Document   `json:"old_value,omitempty"`
	NewValue      Document   `json:"new_value,omitempty"`
	OldConfidence *float64   `json:"old_confidence,omitempty"`
	NewConfidence *float64   `json:"new_confidence,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ChangedAt     time.Time  `json:"changed_at"`
}

// Clone returns a deep copy of h.
func (h *BeliefHistory) Clone() *BeliefHistory {
	if h == nil {
		return nil
	}
	c := *h
	c.OldValue = h.OldValue.Clone()
	c.NewValue = h.NewValue.Clone()
	c.OldConfidence = cloneFloat(h.OldConfidence)
	c.NewConfidence = cloneFloat(h.NewConfidence)
	return &c
}

// GoalType classifies a goal.
type GoalType string

const (
	GoalAchievement GoalType = "achievement"
	GoalMaintenance GoalType = "maintenance"
	GoalPrevention  GoalType = "prevention"
)

// GoalStatus is a goal lifecycle state.
type GoalStatus string

const (
	GoalActive     GoalStatus = "active"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalAbandoned  GoalStatus = "abandoned"
	GoalBlocked    GoalStatus = "blocked"
)

// Terminal reports whether no further transitions are allowed.
func (s GoalStatus) Terminal() bool {
	return s == GoalCompleted || s == GoalAbandoned
}

// Goal is a desire the agent is pursuing.
type Goal struct {
	Record
	Type            GoalType   `json:"goal_type"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"`
	Target          Document   `json:"target"`
	CurrentProgress Document   `json:"current_progress"`
	Status          GoalStatus `json:"status"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	AbandonedAt     *time.Time `json:"abandoned_at,omitempty"`
}

// Clone returns a deep copy of g.
func (g *Goal) Clone() *Goal {
	if g == nil {
		return nil
	}
	c := *g
	c.DeletedAt = cloneTime(g.DeletedAt)
	c.Target = g.Target.Clone()
	c.CurrentProgress = g.CurrentProgress.Clone()
	c.CompletedAt = cloneTime(g.CompletedAt)
	c.AbandonedAt = cloneTime(g.AbandonedAt)
	return &c
}

// IntentionType classifies the granularity of an intention.
type IntentionType string

const (
	IntentionAction   IntentionType = "action"
	IntentionTactic   IntentionType = "tactic"
	IntentionStrategy IntentionType = "strategy"
)

// IntentionStatus is an intention lifecycle state.
type IntentionStatus string

const (
	IntentionPlanned    IntentionStatus = "planned"
	IntentionInProgress IntentionStatus = "in_progress"
	IntentionCompleted  IntentionStatus = "completed"
	IntentionFailed     IntentionStatus = "failed"
	IntentionAbandoned  IntentionStatus = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s IntentionStatus) Terminal() bool {
	return s == IntentionCompleted || s == IntentionAbandoned
}

// Intention is a committed plan, optionally serving a goal.
type Intention struct {
	Record
	GoalID       string          `json:"goal_id,omitempty"`
	Type         IntentionType   `json:"intention_type"`
	Description  string          `json:"description"`
	Plan         Document        `json:"plan"`
	Status       IntentionStatus `json:"status"`
	Priority     int             `json:"priority"`
	Context      Document        `json:"context"`
	Dependencies []string        `json:"dependencies"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
}

// Clone returns a deep copy of i.
func (i *Intention) Clone() *Intention {
	if i == nil {
		return nil
	}
	c := *i
	c.DeletedAt = cloneTime(i.DeletedAt)
	c.Plan = i.Plan.Clone()
	c.Context = i.Context.Clone()
	c.Dependencies = cloneStrings(i.Dependencies)
	c.StartedAt = cloneTime(i.StartedAt)
	c.CompletedAt = cloneTime(i.CompletedAt)
	c.FailedAt = cloneTime(i.FailedAt)
	return &c
}

// EpisodeType classifies an episodic memory.
type EpisodeType string

const (
	EpisodeInteraction EpisodeType = "interaction"
	EpisodeEvent       EpisodeType = "event"
	EpisodeObservation EpisodeType = "observation"
	EpisodeFeedback    EpisodeType = "feedback"
)

// Episode is a time-stamped experience.
type Episode struct {
	Record
	Type           EpisodeType `json:"episode_type"`
	Description    string      `json:"description"`
	Content        Document    `json:"content"`
	Participants   []string    `json:"participants"`
	Location       string      `json:"location,omitempty"`
	Embedding      []float32   `json:"embedding,omitempty"`
	Importance     float64     `json:"importance"`
	RecallCount    int         `json:"recall_count"`
	LastRecalledAt *time.Time  `json:"last_recalled_at,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// Clone returns a deep copy of e.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	c := *e
	c.DeletedAt = cloneTime(e.DeletedAt)
	c.Content = e.Content.Clone()
	c.Participants = cloneStrings(e.Participants)
	c.Embedding = cloneVector(e.Embedding)
	c.LastRecalledAt = cloneTime(e.LastRecalledAt)
	return &c
}

// FactType classifies a semantic fact.
type FactType string

const (
	FactEntity       FactType = "entity"
	FactRelationship FactType = "relationship"
	FactRule         FactType = "rule"
	FactDefinition   FactType = "definition"
)

// Fact is a durable subject-predicate-object statement in semantic memory.
type Fact struct {
	Record
	Type           FactType   `json:"fact_type"`
	Subject        string     `json:"subject"`
	Predicate      string     `json:"predicate"`
	Object         string     `json:"object"`
	Confidence     float64    `json:"confidence"`
	Source         string     `json:"source,omitempty"`
	Verified       bool       `json:"verified"`
	Embedding      []float32  `json:"embedding,omitempty"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Clone returns a deep copy of f.
func (f *Fact) Clone() *Fact {
	if f == nil {
		return nil
	}
	c := *f
	c.DeletedAt = cloneTime(f.DeletedAt)
	c.Embedding = cloneVector(f.Embedding)
	c.LastAccessedAt = cloneTime(f.LastAccessedAt)
	return &c
}

// Procedure is a learned skill or workflow with running success statistics.
type Procedure struct {
	Record
	Type              string     `json:"procedure_type"`
	Name              string     `json:"name"`
	Steps             []Document `json:"steps"`
	TriggerConditions Document   `json:"trigger_conditions"`
	SuccessRate       float64    `json:"success_rate"`
	ExecutionCount    int        `json:"execution_count"`
	SuccessCount      int        `json:"success_count"`
	AvgExecutionTime  *float64   `json:"avg_execution_time,omitempty"`
	Context           Document   `json:"context"`
	Embedding         []float32  `json:"embedding,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Procedure) Clone() *Procedure {
	if p == nil {
		return nil
	}
	c := *p
	c.DeletedAt = cloneTime(p.DeletedAt)
	c.Steps = cloneDocs(p.Steps)
	c.TriggerConditions = p.TriggerConditions.Clone()
	c.AvgExecutionTime = cloneFloat(p.AvgExecutionTime)
	c.Context = p.Context.Clone()
	c.Embedding = cloneVector(p.Embedding)
	return &c
}

// WorkingItem is an entry in the agent's current-attention buffer.
type WorkingItem struct {
	Record
	Type           string     `json:"item_type"`
	Content        Document   `json:"content"`
	Importance     float64    `json:"importance"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	SourceRef      string     `json:"source_ref,omitempty"`
}

// Clone returns a deep copy of w.
func (w *WorkingItem) Clone() *WorkingItem {
	if w == nil {
		return nil
	}
	c := *w
	c.DeletedAt = cloneTime(w.DeletedAt)
	c.Content = w.Content.Clone()
	c.LastAccessedAt = cloneTime(w.LastAccessedAt)
	return &c
}

// Live reports whether the item is neither deleted nor expired at now.
func (w *WorkingItem) Live(now time.Time) bool {
	return w.DeletedAt == nil && w.ExpiresAt.After(now)
}

// Observation is produced by the capability layer and consumed by perception.
type Observation struct {
	ID             string    `json:"observation_id"`
	EmployeeID     string    `json:"employee_id"`
	TenantID       string    `json:"tenant_id"`
	Type           string    `json:"observation_type"`
	Source         string    `json:"source"`
	Content        Document  `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Priority       int       `json:"priority"`
	RequiresAction bool      `json:"requires_action"`
}

// Scope returns the scope of the agent the observation was made for.
func (o *Observation) Scope() Scope {
	return Scope{TenantID: o.TenantID, AgentID: o.EmployeeID}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
