package cognition

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Working memory defaults.
const (
	DefaultWorkingCapacity   = 7
	DefaultWorkingTTL        = time.Hour
	DefaultWorkingImportance = 0.5
	DefaultMostImportant     = 3
)

// ItemSpec describes a new working-memory item. A zero TTL selects the
// manager's default and a nil Importance selects DefaultWorkingImportance.
type ItemSpec struct {
	Type       string
	Content    Document
	Importance *float64
	TTL        time.Duration
	SourceRef  string
}

// ContextSummary describes what the agent is currently attending to.
type ContextSummary struct {
	ItemsByType  map[string][]*WorkingItem `json:"items_by_type"`
	TotalItems   int                       `json:"total_items"`
	CapacityUsed string                    `json:"capacity_used"`
	AtCapacity   bool                      `json:"at_capacity"`
}

// WorkingMemory is the capacity-bounded attention buffer of one scope.
type WorkingMemory struct {
	store    WorkingStore
	scope    Scope
	clock    Clock
	capacity int
	ttl      time.Duration
	logger   *zap.Logger
}

// NewWorkingMemory creates a working memory bound to scope. Capacity and
// default TTL come from WithCapacity and WithDefaultTTL.
func NewWorkingMemory(store WorkingStore, scope Scope, logger *zap.Logger, opts ...Option) *WorkingMemory {
	o := buildOptions(opts)
	return &WorkingMemory{
		store:    store,
		scope:    scope,
		clock:    o.clock,
		capacity: o.capacity,
		ttl:      o.ttl,
		logger:   nopIfNil(logger),
	}
}

// Capacity returns the maximum number of live items.
func (m *WorkingMemory) Capacity() int {
	return m.capacity
}

// AddItem inserts an item after expiring stale items and evicting the least
// important live items until there is room.
func (m *WorkingMemory) AddItem(ctx context.Context, spec ItemSpec) (*WorkingItem, error) {
	if err := m.enforceCapacity(ctx); err != nil {
		return nil, err
	}
	if spec.TTL <= 0 {
		spec.TTL = m.ttl
	}
	importance := DefaultWorkingImportance
	if spec.Importance != nil {
		importance = *spec.Importance
	}
	now := m.clock()
	w := &WorkingItem{
		Record: Record{
			TenantID:  m.scope.TenantID,
			AgentID:   m.scope.AgentID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:       spec.Type,
		Content:    docOrEmpty(spec.Content),
		Importance: clamp01(importance),
		ExpiresAt:  now.Add(spec.TTL),
		SourceRef:  spec.SourceRef,
	}
	if err := m.store.InsertWorkingItem(ctx, w); err != nil {
		return nil, fmt.Errorf("insert working item: %w", err)
	}
	m.logger.Debug("working item added",
		zap.String("item", w.ID),
		zap.String("type", w.Type),
		zap.Float64("importance", w.Importance))
	return w, nil
}

// GetActiveItems returns live items, most important first, and records an
// access on each. An empty itemType matches every type.
func (m *WorkingMemory) GetActiveItems(ctx context.Context, itemType string) ([]*WorkingItem, error) {
	items, err := m.live(ctx, itemType)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	for _, w := range items {
		w.AccessCount++
		w.LastAccessedAt = ptrTime(now)
		w.UpdatedAt = now
		if err := m.store.UpdateWorkingItem(ctx, w); err != nil {
			return nil, fmt.Errorf("record working item access %s: %w", w.ID, err)
		}
	}
	return items, nil
}

// GetItem returns the live item with id, or nil.
func (m *WorkingMemory) GetItem(ctx context.Context, id string) (*WorkingItem, error) {
	w, err := m.store.GetWorkingItem(ctx, m.scope, id)
	if err != nil {
		return nil, fmt.Errorf("get working item %s: %w", id, err)
	}
	if w == nil || !w.Live(m.clock()) {
		return nil, nil
	}
	return w, nil
}

// RefreshItem rehearses a live item: its expiry moves to now+ttl (the
// default TTL when ttl is zero) and importanceBoost is added to its
// importance.
func (m *WorkingMemory) RefreshItem(ctx context.Context, id string, ttl time.Duration, importanceBoost float64) (*WorkingItem, error) {
	w, err := m.GetItem(ctx, id)
	if err != nil || w == nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.clock()
	w.ExpiresAt = now.Add(ttl)
	w.Importance = clamp01(w.Importance + importanceBoost)
	w.AccessCount++
	w.LastAccessedAt = ptrTime(now)
	w.UpdatedAt = now
	if err := m.store.UpdateWorkingItem(ctx, w); err != nil {
		return nil, fmt.Errorf("refresh working item %s: %w", id, err)
	}
	return w, nil
}

// RemoveItem soft-deletes one item. It reports false when no live item has id.
func (m *WorkingMemory) RemoveItem(ctx context.Context, id string) (bool, error) {
	w, err := m.GetItem(ctx, id)
	if err != nil || w == nil {
		return false, err
	}
	if err := m.remove(ctx, w, m.clock()); err != nil {
		return false, err
	}
	return true, nil
}

// ClearByType soft-deletes every live item of itemType.
func (m *WorkingMemory) ClearByType(ctx context.Context, itemType string) (int, error) {
	return m.clear(ctx, itemType)
}

// ClearAll soft-deletes every live item.
func (m *WorkingMemory) ClearAll(ctx context.Context) (int, error) {
	return m.clear(ctx, "")
}

// CleanupExpired soft-deletes items whose expiry has passed.
func (m *WorkingMemory) CleanupExpired(ctx context.Context) (int, error) {
	now := m.clock()
	expired, err := m.store.ListWorkingItems(ctx, m.scope, WorkingFilter{ExpiredAt: now})
	if err != nil {
		return 0, fmt.Errorf("list expired working items: %w", err)
	}
	n := 0
	for _, w := range expired {
		if err := m.remove(ctx, w, now); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.logger.Debug("expired working items removed", zap.String("agent", m.scope.AgentID), zap.Int("count", n))
	}
	return n, nil
}

// GetMostImportant returns the top limit live items.
func (m *WorkingMemory) GetMostImportant(ctx context.Context, limit int) ([]*WorkingItem, error) {
	items, err := m.GetActiveItems(ctx, "")
	if err != nil {
		return nil, err
	}
	limit = limitOr(limit, DefaultMostImportant)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetContextSummary groups live items by type.
func (m *WorkingMemory) GetContextSummary(ctx context.Context) (*ContextSummary, error) {
	items, err := m.GetActiveItems(ctx, "")
	if err != nil {
		return nil, err
	}
	s := &ContextSummary{
		ItemsByType:  make(map[string][]*WorkingItem),
		TotalItems:   len(items),
		CapacityUsed: fmt.Sprintf("%d/%d", len(items), m.capacity),
		AtCapacity:   len(items) >= m.capacity,
	}
	for _, w := range items {
		s.ItemsByType[w.Type] = append(s.ItemsByType[w.Type], w)
	}
	return s, nil
}

func (m *WorkingMemory) enforceCapacity(ctx context.Context) error {
	if _, err := m.CleanupExpired(ctx); err != nil {
		return err
	}
	items, err := m.live(ctx, "")
	if err != nil {
		return err
	}
	now := m.clock()
	for len(items) >= m.capacity && len(items) > 0 {
		victim := items[len(items)-1]
		if err := m.remove(ctx, victim, now); err != nil {
			return err
		}
		items = items[:len(items)-1]
		m.logger.Debug("working item evicted",
			zap.String("item", victim.ID),
			zap.Float64("importance", victim.Importance))
	}
	return nil
}

func (m *WorkingMemory) live(ctx context.Context, itemType string) ([]*WorkingItem, error) {
	items, err := m.store.ListWorkingItems(ctx, m.scope, WorkingFilter{Type: itemType, LiveAt: m.clock()})
	if err != nil {
		return nil, fmt.Errorf("list working items: %w", err)
	}
	return items, nil
}

func (m *WorkingMemory) clear(ctx context.Context, itemType string) (int, error) {
	items, err := m.live(ctx, itemType)
	if err != nil {
		return 0, err
	}
	now := m.clock()
	for i, w := range items {
		if err := m.remove(ctx, w, now); err != nil {
			return i, err
		}
	}
	m.logger.Info("working memory cleared",
		zap.String("agent", m.scope.AgentID),
		zap.String("type", itemType),
		zap.Int("count", len(items)))
	return len(items), nil
}

func (m *WorkingMemory) remove(ctx context.Context, w *WorkingItem, now time.Time) error {
	w.DeletedAt = ptrTime(now)
	w.UpdatedAt = now
	if err := m.store.UpdateWorkingItem(ctx, w); err != nil {
		return fmt.Errorf("remove working item %s: %w", w.ID, err)
	}
	return nil
}
