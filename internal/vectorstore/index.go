package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// Index adapts a Qdrant client to cognition.VectorIndex. Each record kind
// lives in its own collection, created on first write with the dimension of
// that vector; points carry tenant_id and agent_id payload for scoping.
type Index struct {
	client *Client
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

var _ cognition.VectorIndex = (*Index)(nil)

// NewIndex wraps client. An empty prefix defaults to "nuka".
func NewIndex(client *Client, prefix string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "nuka"
	}
	return &Index{client: client, prefix: prefix, logger: logger, ensured: map[string]bool{}}
}

// Collection returns the collection name used for kind.
func (x *Index) Collection(kind string) string {
	return x.prefix + "_" + kind
}

// IndexVector upserts the vector for id under kind.
func (x *Index) IndexVector(ctx context.Context, kind string, scope cognition.Scope, id string, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	name := x.Collection(kind)
	if err := x.ensure(ctx, name, len(vector)); err != nil {
		return err
	}
	return x.client.Upsert(ctx, name, id, vector, scopePayload(scope))
}

// RemoveVector deletes the point for id under kind. Scope is implied by the
// id; collections this process never wrote to are still asked.
func (x *Index) RemoveVector(ctx context.Context, kind string, scope cognition.Scope, id string) error {
	if err := x.client.Delete(ctx, x.Collection(kind), id); err != nil {
		return err
	}
	x.logger.Debug("vector removed",
		zap.String("kind", kind),
		zap.String("agent", scope.AgentID),
		zap.String("id", id))
	return nil
}

// SearchVectors returns hits within scope scoring at least threshold.
func (x *Index) SearchVectors(ctx context.Context, kind string, scope cognition.Scope, query []float32, limit int, threshold float64) ([]cognition.VectorHit, error) {
	if limit <= 0 || len(query) == 0 {
		return nil, nil
	}
	results, err := x.client.Search(ctx, SearchRequest{
		Collection: x.Collection(kind),
		Vector:     query,
		TopK:       uint64(limit),
		Match:      scopePayload(scope),
		MinScore:   float32(threshold),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]cognition.VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, cognition.VectorHit{ID: r.ID, Score: float64(r.Score)})
	}
	x.logger.Debug("vector search",
		zap.String("kind", kind),
		zap.String("agent", scope.AgentID),
		zap.Int("hits", len(hits)))
	return hits, nil
}

func (x *Index) ensure(ctx context.Context, name string, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ensured[name] {
		return nil
	}
	if err := x.client.EnsureCollection(ctx, name, uint64(dim)); err != nil {
		return fmt.Errorf("ensure collection %s: %w", name, err)
	}
	x.ensured[name] = true
	x.logger.Info("Qdrant collection ready", zap.String("collection", name), zap.Int("dimension", dim))
	return nil
}

func scopePayload(scope cognition.Scope) map[string]string {
	return map[string]string{"tenant_id": scope.TenantID, "agent_id": scope.AgentID}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
