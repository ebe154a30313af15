// Package redisstore keeps working memory in Redis. Items are JSON values
// whose keys outlive their expiry by a retention window, so expired items
// stay visible to cleanup before Redis drops them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const (
	keyPrefix = "nuka:wm:"
	// DefaultRetention is how long an item key survives past its expiry or
	// removal.
	DefaultRetention = 24 * time.Hour
)

// Store implements cognition.WorkingStore on a Redis client.
type Store struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

var _ cognition.WorkingStore = (*Store)(nil)

// New connects to redisURL and verifies the connection.
func New(redisURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis working memory connected", zap.String("addr", opts.Addr))
	return &Store{rdb: rdb, retention: DefaultRetention, logger: logger}, nil
}

// SetRetention overrides DefaultRetention.
func (s *Store) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func indexKey(scope cognition.Scope) string {
	return keyPrefix + scope.TenantID + ":" + scope.AgentID + ":items"
}

func itemKey(scope cognition.Scope, id string) string {
	return keyPrefix + scope.TenantID + ":" + scope.AgentID + ":item:" + id
}

func (s *Store) ttl(w *cognition.WorkingItem) time.Duration {
	if w.DeletedAt != nil {
		return s.retention
	}
	left := time.Until(w.ExpiresAt)
	if left < 0 {
		left = 0
	}
	return left + s.retention
}

// GetWorkingItem returns the stored item, expired or not, unless removed.
func (s *Store) GetWorkingItem(ctx context.Context, scope cognition.Scope, id string) (*cognition.WorkingItem, error) {
	data, err := s.rdb.Get(ctx, itemKey(scope, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working item %s: %w", id, err)
	}
	var w cognition.WorkingItem
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode working item %s: %w", id, err)
	}
	if w.DeletedAt != nil {
		return nil, nil
	}
	return &w, nil
}

// InsertWorkingItem stores a new working item.
func (s *Store) InsertWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return s.write(ctx, w, "insert")
}

// UpdateWorkingItem overwrites a stored working item.
func (s *Store) UpdateWorkingItem(ctx context.Context, w *cognition.WorkingItem) error {
	return s.write(ctx, w, "update")
}

func (s *Store) write(ctx context.Context, w *cognition.WorkingItem, verb string) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode working item %s: %w", w.ID, err)
	}
	scope := w.Scope()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, itemKey(scope, w.ID), data, s.ttl(w))
		if w.DeletedAt != nil {
			p.SRem(ctx, indexKey(scope), w.ID)
		} else {
			p.SAdd(ctx, indexKey(scope), w.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s working item %s: %w", verb, w.ID, err)
	}
	return nil
}

// ListWorkingItems orders by importance desc, then created_at desc.
func (s *Store) ListWorkingItems(ctx context.Context, scope cognition.Scope, f cognition.WorkingFilter) ([]*cognition.WorkingItem, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("list working items: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(scope, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load working items: %w", err)
	}

	var (
		out   []*cognition.WorkingItem
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var w cognition.WorkingItem
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("decode working item %s: %w", ids[i], err)
		}
		if !matches(&w, f) {
			continue
		}
		out = append(out, &w)
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, indexKey(scope), stale...).Err(); err != nil {
			s.logger.Warn("prune working memory index failed", zap.Error(err))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func matches(w *cognition.WorkingItem, f cognition.WorkingFilter) bool {
	if w.DeletedAt != nil {
		return false
	}
	if f.Type != "" && w.Type != f.Type {
		return false
	}
	if !f.LiveAt.IsZero() && !w.ExpiresAt.After(f.LiveAt) {
		return false
	}
	if !f.ExpiredAt.IsZero() && w.ExpiresAt.After(f.ExpiredAt) {
		return false
	}
	return true
}
