// Package perception moves observations from the capability layer into an
// agent's memory.
package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

const streamPrefix = "nuka:obs:"

// Feed carries observations over per-agent Redis Streams.
type Feed struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewFeed creates a Redis-backed observation feed. maxLen caps each stream
// approximately; zero leaves streams unbounded.
func NewFeed(redisURL string, maxLen int64, logger *zap.Logger) (*Feed, error) {
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
	return &Feed{rdb: rdb, maxLen: maxLen, logger: logger}, nil
}

// Stream returns the stream key for scope.
func Stream(scope cognition.Scope) string {
	return streamPrefix + scope.TenantID + ":" + scope.AgentID
}

// Publish appends obs to its agent's stream, filling in a missing id and
// timestamp.
func (f *Feed) Publish(ctx context.Context, obs *cognition.Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}

	stream := Stream(obs.Scope())
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(data)},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}
	if _, err := f.rdb.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	f.logger.Debug("observation published",
		zap.String("agent", obs.EmployeeID),
		zap.String("type", obs.Type),
		zap.String("observation", obs.ID))
	return nil
}

// Subscribe listens for observations on scope's stream, starting after
// lastID ("$" for new entries only, "0" for the full backlog). The channel
// closes when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, scope cognition.Scope, lastID string) <-chan *cognition.Observation {
	ch := make(chan *cognition.Observation, 16)
	stream := Stream(scope)
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					f.logger.Warn("observation read failed", zap.String("stream", stream), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var obs cognition.Observation
					if err := json.Unmarshal([]byte(data), &obs); err != nil {
						f.logger.Warn("dropping malformed observation",
							zap.String("stream", stream),
							zap.String("entry", msg.ID),
							zap.Error(err))
						continue
					}
					select {
					case ch <- &obs:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
