// Package cache keeps recent task results in Redis so API clients can
// fetch them by task id without replaying the run history.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/config"
)

// ErrNotFound marks a task id with no cached result, either never stored
// or already expired.
var ErrNotFound = errors.New("result not cached")

// Cache is nil-safe: a nil *Cache stores nothing and reports ErrNotFound,
// so callers need no enabled checks.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis, or returns (nil, nil) when no address is
// configured.
func New(cfg config.CacheConfig) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func resultKey(taskID string) string {
	return "crewd:result:" + taskID
}

type entry struct {
	Agent      string    `json:"agent"`
	Result     any       `json:"result"`
	FinishedAt time.Time `json:"finished_at"`
}

// StoreResult caches the result of a completed task.
func (c *Cache) StoreResult(ctx context.Context, taskID, agentName string, result any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(entry{Agent: agentName, Result: result, FinishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.client.Set(ctx, resultKey(taskID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache result: %w", err)
	}
	return nil
}

// GetResult fetches a cached result. The result value round-trips through
// JSON, so concrete executor types come back as generic values.
func (c *Cache) GetResult(ctx context.Context, taskID string) (agentName string, result any, err error) {
	if c == nil {
		return "", nil, ErrNotFound
	}
	data, err := c.client.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("get cached result: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", nil, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return e.Agent, e.Result, nil
}

// Observer stores results as tasks complete. Failures are logged and
// dropped; the cache is best-effort.
func (c *Cache) Observer() agent.Observer {
	return func(ev agent.Event) {
		if c == nil || ev.Type != agent.EventTaskCompleted || ev.Task == nil {
			return
		}
		if err := c.StoreResult(context.Background(), ev.Task.ID, ev.Agent, ev.Result); err != nil {
			slog.Debug("cache store failed", "task", ev.Task.ID, "error", err)
		}
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
