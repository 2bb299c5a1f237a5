package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/config"
)

func TestDisabledCacheIsNilSafe(t *testing.T) {
	c, err := New(config.CacheConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatal("expected nil cache when no address configured")
	}

	if err := c.StoreResult(context.Background(), "t1", "writer", "x"); err != nil {
		t.Errorf("nil cache store should be a no-op, got %v", err)
	}
	if _, _, err := c.GetResult(context.Background(), "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from nil cache, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil cache close should be a no-op, got %v", err)
	}

	// The observer must also tolerate a nil cache.
	obs := c.Observer()
	obs(agent.Event{Type: agent.EventTaskCompleted, Agent: "writer", Task: &agent.Task{ID: "t1"}})
}

func TestResultKey(t *testing.T) {
	if got := resultKey("abc"); got != "crewd:result:abc" {
		t.Errorf("unexpected key %s", got)
	}
}
