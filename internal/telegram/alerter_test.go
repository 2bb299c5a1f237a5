package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/config"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	chunks = chunkMessage(strings.Repeat("a", 4096), 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8192), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestDisabledAlerterIsNilSafe(t *testing.T) {
	a, err := New(config.TelegramConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Fatal("expected nil alerter when unconfigured")
	}

	if err := a.Send(context.Background(), "hi"); err != nil {
		t.Errorf("nil alerter send should be a no-op, got %v", err)
	}

	obs := a.Observer()
	obs(agent.Event{Type: agent.EventTaskFailed, Agent: "writer", Err: errors.New("boom")})
}
