package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkatsogr/crewd/internal/config"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		subject string
		want    bool
	}{
		{"no filters match everything", nil, "events.agent.writer-1", true},
		{"exact subject", []string{"events.queue"}, "events.queue", true},
		{"prefix covers nested subjects", []string{"events.agent"}, "events.agent.writer-1", true},
		{"prefix must end on a segment", []string{"events.agent"}, "events.agents", false},
		{"unrelated subject", []string{"events.queue"}, "events.agent.writer-1", false},
		{"any filter suffices", []string{"events.queue", "events.task"}, "events.task.task_failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicMatch(tt.filters, tt.subject); got != tt.want {
				t.Errorf("topicMatch(%v, %q) = %v, want %v", tt.filters, tt.subject, got, tt.want)
			}
		})
	}
}

func TestParseTopics(t *testing.T) {
	if got := parseTopics(""); got != nil {
		t.Errorf("expected nil for empty param, got %v", got)
	}
	got := parseTopics("events.queue, events.agent ,,")
	if len(got) != 2 || got[0] != "events.queue" || got[1] != "events.agent" {
		t.Errorf("unexpected topics: %v", got)
	}
}

func TestWebSocketTopicFilter(t *testing.T) {
	ts := newTestServer(t, config.WebConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.srv.hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/ws?topics=events.queue"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// The handler registers the client after the upgrade; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ts.srv.hub.mu.Lock()
		n := len(ts.srv.hub.clients)
		ts.srv.hub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ts.srv.hub.Broadcast(Event{Type: "events.agent.writer-1", Payload: "skip"})
	ts.srv.hub.Broadcast(Event{Type: "events.queue", Payload: "keep"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "events.queue" {
		t.Errorf("filtered event leaked through, got type %s", ev.Type)
	}
}
