package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the frame pushed to websocket clients. Type is the bus subject
// the event arrived on (events.agent.writer-1, events.queue, ...).
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans events out to websocket clients. Each client registers with an
// optional set of topic prefixes and only receives events whose subject
// matches one of them; a client with no filters receives everything.
type Hub struct {
	clients   map[*websocket.Conn][]string
	broadcast chan Event
	mu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn][]string),
		broadcast: make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client, filters := range h.clients {
				if !topicMatch(filters, event.Type) {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// topicMatch reports whether subject passes the client's filters. A filter
// matches the exact subject or any subject nested under it, so "events.agent"
// covers "events.agent.writer-1".
func topicMatch(filters []string, subject string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if subject == f || strings.HasPrefix(subject, f+".") {
			return true
		}
	}
	return false
}

func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("websocket broadcast channel full, dropping event")
	}
}

func (h *Hub) Register(conn *websocket.Conn, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = topics
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, parseTopics(r.URL.Query().Get("topics")))
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Keep the connection open; clients only receive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// parseTopics splits the comma-separated ?topics= query parameter into
// filter prefixes, dropping empty entries.
func parseTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
