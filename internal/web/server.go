// Package web serves the HTTP API, the Prometheus endpoint, and a
// websocket event stream.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkatsogr/crewd/internal/cache"
	"github.com/pkatsogr/crewd/internal/config"
	"github.com/pkatsogr/crewd/internal/eventbus"
	"github.com/pkatsogr/crewd/internal/orchestrator"
	"github.com/pkatsogr/crewd/internal/registry"
	"github.com/pkatsogr/crewd/internal/router"
	"github.com/pkatsogr/crewd/internal/store"
	"github.com/pkatsogr/crewd/internal/vault"
)

type Server struct {
	store     *store.Store
	bus       *eventbus.Client
	orch      *orchestrator.Orchestrator
	registry  *registry.Registry
	router    *router.Router
	vault     *vault.Vault
	cache     *cache.Cache
	promReg   *prometheus.Registry
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// Options carries the optional collaborators; any of them may be nil and
// the matching endpoints degrade gracefully.
type Options struct {
	Bus     *eventbus.Client
	Vault   *vault.Vault
	Cache   *cache.Cache
	PromReg *prometheus.Registry
	Version string
}

func NewServer(st *store.Store, orch *orchestrator.Orchestrator, reg *registry.Registry, rtr *router.Router, cfg config.WebConfig, opts Options) *Server {
	return &Server{
		store:     st,
		bus:       opts.Bus,
		orch:      orch,
		registry:  reg,
		router:    rtr,
		vault:     opts.Vault,
		cache:     opts.Cache,
		promReg:   opts.PromReg,
		hub:       NewHub(),
		cfg:       cfg,
		version:   opts.Version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	if s.promReg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}

	return s.withMiddleware(mux)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if _, pass, ok := r.BasicAuth(); !ok || pass != s.cfg.Auth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards daemon events from NATS to connected websocket
// clients.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}

	_, err := s.bus.Subscribe(eventbus.TopicEventsAll, func(msg *nats.Msg) {
		var payload any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("invalid event payload", "subject", msg.Subject, "error", err)
			return
		}
		s.hub.Broadcast(Event{Type: msg.Subject, Payload: payload})
	})
	if err != nil {
		slog.Error("event subscription failed", "error", err)
	}
}
