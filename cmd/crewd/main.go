package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/builtin"
	"github.com/pkatsogr/crewd/internal/cache"
	"github.com/pkatsogr/crewd/internal/config"
	"github.com/pkatsogr/crewd/internal/eventbus"
	"github.com/pkatsogr/crewd/internal/ipc"
	"github.com/pkatsogr/crewd/internal/metrics"
	"github.com/pkatsogr/crewd/internal/orchestrator"
	"github.com/pkatsogr/crewd/internal/registry"
	"github.com/pkatsogr/crewd/internal/router"
	"github.com/pkatsogr/crewd/internal/scheduler"
	"github.com/pkatsogr/crewd/internal/store"
	"github.com/pkatsogr/crewd/internal/telegram"
	"github.com/pkatsogr/crewd/internal/vault"
	"github.com/pkatsogr/crewd/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("crewd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: crewd <command>\n\nCommands:\n  gateway    Start the crewd gateway service\n  backup     Archive the data directory to a .tar.zst file\n  restore    Restore the data directory from a backup archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting crewd gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := eventbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	busClient, err := eventbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer busClient.Close()

	// Secrets vault (only when a passphrase is provided)
	var vlt *vault.Vault
	if pass := os.Getenv("CREWD_VAULT_PASSPHRASE"); pass != "" {
		vlt = vault.New(pass, db)
		slog.Info("vault unlocked")
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	// Redis result cache (optional)
	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer resultCache.Close()
	if resultCache != nil {
		slog.Info("result cache connected", "addr", cfg.Cache.Addr)
	}

	// Telegram failure alerts (optional)
	alerter, err := telegram.New(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("init telegram: %w", err)
	}
	if alerter != nil {
		slog.Info("telegram alerts enabled")
	}

	// Registry, orchestrator, router
	reg := registry.New()
	orch := orchestrator.New()
	rtr := router.New(reg, cfg.Router.DefaultType)

	promReg := prometheus.NewRegistry()
	mtr := metrics.MustNew(promReg, orch)

	orch.Subscribe(store.Observer(db))
	orch.Subscribe(eventbus.Forwarder(busClient))
	orch.Subscribe(mtr.Observer())
	orch.Subscribe(resultCache.Observer())
	if alerter != nil {
		orch.Subscribe(alerter.Observer())
	}

	// Configured agents
	if err := registerAgents(ctx, cfg, orch, reg, db, vlt); err != nil {
		return err
	}

	// Scheduler
	sched := scheduler.New(db, orch, busClient, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// IPC control endpoints
	ctl := ipc.New(busClient, orch, reg, db)
	if err := ctl.Start(ctx); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer ctl.Stop()

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, orch, reg, rtr, cfg.Web, web.Options{
			Bus:     busClient,
			Vault:   vlt,
			Cache:   resultCache,
			PromReg: promReg,
			Version: version,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	orch.Shutdown()
	return nil
}

// registerAgents builds an executor per configured agent and registers it
// with both the orchestrator and the discovery registry.
func registerAgents(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, reg *registry.Registry, db *store.Store, vlt *vault.Vault) error {
	for name, def := range cfg.Agents {
		exec, err := buildExecutor(def, vlt)
		if err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}

		ag := agent.New(name, def.Type, def.Capabilities, exec)
		if err := orch.AddAgent(ctx, ag); err != nil {
			return fmt.Errorf("add agent %s: %w", name, err)
		}
		if err := reg.Register(ctx, name, ag, registry.Options{Type: def.Type, Capabilities: def.Capabilities}); err != nil {
			return fmt.Errorf("register agent %s: %w", name, err)
		}

		if err := db.SaveAgent(&store.AgentRecord{Name: name, Type: def.Type, Capabilities: def.Capabilities}); err != nil {
			slog.Warn("failed to persist agent record", "agent", name, "error", err)
		}
		slog.Info("agent registered", "name", name, "type", def.Type)
	}
	return nil
}

func buildExecutor(def config.AgentDefinition, vlt *vault.Vault) (agent.Executor, error) {
	env := make(map[string]string, len(def.Env)+len(def.Secrets))
	for k, v := range def.Env {
		env[k] = v
	}
	if len(def.Secrets) > 0 {
		if vlt == nil {
			return nil, fmt.Errorf("secrets requested but vault is locked")
		}
		resolved, err := vlt.Resolve(def.Secrets)
		if err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
		for k, v := range resolved {
			env[k] = v
		}
	}

	switch {
	case def.Command != "" && def.URL != "":
		return nil, fmt.Errorf("command and url are mutually exclusive")
	case def.Command != "":
		return &builtin.CommandExecutor{Command: def.Command, Env: env, Timeout: def.Timeout}, nil
	case def.URL != "":
		return &builtin.WebhookExecutor{URL: def.URL, Headers: env, Timeout: def.Timeout}, nil
	default:
		return nil, fmt.Errorf("agent has neither command nor url")
	}
}
