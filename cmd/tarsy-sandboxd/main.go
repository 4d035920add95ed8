// tarsy-sandboxd runs the sandbox lifecycle and run streaming engine:
// it owns sandbox leases/terminals/sessions, ingests provider webhooks,
// and serves a thin HTTP surface for webhook delivery, sandbox control,
// and SSE run streaming. Everything else — the LLM agent graph, tool
// implementations, and the rest of a full assistant backend — lives
// outside this process and, where it needs to drive a run, does so by
// embedding pkg/runpipeline and pkg/threadlock directly rather than
// through an HTTP endpoint this binary exposes.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/agentgraph"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/api"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/cleanup"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/config"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/database"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider/localprovider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider/remoteprovider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runpipeline"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/threadlock"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/version"
)

// shutdownPauseTimeout bounds how long graceful shutdown waits for
// in-flight sessions to pause before the process exits anyway.
const shutdownPauseTimeout = 30 * time.Second

func main() {
	slog.Info("starting", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database")

	providers, err := buildProviderRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	termStore := terminal.NewStore(dbClient.Ent())
	leaseStore := lease.NewStore(dbClient.Ent())
	leaseManager := lease.NewManager(leaseStore)
	chatStore := chatsession.NewStore(dbClient.Ent())
	sandboxes := sandbox.NewManager(termStore, leaseStore, leaseManager, chatStore, providers, cfg.DefaultProvider)

	events := providerevent.NewStore(dbClient.Ent())
	ingester := providerevent.NewIngester(events, leaseStore, leaseManager, providers, cfg.WebhookSecrets)
	reconciler := providerevent.NewReconciler(leaseStore, leaseManager, providers, cfg.ProviderEventReconcileInterval, cfg.ProviderEventStaleAfter)

	runs := runstream.NewStore(dbClient.Ent())
	threads := threadlock.NewRegistry(runs, sandboxes)

	retention := cleanup.NewService(events, cfg.ProviderEventRetention, cfg.ProviderEventRetentionInterval)
	idleReaper := sandbox.NewIdleReaper(sandboxes, cfg.IdleReaperInterval)

	// The external agent graph daemon is optional: a deployment that
	// only needs sandbox lifecycle + webhook + stream endpoints (e.g.
	// while the agent side is developed separately) can omit it. Wiring
	// it here, rather than lazily on first use, makes a bad address fail
	// fast at startup instead of on a thread's first run.
	var producer *runpipeline.Producer
	if cfg.AgentGraphAddr != "" {
		graphClient, err := agentgraph.Dial(cfg.AgentGraphAddr)
		if err != nil {
			log.Fatalf("failed to dial agent graph at %s: %v", cfg.AgentGraphAddr, err)
		}
		defer graphClient.Close()
		producer = runpipeline.NewProducer(graphClient, graphClient, graphClient, graphClient, sandboxes, runs, cfg.RunRetentionCount)
		slog.Info("agent graph client ready", "addr", cfg.AgentGraphAddr)
	} else {
		slog.Warn("AGENT_GRAPH_ADDR not set: runs cannot be produced, serving sandbox/webhook/stream endpoints only")
	}
	_ = producer // constructed for readiness; started per-run by an embedding caller via threads.StartRun, not by this binary's own HTTP surface

	reconciler.Start(ctx)
	defer reconciler.Stop()
	retention.Start(ctx)
	defer retention.Stop()
	idleReaper.Start(ctx)
	defer idleReaper.Stop()

	server := api.NewServer(sandboxes, ingester, events, runs, threads, dbClient)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, pausing all sessions")
		pauseCtx, cancel := context.WithTimeout(context.Background(), shutdownPauseTimeout)
		defer cancel()
		if n, err := sandboxes.PauseAllSessions(pauseCtx); err != nil {
			slog.Error("pause all sessions failed during shutdown", "error", err)
		} else {
			slog.Info("paused sessions during shutdown", "count", n)
		}
	}()

	slog.Info("tarsy-sandboxd listening", "addr", cfg.HTTPAddr)
	if err := server.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func buildProviderRegistry(cfg config.Config) (*provider.Registry, error) {
	local, err := localprovider.New(cfg.LocalSandboxBaseDir)
	if err != nil {
		return nil, err
	}
	providers := []provider.SandboxProvider{local}

	for name, addr := range cfg.RemoteProviderAddrs {
		remote, err := remoteprovider.New(remoteprovider.Config{
			Name: name,
			Addr: addr,
			Capability: provider.Capability{
				CanPause:            true,
				CanResume:           true,
				CanDestroy:          true,
				SupportsWebhook:     true,
				SupportsStatusProbe: true,
				RuntimeKind:         provider.RuntimeKindRemoteWrapped,
			},
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, remote)
	}

	return provider.NewRegistry(providers...), nil
}
