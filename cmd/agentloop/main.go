package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agentloop/agentloop/internal/adapter/gateway"
	alhttp "github.com/agentloop/agentloop/internal/adapter/http"
	alnats "github.com/agentloop/agentloop/internal/adapter/nats"
	alotel "github.com/agentloop/agentloop/internal/adapter/otel"
	"github.com/agentloop/agentloop/internal/adapter/postgres"
	"github.com/agentloop/agentloop/internal/adapter/ristretto"
	"github.com/agentloop/agentloop/internal/adapter/simexec"
	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/logger"
	"github.com/agentloop/agentloop/internal/middleware"
	"github.com/agentloop/agentloop/internal/port/executor"
	"github.com/agentloop/agentloop/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"executor_mode", cfg.Executor.Mode,
		"auto_tick", cfg.Engine.AutoTick,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	shutdownOtel, err := alotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := alotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := alnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// --- Executor backend ---

	var exec executor.Executor
	switch cfg.Executor.Mode {
	case "gateway":
		exec = gateway.New(cfg.Executor.URL, cfg.Executor.Timeout)
		slog.Info("using gateway executor", "url", cfg.Executor.URL)
	default:
		exec = simexec.New()
		slog.Info("using simulated executor")
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	events := postgres.NewEventStore(pool)

	projectSvc := service.NewProjectService(store)
	agentSvc := service.NewAgentService(store, queue)
	proposalSvc := service.NewProposalService(store, queue, hub, cfg.Engine)
	missionSvc := service.NewMissionService(store, queue, hub, cfg.Engine)
	triggerSvc := service.NewTriggerService(store, queue, hub, cache, cfg.Engine)
	workerSvc := service.NewWorkerService(store, exec, queue, hub, metrics, cfg.Engine)
	stepSvc := service.NewStepService(store, workerSvc, cfg.Engine)
	statusSvc := service.NewStatusService(store, cache, cfg.Cache.StatusTTL, cfg.Engine)
	orchestratorSvc := service.NewOrchestratorService(store, proposalSvc, workerSvc, triggerSvc, queue, hub, metrics, cfg.Engine)

	// --- Seed ---

	seed, err := config.LoadSeed(cfg.Seed.Path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if err := service.Bootstrap(ctx, store, projectSvc, agentSvc, triggerSvc, seed); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// --- HTTP ---

	handlers := &alhttp.Handlers{
		Projects:     projectSvc,
		Agents:       agentSvc,
		Proposals:    proposalSvc,
		Missions:     missionSvc,
		Steps:        stepSvc,
		Triggers:     triggerSvc,
		Orchestrator: orchestratorSvc,
		Status:       statusSvc,
		Events:       events,
		Store:        store,
		Queue:        queue,
		Hub:          hub,
	}

	r := chi.NewRouter()
	r.Use(alhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(alhttp.Logger)
	r.Use(alhttp.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(alotel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	}

	alhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Engine loop ---

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := orchestratorSvc.Run(ctx); err != nil {
			slog.Error("engine loop", "error", err)
		}
	}()

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	<-engineDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Handlers are done publishing; flush buffered messages before the
	// deferred close.
	if err := queue.Drain(); err != nil {
		slog.Error("nats drain", "error", err)
	}
	return nil
}
