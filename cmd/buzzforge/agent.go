package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	a2alib "github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/BuzzForge/internal/adapter/claudecli"
	"github.com/Strob0t/BuzzForge/internal/adapter/litellm"
	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/adapter/ristretto"
	"github.com/Strob0t/BuzzForge/internal/config"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/middleware"
	"github.com/Strob0t/BuzzForge/internal/port/a2a"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
	"github.com/Strob0t/BuzzForge/internal/service"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 15 * time.Second
)

// runAgent serves one agent runtime: the card, task submission, polling and
// cancellation, backed by the configured generator.
func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	port := fs.String("port", "", "listen port (overrides server.agent_port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *port != "" {
		cfg.Server.AgentPort = *port
	}
	if cfg.Logging.Service == "buzzforge" {
		cfg.Logging.Service = "buzzforge-" + cfg.Agent.Name
	}
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Backend ---
	litellm.Register()
	claudecli.Register()
	gen, err := backend.New(cfg.Agent.Backend, backendOptions(cfg))
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	card := agentCard(cfg)
	if err := card.Validate(); err != nil {
		return fmt.Errorf("agent card: %w", err)
	}

	rt := service.NewRuntimeService(card, gen, service.RuntimeOptions{
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Timeout:       cfg.Agent.Timeout,
		TaskTTL:       cfg.Agent.TaskTTL,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		Sync:          cfg.Agent.SyncExecution,
	})
	rt.SetMetrics(metrics)
	defer rt.Close()
	rt.StartJanitor(ctx, janitorInterval)

	// Idempotent retries of task submission are answered from an in-process cache.
	idem, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("idempotency cache: %w", err)
	}
	defer idem.Close()

	limiter := middleware.NewRateLimiter(cfg.Agent.RateLimit, cfg.Agent.RateBurst)
	limiter.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware("agent." + cfg.Agent.Name))
	r.Use(chimw.Recoverer)
	a2a.NewHandler(card, rt).MountRoutes(r, func(next http.Handler) http.Handler {
		return limiter.Handler(middleware.Idempotency(idem, cfg.Cache.IdemTTL)(next))
	})

	slog.Info("agent runtime ready",
		"agent", card.Name,
		"backend", gen.Name(),
		"max_concurrent", cfg.Agent.MaxConcurrent,
		"timeout", cfg.Agent.Timeout,
		"sync", cfg.Agent.SyncExecution,
	)
	return serve(ctx, ":"+cfg.Server.AgentPort, r)
}

func backendOptions(cfg *config.Config) backend.Options {
	return backend.Options{
		URL:                cfg.Backend.LiteLLM.URL,
		APIKey:             cfg.Backend.LiteLLM.MasterKey,
		Model:              cfg.Backend.LiteLLM.Model,
		Command:            cfg.Backend.CLI.Command,
		Args:               cfg.Backend.CLI.Args,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Breaker.Timeout,
	}
}

func agentCard(cfg *config.Config) agent.Card {
	skills := make([]a2alib.AgentSkill, 0, len(cfg.Agent.Skills))
	for _, s := range cfg.Agent.Skills {
		skills = append(skills, a2alib.AgentSkill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	return agent.Card{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		URL:         cfg.Agent.URL,
		Version:     cfg.Agent.Version,
		Skills:      skills,
	}
}

// serve runs an HTTP server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server %s: %w", addr, err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server", "addr", addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
