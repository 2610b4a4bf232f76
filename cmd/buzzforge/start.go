package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go/jetstream"

	bfhttp "github.com/Strob0t/BuzzForge/internal/adapter/http"
	"github.com/Strob0t/BuzzForge/internal/adapter/mcp"
	"github.com/Strob0t/BuzzForge/internal/adapter/memory"
	bfnats "github.com/Strob0t/BuzzForge/internal/adapter/nats"
	"github.com/Strob0t/BuzzForge/internal/adapter/natskv"
	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/adapter/postgres"
	bfredis "github.com/Strob0t/BuzzForge/internal/adapter/redis"
	"github.com/Strob0t/BuzzForge/internal/adapter/ristretto"
	"github.com/Strob0t/BuzzForge/internal/adapter/tiered"
	"github.com/Strob0t/BuzzForge/internal/adapter/ws"
	"github.com/Strob0t/BuzzForge/internal/config"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/middleware"
	"github.com/Strob0t/BuzzForge/internal/port/a2a"
	"github.com/Strob0t/BuzzForge/internal/port/cache"
	"github.com/Strob0t/BuzzForge/internal/port/database"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
	"github.com/Strob0t/BuzzForge/internal/service"

	// Notifier providers self-register.
	_ "github.com/Strob0t/BuzzForge/internal/adapter/discord"
	_ "github.com/Strob0t/BuzzForge/internal/adapter/email"
	_ "github.com/Strob0t/BuzzForge/internal/adapter/slack"
)

const themeLookback = 24 * time.Hour

// runStart runs the scheduler process: the buzz check interval, the daily
// pipeline, the weekly report, and the ops API.
func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	slog.Info("config loaded",
		"store", cfg.Store.Driver,
		"ops_port", cfg.Server.OpsPort,
		"timezone", loc.String(),
		"daily_quota", cfg.Scheduler.DailyQuota,
		"agents", len(cfg.Agents),
	)

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

	// --- Infrastructure ---

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var queue *bfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = bfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
	}

	var js jetstream.JetStream
	if queue != nil {
		js = queue.JetStream()
	}
	c, closeCache, err := openCache(ctx, cfg.Cache, js)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer closeCache()

	// --- Services ---

	hub := ws.NewHub()
	out := service.Outputs{
		Hub:     hub,
		Notify:  service.NewNotificationService(openNotifiers(cfg.Notification), cfg.Notification.EnabledEvents),
		Metrics: metrics,
	}
	if queue != nil {
		out.Queue = queue
	}

	client := a2a.NewClient(a2a.ClientOptions{
		PollInterval:       cfg.Pipeline.PollInterval,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Breaker.Timeout,
	})
	agents := service.NewAgentRegistry(cfg.Agents, client, c, cfg.Cache.CardTTL)

	templates, err := pipeline.Catalog(cfg.Pipeline.TemplatesDir)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	coord := service.NewCoordinatorService(agents, store, templates, service.CoordinatorOptions{
		Policy:          pipeline.Policy{Threshold: cfg.Pipeline.Threshold, MaxIterations: cfg.Pipeline.MaxIterations},
		DefaultTemplate: cfg.Pipeline.Template,
		MaxParallel:     cfg.Pipeline.MaxParallel,
		RunBudget:       cfg.Pipeline.RunBudget,
		CallTimeout:     cfg.Pipeline.CallTimeout,
	})
	coord.SetOutputs(out)
	tmpl, err := coord.Template("")
	if err != nil {
		return fmt.Errorf("default template: %w", err)
	}
	if err := agents.Require(tmpl.Agents()...); err != nil {
		return fmt.Errorf("template %s: %w", tmpl.ID, err)
	}

	themes := service.NewThemeRecommender(store, cfg.Scheduler.FallbackThemes, themeLookback)
	sched := service.NewSchedulerService(store, coord, themes, service.SchedulerOptions{
		Location:   loc,
		DailyQuota: cfg.Scheduler.DailyQuota,
		RunOnStart: runOnStart(cfg.Scheduler),
	})
	sched.SetOutputs(out)

	if err := addTriggers(ctx, cfg, loc, store, c, agents, out, sched); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Wait()

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "buzzforge",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{Scheduler: sched, Runs: coord})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = mcpSrv.Stop(shutdownCtx)
		}()
	}

	// --- HTTP ---

	metricsHandler, err := bfhttp.MetricsHandler(sched)
	if err != nil {
		return fmt.Errorf("prometheus: %w", err)
	}
	handlers := &bfhttp.Handlers{
		Scheduler: sched,
		Pipelines: coord,
		Buzz:      detectorView{store: store},
		Agents:    agents,
		Live:      hub,
		Metrics:   metricsHandler,
		Version:   version,
	}
	if queue != nil {
		handlers.Queue = queue
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(bfhttp.Logger)
	r.Use(bfhttp.SecurityHeaders)
	r.Use(otel.HTTPMiddleware("buzzforge.ops"))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Idempotency(c, cfg.Cache.IdemTTL))
	bfhttp.MountRoutes(r, handlers)

	return serve(ctx, ":"+cfg.Server.OpsPort, r)
}

// addTriggers registers the buzz check, daily pipeline and weekly report. A
// buzz check that reports new events starts a pipeline for the top one.
// The buzz check and report are skipped when their agent is not configured.
func addTriggers(ctx context.Context, cfg *config.Config, loc *time.Location, store database.Store, c cache.Cache, agents *service.AgentRegistry, out service.Outputs, sched *service.SchedulerService) error {
	if err := agents.Require(cfg.Buzz.CollectorAgent); err != nil {
		slog.Warn("buzz check disabled", "agent", cfg.Buzz.CollectorAgent, "error", err)
	} else {
		det := service.NewDetectorService(store, service.NewAgentCollector(agents, cfg.Buzz.CollectorAgent), c, service.DetectorOptions{
			Thresholds: buzz.Thresholds{
				Absolute:      cfg.Buzz.Absolute,
				Ratio:         cfg.Buzz.Ratio,
				MinEngagement: cfg.Buzz.MinEngagement,
			},
			Window:        cfg.Buzz.Window,
			PostsPerCheck: cfg.Buzz.PostsPerCheck,
			MaxPerDay:     cfg.Buzz.MaxPerDay,
			NotifyTop:     cfg.Buzz.NotifyTop,
			Location:      loc,
		})
		det.SetOutputs(out)
		accounts, err := buzz.LoadAccounts(cfg.Buzz.AccountsFile)
		if err != nil {
			return fmt.Errorf("accounts: %w", err)
		}
		if err := det.SyncEntities(ctx, accounts); err != nil {
			return fmt.Errorf("sync accounts: %w", err)
		}
		tr, err := schedule.Interval(schedule.TriggerBuzzCheck, cfg.Scheduler.Interval)
		if err != nil {
			return err
		}
		sched.Add(tr, sched.BuzzCheck(det))
	}

	tr, err := schedule.At(schedule.TriggerDailyPipeline, cfg.Scheduler.DailyTime)
	if err != nil {
		return err
	}
	sched.Add(tr, sched.DailyPipeline)

	if cfg.Scheduler.Weekly == "" {
		return nil
	}
	if err := agents.Require(cfg.Pipeline.ReportAgent); err != nil {
		slog.Warn("weekly report disabled", "agent", cfg.Pipeline.ReportAgent, "error", err)
		return nil
	}
	report := service.NewReportService(agents, cfg.Pipeline.ReportAgent, store)
	report.SetOutputs(out)
	tr, err = schedule.At(schedule.TriggerWeeklyReport, cfg.Scheduler.Weekly)
	if err != nil {
		return err
	}
	sched.Add(tr, func(ctx context.Context) error {
		_, err := report.Send(ctx)
		return err
	})
	return nil
}

func runOnStart(cfg config.Scheduler) string {
	if cfg.RunOnStart {
		return schedule.TriggerBuzzCheck
	}
	return ""
}

// detectorView serves entity and buzz listings straight from the store, so
// they work while the collector agent is not configured.
type detectorView struct {
	store database.Store
}

func (v detectorView) Entities(ctx context.Context) ([]buzz.Entity, error) {
	return v.store.ListEntities(ctx)
}

func (v detectorView) Recent(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error) {
	return v.store.ListFlagged(ctx, since, limit)
}

// openStore connects the configured persistence driver.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		version, err := postgres.Migrate(ctx, cfg.Postgres.DSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected", "schema_version", version)
		return postgres.NewStore(pool), nil
	case "redis":
		s, err := bfredis.NewStoreFromURL(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		slog.Info("redis connected", "prefix", cfg.Redis.Prefix)
		return s, nil
	case "memory":
		slog.Warn("using in-memory store, state is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openCache builds the tiered cache: ristretto in process, NATS KV behind it
// when JetStream is available.
func openCache(ctx context.Context, cfg config.Cache, js jetstream.JetStream) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, nil, err
	}
	var l2 cache.Cache
	if js != nil && cfg.L2Bucket != "" {
		kv, err := natskv.Open(ctx, js, cfg.L2Bucket, cfg.L2TTL)
		if err != nil {
			l1.Close()
			return nil, nil, err
		}
		l2 = kv
	}
	return tiered.New(l1, l2, cfg.L2TTL), l1.Close, nil
}

// openNotifiers creates every notifier with enough configuration to send.
func openNotifiers(cfg config.Notification) []notifier.Notifier {
	configs := map[string]map[string]string{}
	if cfg.DiscordWebhook != "" {
		configs["discord"] = map[string]string{"webhook_url": cfg.DiscordWebhook, "username": cfg.Username}
	}
	if cfg.SlackWebhook != "" {
		configs["slack"] = map[string]string{"webhook_url": cfg.SlackWebhook, "username": cfg.Username}
	}
	if cfg.Email.Host != "" {
		configs["email"] = map[string]string{
			"host":     cfg.Email.Host,
			"port":     strconv.Itoa(cfg.Email.Port),
			"username": cfg.Email.Username,
			"password": cfg.Email.Password,
			"from":     cfg.Email.From,
			"to":       strings.Join(cfg.Email.To, ","),
		}
	}

	out, err := notifier.Open(configs)
	if err != nil {
		slog.Warn("some notifiers disabled", "error", err)
	}
	names := make([]string, len(out))
	for i, n := range out {
		names[i] = n.Name()
	}
	slog.Info("notifiers configured", "notifiers", names)
	return out
}
