package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "buzzforge.yaml"

// DefaultEnvFile is the dotenv file merged into the process environment.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// BUZZFORGE_CONFIG overrides the YAML path. The YAML and .env files are
// optional; missing files are not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("BUZZFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. Variables from .env never replace
// variables already present in the environment.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.AgentPort, "BUZZFORGE_AGENT_PORT")
	setString(&cfg.Server.OpsPort, "BUZZFORGE_OPS_PORT")

	// Agent runtime
	setString(&cfg.Agent.Name, "BUZZFORGE_AGENT_NAME")
	setString(&cfg.Agent.Description, "BUZZFORGE_AGENT_DESCRIPTION")
	setString(&cfg.Agent.URL, "BUZZFORGE_AGENT_URL")
	setString(&cfg.Agent.SystemPrompt, "BUZZFORGE_AGENT_SYSTEM_PROMPT")
	setString(&cfg.Agent.Backend, "BUZZFORGE_AGENT_BACKEND")
	setDuration(&cfg.Agent.Timeout, "BUZZFORGE_AGENT_TIMEOUT")
	setInt(&cfg.Agent.MaxConcurrent, "BUZZFORGE_AGENT_MAX_CONCURRENT")
	setDuration(&cfg.Agent.TaskTTL, "BUZZFORGE_AGENT_TASK_TTL")
	setBool(&cfg.Agent.SyncExecution, "BUZZFORGE_AGENT_SYNC")
	setFloat64(&cfg.Agent.RateLimit, "BUZZFORGE_AGENT_RATE_LIMIT")
	setInt(&cfg.Agent.RateBurst, "BUZZFORGE_AGENT_RATE_BURST")

	// Backends
	setString(&cfg.Backend.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.Backend.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Backend.LiteLLM.Model, "BUZZFORGE_LLM_MODEL")
	setString(&cfg.Backend.CLI.Command, "BUZZFORGE_CLI_COMMAND")
	setList(&cfg.Backend.CLI.Args, "BUZZFORGE_CLI_ARGS")
	setMap(&cfg.Agents, "BUZZFORGE_AGENTS")

	// Pipeline
	setString(&cfg.Pipeline.Template, "BUZZFORGE_PIPELINE_TEMPLATE")
	setString(&cfg.Pipeline.TemplatesDir, "BUZZFORGE_TEMPLATES_DIR")
	setFloat64(&cfg.Pipeline.Threshold, "BUZZFORGE_REVIEW_THRESHOLD")
	setInt(&cfg.Pipeline.MaxIterations, "BUZZFORGE_MAX_ITERATIONS")
	setInt(&cfg.Pipeline.MaxParallel, "BUZZFORGE_PIPELINE_MAX_PARALLEL")
	setDuration(&cfg.Pipeline.RunBudget, "BUZZFORGE_RUN_BUDGET")
	setDuration(&cfg.Pipeline.CallTimeout, "BUZZFORGE_CALL_TIMEOUT")
	setDuration(&cfg.Pipeline.PollInterval, "BUZZFORGE_POLL_INTERVAL")
	setString(&cfg.Pipeline.ReportAgent, "BUZZFORGE_REPORT_AGENT")

	// Buzz
	setFloat64(&cfg.Buzz.Absolute, "BUZZFORGE_BUZZ_ABSOLUTE")
	setFloat64(&cfg.Buzz.Ratio, "BUZZFORGE_BUZZ_RATIO")
	setFloat64(&cfg.Buzz.MinEngagement, "BUZZFORGE_BUZZ_MIN_ENGAGEMENT")
	setInt(&cfg.Buzz.Window, "BUZZFORGE_BUZZ_WINDOW")
	setInt(&cfg.Buzz.PostsPerCheck, "BUZZFORGE_BUZZ_POSTS_PER_CHECK")
	setInt(&cfg.Buzz.MaxPerDay, "BUZZFORGE_BUZZ_MAX_PER_DAY")
	setInt(&cfg.Buzz.NotifyTop, "BUZZFORGE_BUZZ_NOTIFY_TOP")
	setString(&cfg.Buzz.AccountsFile, "BUZZFORGE_ACCOUNTS_FILE")
	setString(&cfg.Buzz.CollectorAgent, "BUZZFORGE_COLLECTOR_AGENT")

	// Scheduler
	setMinutes(&cfg.Scheduler.Interval, "BUZZFORGE_INTERVAL_MINUTES")
	setDuration(&cfg.Scheduler.Interval, "BUZZFORGE_INTERVAL")
	setString(&cfg.Scheduler.DailyTime, "BUZZFORGE_DAILY_TIME")
	setString(&cfg.Scheduler.Weekly, "BUZZFORGE_WEEKLY")
	setInt(&cfg.Scheduler.DailyQuota, "BUZZFORGE_DAILY_QUOTA")
	setString(&cfg.Scheduler.Timezone, "BUZZFORGE_TIMEZONE")
	setList(&cfg.Scheduler.FallbackThemes, "BUZZFORGE_FALLBACK_THEMES")
	setBool(&cfg.Scheduler.RunOnStart, "BUZZFORGE_RUN_ON_START")
	setString(&cfg.Scheduler.OpsURL, "BUZZFORGE_OPS_URL")

	// Storage
	setString(&cfg.Store.Driver, "BUZZFORGE_STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "BUZZFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "BUZZFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "BUZZFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "BUZZFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "BUZZFORGE_PG_HEALTH_CHECK")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Prefix, "BUZZFORGE_REDIS_PREFIX")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "BUZZFORGE_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "BUZZFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "BUZZFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "BUZZFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.CardTTL, "BUZZFORGE_CACHE_CARD_TTL")
	setDuration(&cfg.Cache.IdemTTL, "BUZZFORGE_IDEMPOTENCY_TTL")

	// Notification
	setList(&cfg.Notification.EnabledEvents, "BUZZFORGE_NOTIFY_EVENTS")
	setString(&cfg.Notification.DiscordWebhook, "BUZZFORGE_DISCORD_WEBHOOK")
	setString(&cfg.Notification.SlackWebhook, "BUZZFORGE_SLACK_WEBHOOK")
	setString(&cfg.Notification.Username, "BUZZFORGE_NOTIFY_USERNAME")
	setString(&cfg.Notification.Email.Host, "BUZZFORGE_SMTP_HOST")
	setInt(&cfg.Notification.Email.Port, "BUZZFORGE_SMTP_PORT")
	setString(&cfg.Notification.Email.Username, "BUZZFORGE_SMTP_USERNAME")
	setString(&cfg.Notification.Email.Password, "BUZZFORGE_SMTP_PASSWORD")
	setString(&cfg.Notification.Email.From, "BUZZFORGE_SMTP_FROM")
	setList(&cfg.Notification.Email.To, "BUZZFORGE_SMTP_TO")

	// Observability
	setBool(&cfg.OTEL.Enabled, "BUZZFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "BUZZFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "BUZZFORGE_OTEL_SAMPLE_RATE")
	setString(&cfg.Logging.Level, "BUZZFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BUZZFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "BUZZFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "BUZZFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BUZZFORGE_BREAKER_TIMEOUT")
	setBool(&cfg.MCP.Enabled, "BUZZFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Port, "BUZZFORGE_MCP_PORT")
	setString(&cfg.MCP.APIKey, "BUZZFORGE_MCP_API_KEY")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.AgentPort == "" {
		return errors.New("server.agent_port is required")
	}
	if cfg.Server.OpsPort == "" {
		return errors.New("server.ops_port is required")
	}
	if cfg.Agent.Name == "" {
		return errors.New("agent.name is required")
	}
	switch cfg.Agent.Backend {
	case "litellm", "cli":
	default:
		return fmt.Errorf("agent.backend %q must be litellm or cli", cfg.Agent.Backend)
	}
	if cfg.Agent.Timeout <= 0 {
		return errors.New("agent.timeout must be > 0")
	}
	if cfg.Agent.MaxConcurrent < 1 {
		return errors.New("agent.max_concurrent must be >= 1")
	}
	if cfg.Pipeline.Threshold < 0 || cfg.Pipeline.Threshold > 100 {
		return errors.New("pipeline.threshold must be within 0..100")
	}
	if cfg.Pipeline.MaxIterations < 1 {
		return errors.New("pipeline.max_iterations must be >= 1")
	}
	if cfg.Pipeline.MaxParallel < 1 {
		return errors.New("pipeline.max_parallel must be >= 1")
	}
	if cfg.Pipeline.PollInterval <= 0 {
		return errors.New("pipeline.poll_interval must be > 0")
	}
	if cfg.Buzz.Ratio < 0 || cfg.Buzz.Absolute < 0 {
		return errors.New("buzz thresholds must be >= 0")
	}
	if cfg.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if _, err := schedule.ParseCron(cfg.Scheduler.DailyTime); err != nil {
		return fmt.Errorf("scheduler.daily_time: %w", err)
	}
	if cfg.Scheduler.Weekly != "" {
		if _, err := schedule.ParseCron(cfg.Scheduler.Weekly); err != nil {
			return fmt.Errorf("scheduler.weekly: %w", err)
		}
	}
	if cfg.Scheduler.DailyQuota < 0 {
		return errors.New("scheduler.daily_quota must be >= 0")
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory, postgres or redis", cfg.Store.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

// Location resolves the scheduler timezone. "Local" and "" use the host zone.
func (s Scheduler) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setMinutes reads a whole number of minutes.
func setMinutes(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Minute
		}
	}
}

// setList reads a comma-separated list, dropping blank entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// setMap merges "name=url,name=url" pairs into dst.
func setMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string)
	}
	for _, pair := range strings.Split(v, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" && val != "" {
			(*dst)[name] = val
		}
	}
}
