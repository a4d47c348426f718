package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentloop.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "AGENTLOOP_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTLOOP_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTLOOP_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTLOOP_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTLOOP_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTLOOP_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTLOOP_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AGENTLOOP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTLOOP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTLOOP_LOG_ASYNC")

	setDuration(&cfg.Engine.TickInterval, "AGENTLOOP_TICK_INTERVAL")
	setBool(&cfg.Engine.AutoTick, "AGENTLOOP_AUTO_TICK")
	setInt(&cfg.Engine.DispatchBatch, "AGENTLOOP_DISPATCH_BATCH")
	setInt(&cfg.Engine.DispatchConcurrency, "AGENTLOOP_DISPATCH_CONCURRENCY")
	setDuration(&cfg.Engine.StepTimeout, "AGENTLOOP_STEP_TIMEOUT")
	setInt(&cfg.Engine.StepMaxRetries, "AGENTLOOP_STEP_MAX_RETRIES")
	setDuration(&cfg.Engine.ProposalTTL, "AGENTLOOP_PROPOSAL_TTL")
	setDuration(&cfg.Engine.EventRetention, "AGENTLOOP_EVENT_RETENTION")
	setDuration(&cfg.Engine.StuckMissionAfter, "AGENTLOOP_STUCK_MISSION_AFTER")
	setDuration(&cfg.Engine.HeartbeatTimeout, "AGENTLOOP_HEARTBEAT_TIMEOUT")

	setString(&cfg.Executor.Mode, "AGENTLOOP_EXECUTOR_MODE")
	setString(&cfg.Executor.URL, "AGENTLOOP_EXECUTOR_URL")
	setDuration(&cfg.Executor.Timeout, "AGENTLOOP_EXECUTOR_TIMEOUT")

	setBool(&cfg.Telemetry.Enabled, "AGENTLOOP_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "AGENTLOOP_OTEL_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "AGENTLOOP_OTEL_SERVICE")
	setFloat64(&cfg.Telemetry.SampleRatio, "AGENTLOOP_OTEL_SAMPLE_RATIO")

	setInt64(&cfg.Cache.MaxSizeMB, "AGENTLOOP_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.StatusTTL, "AGENTLOOP_STATUS_TTL")

	setString(&cfg.Seed.Path, "AGENTLOOP_SEED_PATH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Engine.TickInterval <= 0 {
		return errors.New("engine.tick_interval must be positive")
	}
	if cfg.Engine.DispatchConcurrency < 1 {
		return errors.New("engine.dispatch_concurrency must be >= 1")
	}
	if cfg.Engine.StepMaxRetries < 0 {
		return errors.New("engine.step_max_retries must be >= 0")
	}
	switch cfg.Executor.Mode {
	case "simulate", "gateway":
	default:
		return fmt.Errorf("executor.mode must be simulate or gateway, got %q", cfg.Executor.Mode)
	}
	return nil
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
