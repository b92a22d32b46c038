// Package config loads Heron configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/heron/internal/domain"
)

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
// HERON_TIER selects the base profile; HERON_* variables override it.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	var cfg *domain.Config
	switch tier := strings.ToLower(os.Getenv("HERON_TIER")); tier {
	case "", string(domain.TierCommunity):
		cfg = domain.DefaultConfig()
	case string(domain.TierPro):
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, tier)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" || err != nil {
			return
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			err = fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidInput, key, v)
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v := os.Getenv(key)
		if v == "" || err != nil {
			return
		}
		b, convErr := strconv.ParseBool(v)
		if convErr != nil {
			err = fmt.Errorf("%w: %s must be a boolean, got %q", domain.ErrInvalidInput, key, v)
			return
		}
		*dst = b
	}

	setString("HERON_HOST", &cfg.Server.Host)
	setInt("HERON_PORT", &cfg.Server.Port)

	setString("HERON_DB_DRIVER", &cfg.Repository.Driver)
	setString("HERON_SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("HERON_PG_HOST", &cfg.Repository.PostgresHost)
	setInt("HERON_PG_PORT", &cfg.Repository.PostgresPort)
	setString("HERON_PG_USER", &cfg.Repository.PostgresUser)
	setString("HERON_PG_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("HERON_PG_DATABASE", &cfg.Repository.PostgresDB)
	setString("HERON_PG_SSLMODE", &cfg.Repository.PostgresSSLMode)
	setInt("HERON_DB_MAX_OPEN_CONNS", &cfg.Repository.MaxOpenConns)
	setInt("HERON_DB_MAX_IDLE_CONNS", &cfg.Repository.MaxIdleConns)

	if addr := os.Getenv("HERON_REDIS_ADDR"); addr != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = addr
	}
	setString("HERON_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	if url := os.Getenv("HERON_NATS_URL"); url != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = url
	}
	setString("HERON_NATS_TOKEN", &cfg.EventBus.NATSToken)
	setString("HERON_NATS_QUEUE", &cfg.EventBus.NATSQueueGroup)

	setInt("HERON_THRESHOLD_MONITOR", &cfg.Scoring.Monitor)
	setInt("HERON_THRESHOLD_REVIEW", &cfg.Scoring.Review)
	setInt("HERON_THRESHOLD_HIGH_RISK", &cfg.Scoring.HighRisk)
	setString("HERON_RULES_FILE", &cfg.Scoring.RulesFile)
	setString("HERON_FEATURE_PROVIDER", &cfg.Scoring.FeatureProvider)

	setBool("HERON_ASYNC_WORKER", &cfg.AsyncWorker)

	setString("HERON_LOG_LEVEL", &cfg.Logging.Level)
	setString("HERON_LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv("HERON_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = endpoint
	}

	return err
}
