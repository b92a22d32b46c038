package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Scoring holds thresholds and rule catalog settings
	Scoring ScoringConfig `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// AsyncWorker enables the bus-driven ingest worker.
	AsyncWorker bool `json:"asyncWorker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig holds the decision thresholds and feature settings.
type ScoringConfig struct {
	Monitor  int `json:"monitor"`
	Review   int `json:"review"`
	HighRisk int `json:"high_risk"`

	// RulesFile optionally replaces the embedded rule catalog.
	RulesFile string `json:"rulesFile,omitempty"`

	// FeatureProvider selects the behavioral feature source:
	// "scenario" (deterministic demo heuristics) or "store" (cached profiles).
	FeatureProvider string `json:"featureProvider"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC endpoint
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// Feature provider names.
const (
	FeatureProviderScenario = "scenario"
	FeatureProviderStore    = "store"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Monitor:         30,
			Review:          60,
			HighRisk:        80,
			FeatureProvider: FeatureProviderScenario,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Scoring.FeatureProvider = FeatureProviderStore
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "heron-workers",
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	s := c.Scoring
	if !(s.Monitor < s.Review && s.Review < s.HighRisk) {
		return fmt.Errorf("%w: thresholds must be strictly ascending (monitor=%d review=%d high_risk=%d)",
			ErrInvalidInput, s.Monitor, s.Review, s.HighRisk)
	}
	switch s.FeatureProvider {
	case FeatureProviderScenario, FeatureProviderStore:
	default:
		return fmt.Errorf("%w: unknown feature provider %q", ErrInvalidInput, s.FeatureProvider)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("%w: server port must be positive", ErrInvalidInput)
	}
	return nil
}
