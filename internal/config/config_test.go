package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no .env is picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 30, cfg.Scoring.Monitor)
	assert.Equal(t, 60, cfg.Scoring.Review)
	assert.Equal(t, 80, cfg.Scoring.HighRisk)
	assert.Equal(t, domain.FeatureProviderScenario, cfg.Scoring.FeatureProvider)
	assert.False(t, cfg.AsyncWorker)
}

func TestLoadProTier(t *testing.T) {
	isolate(t)
	t.Setenv("HERON_TIER", "pro")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "heron-workers", cfg.EventBus.NATSQueueGroup)
	assert.Equal(t, domain.FeatureProviderStore, cfg.Scoring.FeatureProvider)
	assert.True(t, cfg.AsyncWorker)
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("HERON_PORT", "9090")
	t.Setenv("HERON_SQLITE_PATH", "/tmp/h.db")
	t.Setenv("HERON_DB_MAX_OPEN_CONNS", "12")
	t.Setenv("HERON_REDIS_ADDR", "redis:6379")
	t.Setenv("HERON_THRESHOLD_MONITOR", "20")
	t.Setenv("HERON_THRESHOLD_REVIEW", "50")
	t.Setenv("HERON_THRESHOLD_HIGH_RISK", "90")
	t.Setenv("HERON_FEATURE_PROVIDER", "store")
	t.Setenv("HERON_ASYNC_WORKER", "true")
	t.Setenv("HERON_NATS_URL", "nats://bus:4222")
	t.Setenv("HERON_NATS_QUEUE", "scorers")
	t.Setenv("HERON_DEBUG", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/h.db", cfg.Repository.SQLitePath)
	assert.Equal(t, 12, cfg.Repository.MaxOpenConns)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 20, cfg.Scoring.Monitor)
	assert.Equal(t, 50, cfg.Scoring.Review)
	assert.Equal(t, 90, cfg.Scoring.HighRisk)
	assert.Equal(t, domain.FeatureProviderStore, cfg.Scoring.FeatureProvider)
	assert.True(t, cfg.AsyncWorker)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "nats://bus:4222", cfg.EventBus.NATSUrl)
	assert.Equal(t, "scorers", cfg.EventBus.NATSQueueGroup)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("HERON_PORT=7070\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("HERON_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"UnknownTier", map[string]string{"HERON_TIER": "enterprise"}},
		{"BadPort", map[string]string{"HERON_PORT": "eighty"}},
		{"BadBool", map[string]string{"HERON_ASYNC_WORKER": "sometimes"}},
		{"ThresholdOrder", map[string]string{"HERON_THRESHOLD_REVIEW": "90"}},
		{"UnknownProvider", map[string]string{"HERON_FEATURE_PROVIDER": "oracle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}
