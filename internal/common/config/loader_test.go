// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ==========================
// LoadFromFile Tests
// ==========================

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
store:
  driver: memory
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Dispatcher.DefaultMaxRetries)
	assert.Equal(t, 30*time.Second, GetDuration(cfg.Scheduler.Interval))
	assert.Equal(t, 200*time.Millisecond, GetDuration(cfg.Scheduler.ItemDelay))
	assert.Equal(t, 10*time.Second, GetDuration(cfg.Dispatcher.ChannelTimeout))
	assert.Equal(t, time.Minute, GetDuration(cfg.Dispatcher.BackoffBase))
	assert.Equal(t, 30*time.Minute, GetDuration(cfg.Dispatcher.BackoffMax))
	assert.Equal(t, 1024, cfg.Queue.Capacity)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 10*time.Minute, GetDuration(cfg.Scheduler.StaleClaimTTL))
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.Equal(t, "notification-attempts", cfg.Audit.Index)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "https://api.telegram.org", cfg.Channels.Telegram.BaseURL)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "123:abc")
	path := writeConfigFile(t, `
store:
  driver: memory
channels:
  telegram:
    enabled: true
    bot_token: ${TEST_BOT_TOKEN}
workers:
  notification-create:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Channels.Telegram.BotToken)
	wcfg := GetWorkerConfig(cfg, "notification-create")
	assert.True(t, wcfg.Enabled)
	assert.Equal(t, 5, wcfg.MaxJobsActive)
	assert.Equal(t, 3, wcfg.MaxRetries)
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{
			name:     "unknown store driver",
			body:     "store:\n  driver: cassandra\n",
			contains: "store.driver",
		},
		{
			name:     "mongo without uri",
			body:     "store:\n  driver: mongo\n",
			contains: "database.mongo.uri",
		},
		{
			name:     "smtp without host",
			body:     "store:\n  driver: memory\nchannels:\n  email:\n    enabled: true\n    transport: smtp\n    from_email: a@b.c\n",
			contains: "smtp.host",
		},
		{
			name:     "lock without redis",
			body:     "store:\n  driver: memory\nscheduler:\n  lock_enabled: true\n",
			contains: "database.redis.address",
		},
		{
			name:     "negative channel timeout",
			body:     "store:\n  driver: memory\ndispatcher:\n  channel_timeout: -1\n",
			contains: "dispatcher.channel_timeout must be positive",
		},
		{
			name:     "stale claim ttl shorter than a round",
			body:     "store:\n  driver: memory\ndispatcher:\n  channel_timeout: 30000\nscheduler:\n  stale_claim_ttl: 60000\n",
			contains: "scheduler.stale_claim_ttl",
		},
		{
			name:     "tracing without endpoint",
			body:     "store:\n  driver: memory\ntracing:\n  enabled: true\n",
			contains: "tracing.jaeger_endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MONGODB_URI", "")
			cfg, err := LoadFromFile(writeConfigFile(t, tt.body))
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIsWorkerEnabled_DefaultsToTrue(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"notification-cancel": {Enabled: false}}}

	assert.False(t, IsWorkerEnabled(cfg, "notification-cancel"))
	assert.True(t, IsWorkerEnabled(cfg, "notification-retention"))
}
