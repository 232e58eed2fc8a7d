package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 100, cfg.HistorySize)
	assert.Equal(t, 1000, cfg.MaxClients)
	assert.Zero(t, cfg.HistoryRetention)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "statusfeed:events", cfg.RedisChannel)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"PORT":                  "9000",
		"WS_PATH":               "live",
		"HEARTBEAT_INTERVAL_MS": "5000",
		"HISTORY_SIZE":          "20",
		"MAX_CLIENTS":           "3",
		"HISTORY_RETENTION":     "1h",
		"REDIS_URL":             "redis://localhost:6379",
		"LOG_LEVEL":             "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/live", cfg.WSPath)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.HistoryRetention)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	opts := cfg.HubOptions()
	assert.Equal(t, 20, opts.HistorySize)
	assert.Equal(t, 3, opts.MaxClients)
	assert.Equal(t, 5*time.Second, opts.HeartbeatInterval)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"HEARTBEAT_INTERVAL_MS", "soon"},
		{"HISTORY_SIZE", "-1"},
		{"MAX_CLIENTS", "0"},
		{"HISTORY_RETENTION", "forever"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := FromEnv(envOf(map[string]string{tt.key: tt.value}))
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
