package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtmsub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		config, err := LoadConfig("", map[string]any{"channel": "news"})
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:8080", config.Endpoint)
		assert.Equal(t, "news", config.Channel)
		assert.True(t, config.Reconnect.Enabled)
		assert.Equal(t, 100*time.Millisecond, config.Reconnect.MinDelay)
		assert.Equal(t, 10*time.Second, config.Reconnect.MaxDelay)
		assert.Equal(t, "info", config.Log.Level)
	})

	t.Run("Should read nested values and durations from YAML", func(t *testing.T) {
		path := writeConfigFile(t, `
endpoint: wss://rtm.example.com
appkey: abc
channel: orders
subscription:
  id: orders-eu
  fast_forward: true
  history_count: 5
auth:
  role: reader
  secret: s3cret
reconnect:
  min_delay: 250ms
  max_delay: 2s
log:
  level: debug
`)
		config, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "wss://rtm.example.com", config.Endpoint)
		assert.Equal(t, "abc", config.AppKey)
		assert.Equal(t, "orders-eu", config.Subscription.ID)
		assert.True(t, config.Subscription.FastForward)
		assert.Equal(t, 5, config.Subscription.HistoryCount)
		assert.Equal(t, "reader", config.Auth.Role)
		assert.Equal(t, 250*time.Millisecond, config.Reconnect.MinDelay)
		assert.Equal(t, 2*time.Second, config.Reconnect.MaxDelay)
		assert.Equal(t, "debug", config.Log.Level)
	})

	t.Run("Should let environment override the file and flags override the environment", func(t *testing.T) {
		path := writeConfigFile(t, "channel: from-file\nappkey: file-key\nlog:\n  level: warn\n")
		t.Setenv("RTM_CHANNEL", "from-env")
		t.Setenv("RTM_APPKEY", "env-key")
		t.Setenv("RTM_LOG_LEVEL", "error")
		t.Setenv("RTM_POSITION_FILE", "/tmp/positions.json")

		config, err := LoadConfig(path, map[string]any{"channel": "from-flag", "reconnect.enabled": "false"})
		require.NoError(t, err)
		assert.Equal(t, "from-flag", config.Channel)
		assert.Equal(t, "env-key", config.AppKey)
		assert.Equal(t, "error", config.Log.Level)
		assert.Equal(t, "/tmp/positions.json", config.PositionFile)
		assert.False(t, config.Reconnect.Enabled)
	})

	t.Run("Should split comma separated fallback endpoints", func(t *testing.T) {
		t.Setenv("RTM_ENDPOINTS", "ws://b.example.com,ws://c.example.com")
		config, err := LoadConfig("", map[string]any{"channel": "news"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ws://b.example.com", "ws://c.example.com"}, config.Endpoints)

		config, err = LoadConfig("", map[string]any{"channel": "news", "endpoints": "ws://d.example.com"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ws://d.example.com"}, config.Endpoints)
	})

	t.Run("Should reject invalid configurations", func(t *testing.T) {
		cases := map[string]map[string]any{
			"missing channel":        {},
			"role without secret":    {"channel": "news", "auth.role": "reader"},
			"unknown log level":      {"channel": "news", "log.level": "loud"},
			"max below min delay":    {"channel": "news", "reconnect.min_delay": "2s", "reconnect.max_delay": "1s"},
			"negative message count": {"channel": "news", "count": "-1"},
			"endpoint is not a url":  {"channel": "news", "endpoint": "not a url"},
			"fallback is not a url":  {"channel": "news", "endpoints": "ws://ok.example.com,bad"},
		}
		for name, overrides := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := LoadConfig("", overrides)
				assert.Error(t, err)
			})
		}
	})

	t.Run("Should fail on a missing config file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), map[string]any{"channel": "news"})
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"RTM_ENDPOINT":                   "endpoint",
		"RTM_AUTH_ROLE":                  "auth.role",
		"RTM_SUBSCRIPTION_HISTORY_COUNT": "subscription.history_count",
		"RTM_RECONNECT_MIN_DELAY":        "reconnect.min_delay",
		"RTM_POSITION_FILE":              "position_file",
		"RTM_METRICS_ADDR":               "metrics_addr",
	}
	for input, want := range cases {
		assert.Equal(t, want, envKey(input), input)
	}
}
