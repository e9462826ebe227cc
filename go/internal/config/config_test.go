package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.BusURL)
	assert.Equal(t, "session_events", cfg.BusChannel)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, ":8081", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
port: 9000
bus_url: nats://nats:4222
ws_ping_interval: 15s
ws_allowed_origins:
  - https://app.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "nats://nats:4222", cfg.BusURL)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "session_events", cfg.BusChannel, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "port: 9000\nbus_url: nats://nats:4222\n")
	t.Setenv("GATEWAY_PORT", "9100")
	t.Setenv("BUS_URL", "redis://cache:6379/2")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "redis://cache:6379/2", cfg.BusURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Minute, cfg.BreakerOpenTimeout)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeFile(t, "port: [not a number")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Port = 0 }, "GATEWAY_PORT must be between 1 and 65535, got 0"},
		{"empty channel", func(c *Config) { c.BusChannel = "" }, "BUS_CHANNEL is required"},
		{"empty bus url", func(c *Config) { c.BusURL = "" }, "BUS_URL is required"},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, "WS_WRITE_TIMEOUT must be positive"},
		{"ping after read deadline", func(c *Config) { c.PingInterval = time.Minute; c.ReadTimeout = 30 * time.Second }, "WS_PING_INTERVAL must be shorter than WS_READ_TIMEOUT"},
		{"zero send buffer", func(c *Config) { c.SendBuffer = 0 }, "WS_SEND_BUFFER must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestBus_MapsSettings(t *testing.T) {
	cfg := Default()
	cfg.BusURL = "nats://nats:4222"
	cfg.NATSMaxReconnects = 10
	cfg.NATSReconnectWait = time.Second

	busCfg := cfg.Bus()
	assert.Equal(t, "nats://nats:4222", busCfg.URL)
	assert.Equal(t, 10, busCfg.MaxReconnects)
	assert.Equal(t, time.Second, busCfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, busCfg.HealthInterval)
}
