// Package config loads gateway settings from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when CONFIG_FILE is not set.
const DefaultFile = "config.yaml"

type Config struct {
	Port       int    `yaml:"port" env:"GATEWAY_PORT"`
	BusURL     string `yaml:"bus_url" env:"BUS_URL"`
	BusChannel string `yaml:"bus_channel" env:"BUS_CHANNEL"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	WriteTimeout   time.Duration `yaml:"ws_write_timeout" env:"WS_WRITE_TIMEOUT"`
	ReadTimeout    time.Duration `yaml:"ws_read_timeout" env:"WS_READ_TIMEOUT"`
	PingInterval   time.Duration `yaml:"ws_ping_interval" env:"WS_PING_INTERVAL"`
	MaxMessageSize int64         `yaml:"ws_max_message_size" env:"WS_MAX_MESSAGE_SIZE"`
	SendBuffer     int           `yaml:"ws_send_buffer" env:"WS_SEND_BUFFER"`
	AllowedOrigins []string      `yaml:"ws_allowed_origins" env:"WS_ALLOWED_ORIGINS"`

	NATSMaxReconnects int           `yaml:"nats_max_reconnects" env:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait time.Duration `yaml:"nats_reconnect_wait" env:"NATS_RECONNECT_WAIT"`
	BusHealthInterval time.Duration `yaml:"bus_health_interval" env:"BUS_HEALTH_INTERVAL"`

	BreakerMaxFailures uint32        `yaml:"breaker_max_failures" env:"BREAKER_MAX_FAILURES"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" env:"BREAKER_OPEN_TIMEOUT"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Port:               8081,
		BusURL:             bus.DefaultURL,
		BusChannel:         "session_events",
		LogLevel:           "info",
		LogFormat:          "console",
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingInterval:       30 * time.Second,
		MaxMessageSize:     1024, // 1KB max inbound message size
		SendBuffer:         256,
		NATSMaxReconnects:  -1, // Infinite
		NATSReconnectWait:  2 * time.Second,
		BusHealthInterval:  5 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// Load reads .env (if present), then the YAML file at path, then the
// environment. An empty path means CONFIG_FILE or DefaultFile; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = DefaultFile
	}
	if err := loadFile(path, &cfg); err != nil {
		return nil, err
	}

	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GATEWAY_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.BusURL == "" {
		return errors.New("BUS_URL is required")
	}
	if c.BusChannel == "" {
		return errors.New("BUS_CHANNEL is required")
	}

	durations := map[string]time.Duration{
		"WS_WRITE_TIMEOUT":     c.WriteTimeout,
		"WS_READ_TIMEOUT":      c.ReadTimeout,
		"WS_PING_INTERVAL":     c.PingInterval,
		"BUS_HEALTH_INTERVAL":  c.BusHealthInterval,
		"BREAKER_OPEN_TIMEOUT": c.BreakerOpenTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	// Pongs must arrive before the read deadline expires.
	if c.PingInterval >= c.ReadTimeout {
		return errors.New("WS_PING_INTERVAL must be shorter than WS_READ_TIMEOUT")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Bus maps the broker settings onto a bus.Config.
func (c *Config) Bus() bus.Config {
	cfg := bus.DefaultConfig()
	cfg.URL = c.BusURL
	cfg.MaxReconnects = c.NATSMaxReconnects
	cfg.ReconnectWait = c.NATSReconnectWait
	cfg.HealthInterval = c.BusHealthInterval
	return cfg
}
