// Package config loads the hub configuration.
//
// Sources are applied in order, each overriding the previous one:
// built-in defaults, an optional YAML file, environment variables
// (PEGGIATOR_*, plus PORT), then command line flags applied by the caller.
// Validate must be called once all sources have been applied.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PEGGIATOR_"

// Config is the full server configuration.
type Config struct {
	Listen string `yaml:"listen" env:"LISTEN" validate:"required"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert   string `yaml:"tls_cert" env:"TLS_CERT" validate:"required_with=TLSKey"`
	TLSKey    string `yaml:"tls_key" env:"TLS_KEY" validate:"required_with=TLSCert"`
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`

	Checkpoint         string        `yaml:"checkpoint" env:"CHECKPOINT" validate:"required"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" env:"CHECKPOINT_INTERVAL" validate:"gte=0"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	Log  Log  `yaml:"log" envPrefix:"LOG_"`
	Hub  Hub  `yaml:"hub" envPrefix:"HUB_"`
	MDNS MDNS `yaml:"mdns" envPrefix:"MDNS_"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=auto text json"`
}

// Hub holds per-connection limits.
type Hub struct {
	SendBuffer      int           `yaml:"send_buffer" env:"SEND_BUFFER" validate:"gte=2"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES" validate:"gte=512"`
	MaxNotes        int           `yaml:"max_notes" env:"MAX_NOTES" validate:"gte=0"`
	EventsPerSecond float64       `yaml:"events_per_second" env:"EVENTS_PER_SECOND" validate:"gte=0"`
	EventBurst      int           `yaml:"event_burst" env:"EVENT_BURST" validate:"gte=1"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" validate:"gte=1s"`
}

// MDNS controls advertisement on the local network.
type MDNS struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Instance string `yaml:"instance" env:"INSTANCE"`
	Service  string `yaml:"service" env:"SERVICE" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:          ":3000",
		Checkpoint:      "notes.json",
		ShutdownTimeout: 10 * time.Second,
		Log: Log{
			Level:  "info",
			Format: "auto",
		},
		Hub: Hub{
			SendBuffer:      256,
			MaxMessageBytes: 64 << 10,
			MaxNotes:        1000,
			EventsPerSecond: 60,
			EventBurst:      120,
			PingInterval:    30 * time.Second,
		},
		MDNS: MDNS{
			Service: "_peggiator._tcp",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, environ []string) error {
	vars := env.ToMap(environ)
	// PORT is honored for compatibility with hosting platforms; an explicit
	// PEGGIATOR_LISTEN wins.
	if port, ok := vars["PORT"]; ok && port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT: %q is not a number", port)
		}
		cfg.Listen = net.JoinHostPort("", port)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration after all sources are applied.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid config: listen %q: %w", c.Listen, err)
	}
	return nil
}

// TLSEnabled reports whether HTTPS should be served.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Port returns the numeric port of Listen, or 0 if it has none.
func (c Config) Port() int {
	_, p, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
