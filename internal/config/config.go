// Package config holds the runtime configuration for peerchat and the relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable, e.g. PEERCHAT_RELAY_URL.
const EnvPrefix = "PEERCHAT"

// Config stores every tunable gathered from .env, the environment and flags.
type Config struct {
	RelayURL       string   `envconfig:"RELAY_URL" default:"ws://127.0.0.1:8787/ws" validate:"required,url"`
	ICEServers     []string `envconfig:"ICE_SERVERS" default:"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"`
	DataDir        string   `envconfig:"DATA_DIR" default:".peerchat" validate:"required"`
	LocalID        string   `envconfig:"ID" validate:"omitempty,excludes=:"`
	ChannelLabel   string   `envconfig:"CHANNEL_LABEL" default:"chat" validate:"required"`
	RelayListen    string   `envconfig:"RELAY_LISTEN" default:"127.0.0.1:8787" validate:"required,hostname_port"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"65536" validate:"gt=0"`
	Loopback       bool     `envconfig:"LOOPBACK"`
	Debug          bool     `envconfig:"DEBUG"`
}

var validate = validator.New()

// Load reads an optional .env file, then PEERCHAT_* environment variables.
// Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config after flags have been applied.
func (c *Config) Validate() error {
	c.ICEServers = normalizeList(c.ICEServers)
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// normalizeList trims entries and drops empty ones so PEERCHAT_ICE_SERVERS=""
// yields a host-candidates-only configuration.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
