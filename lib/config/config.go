// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Parley tools.
//
// Configuration is loaded from a single YAML file specified by:
//   - PARLEY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; the file is the single
// source of truth and environment variables never override its values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Parley endpoint.
type Config struct {
	// PeerID identifies this endpoint in the mesh.
	PeerID string `yaml:"peer_id"`

	// Verification configures the challenge-response engine.
	Verification VerificationConfig `yaml:"verification"`

	// Streams configures media stream attachment.
	Streams StreamsConfig `yaml:"streams"`

	// ICE configures the WebRTC transport's ICE servers.
	ICE ICEConfig `yaml:"ice"`

	// Logging configures diagnostic output.
	Logging LoggingConfig `yaml:"logging"`
}

// VerificationConfig configures the peer verification engine.
type VerificationConfig struct {
	// Timeout is how long a challenge waits for an answer.
	// Default: 30s.
	Timeout string `yaml:"timeout"`

	// AutoVerify challenges peers on join when their public key is
	// already registered. Default: true.
	AutoVerify bool `yaml:"auto_verify"`
}

// StreamsConfig configures media stream attachment.
type StreamsConfig struct {
	// QuiesceDelay is the settle time between consecutive stream
	// attaches. Default: 1s.
	QuiesceDelay string `yaml:"quiesce_delay"`
}

// ICEConfig configures the WebRTC transport's ICE servers.
type ICEConfig struct {
	// Servers lists STUN and TURN servers to gather candidates from.
	Servers []ICEServer `yaml:"servers"`
}

// ICEServer is one STUN or TURN server entry.
type ICEServer struct {
	// URLs are the server's URIs ("stun:...", "turn:...").
	URLs []string `yaml:"urls"`

	// Username and Credential authenticate against TURN servers.
	Username   string `yaml:"username,omitempty"`
	Credential string `yaml:"credential,omitempty"`
}

// LoggingConfig configures diagnostic output.
type LoggingConfig struct {
	// Level is the minimum slog level: debug, info, warn, or error.
	// Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration. The defaults exist so
// every field has a sensible zero-value before the file is merged in.
func Default() *Config {
	return &Config{
		Verification: VerificationConfig{
			Timeout:    "30s",
			AutoVerify: true,
		},
		Streams: StreamsConfig{
			QuiesceDelay: "1s",
		},
		ICE: ICEConfig{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the PARLEY_CONFIG environment
// variable. There are no fallbacks: if PARLEY_CONFIG is not set, Load
// fails.
func Load() (*Config, error) {
	path := os.Getenv("PARLEY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("PARLEY_CONFIG environment variable not set; " +
			"set it to the path of your parley.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.ParseDuration(c.Verification.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("verification.timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Streams.QuiesceDelay); err != nil {
		errs = append(errs, fmt.Errorf("streams.quiesce_delay: %w", err))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	for i, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d]: urls is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// VerifyTimeout returns the parsed verification timeout. Call Validate
// first; an unparseable value falls back to the default.
func (c *Config) VerifyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Verification.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QuiesceDelay returns the parsed stream settle delay. Call Validate
// first; an unparseable value falls back to the default.
func (c *Config) QuiesceDelay() time.Duration {
	d, err := time.ParseDuration(c.Streams.QuiesceDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// LogLevel maps the configured level name to a slog.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
}
