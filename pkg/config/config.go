// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine's process-level configuration the way
// the teacher's internal/config reads its own: an optional YAML file
// merged with ENGINE_-prefixed environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	conductorerrors "github.com/vsync-io/workflow-engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Listen      ListenConfig      `yaml:"listen"`
	Backend     BackendConfig     `yaml:"backend"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Credentials CredentialsConfig `yaml:"credentials"`
	WorkflowsDir string           `yaml:"workflows_dir,omitempty"`
}

// LogConfig configures logging. Mirrors internal/log.Config's fields so
// the two convert directly.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ListenConfig configures the engine's HTTP listener.
type ListenConfig struct {
	// Addr is the address for the control-plane API (run submission,
	// resume, key management).
	Addr string `yaml:"addr,omitempty"`

	// PublicAddr is the address for the public-run gate (§4.I), kept
	// separate so it can be exposed without exposing the control plane.
	PublicAddr string `yaml:"public_addr,omitempty"`
}

// BackendConfig selects the persistence backend (pkg/repo).
type BackendConfig struct {
	// Type is "memory" or "sqlite".
	Type string `yaml:"type"`

	// SQLitePath is the database file path when Type is "sqlite".
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// RateLimitConfig configures the default sliding-window limiter (§4.H)
// backing the public-run gate.
type RateLimitConfig struct {
	// Window is the sliding-window duration.
	Window time.Duration `yaml:"window,omitempty"`

	// DefaultMaxPerMinute is the per-slug cap used when a workflow does
	// not set its own publicRateLimit.maxPerMinute.
	DefaultMaxPerMinute int `yaml:"default_max_per_minute,omitempty"`
}

// CredentialsConfig configures the credential store's (§4.D) master-key
// resolution and IP hashing.
type CredentialsConfig struct {
	// MasterKeyEnvVar is parsed into the config but is not read by
	// credentials.KeyProvider, which always checks ENGINE_MASTER_KEY for a
	// directly-provisioned master key.
	MasterKeyEnvVar string `yaml:"master_key_env_var,omitempty"`

	// IPHashSalt is parsed into the config but is not passed on anywhere
	// in the module; publicgate.New takes the salt that keys its PublicRun
	// client-IP HMAC as an argument.
	IPHashSalt string `yaml:"ip_hash_salt,omitempty"`
}

// Default returns a Config with sensible defaults, mirroring the
// teacher's config.Default().
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Listen: ListenConfig{
			Addr:       ":8080",
			PublicAddr: ":8081",
		},
		Backend: BackendConfig{
			Type: "memory",
		},
		RateLimit: RateLimitConfig{
			Window:              time.Minute,
			DefaultMaxPerMinute: 10,
		},
		Credentials:  CredentialsConfig{},
		WorkflowsDir: "./workflows",
	}
}

// Load loads configuration from defaults, an optional YAML file, and
// ENGINE_-prefixed environment variables, which take precedence over the
// file. If path is empty, only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &conductorerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ENGINE_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("ENGINE_LOG_SOURCE"); v != "" {
		c.Log.AddSource = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("ENGINE_LISTEN_ADDR"); v != "" {
		c.Listen.Addr = v
	}
	if v := os.Getenv("ENGINE_PUBLIC_ADDR"); v != "" {
		c.Listen.PublicAddr = v
	}
	if v := os.Getenv("ENGINE_BACKEND"); v != "" {
		c.Backend.Type = strings.ToLower(v)
	}
	if v := os.Getenv("ENGINE_SQLITE_PATH"); v != "" {
		c.Backend.SQLitePath = v
	}
	if v := os.Getenv("ENGINE_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.Window = d
		}
	}
	if v := os.Getenv("ENGINE_RATE_LIMIT_DEFAULT_MAX_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.DefaultMaxPerMinute = n
		}
	}
	if v := os.Getenv("ENGINE_MASTER_KEY_ENV_VAR"); v != "" {
		c.Credentials.MasterKeyEnvVar = v
	}
	if v := os.Getenv("ENGINE_IP_HASH_SALT"); v != "" {
		c.Credentials.IPHashSalt = v
	}
	if v := os.Getenv("ENGINE_WORKFLOWS_DIR"); v != "" {
		c.WorkflowsDir = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true, "trace": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validBackends := map[string]bool{"memory": true, "sqlite": true}
	if !validBackends[c.Backend.Type] {
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, sqlite], got %q", c.Backend.Type))
	}
	if c.Backend.Type == "sqlite" && c.Backend.SQLitePath == "" {
		errs = append(errs, "backend.sqlite_path is required when backend.type is \"sqlite\"")
	}

	if c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit.window must be positive")
	}
	if c.RateLimit.DefaultMaxPerMinute <= 0 {
		errs = append(errs, "rate_limit.default_max_per_minute must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
