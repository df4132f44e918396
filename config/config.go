// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads serverfn process configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/serverfn"
)

// EnvPath names the environment variable that overrides the config path
const EnvPath = "SERVERFN_CONFIG"

// Config is the top-level process configuration.
type Config struct {
	Server    Server     `toml:"server" yaml:"server"`
	Log       Log        `toml:"log" yaml:"log"`
	Router    Router     `toml:"router" yaml:"router"`
	Listeners []Listener `toml:"listener" yaml:"listeners"`
	Auth      Auth       `toml:"auth" yaml:"auth"`
}

type Server struct {
	Name string `toml:"name" yaml:"name"`
}

type Log struct {
	Level      string `toml:"level" yaml:"level"` // debug | info | warn | error
	File       string `toml:"file" yaml:"file"`   // empty disables the file sink
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

type Router struct {
	TimeoutMS      int     `toml:"timeout_ms" yaml:"timeout_ms"`
	RateLimitRPS   float64 `toml:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" yaml:"rate_limit_burst"`
	Tracing        bool    `toml:"tracing" yaml:"tracing"`
}

// Timeout returns the per-call handler deadline, zero for none
func (r Router) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

type Listener struct {
	Transport string `toml:"transport" yaml:"transport"`
	Addr      string `toml:"addr" yaml:"addr"`
	Prefix    string `toml:"prefix" yaml:"prefix"`   // http only
	Metrics   bool   `toml:"metrics" yaml:"metrics"` // http and jsonrpc only
}

type Auth struct {
	HMACSecret    string `toml:"hmac_secret" yaml:"hmac_secret"`
	HMACSecretEnv string `toml:"hmac_secret_env" yaml:"hmac_secret_env"`
}

// Secret resolves the HMAC secret, preferring the named environment variable.
func (a Auth) Secret() []byte {
	if a.HMACSecretEnv != "" {
		if v := strings.TrimSpace(os.Getenv(a.HMACSecretEnv)); v != "" {
			return []byte(v)
		}
	}
	if a.HMACSecret == "" {
		return nil
	}
	return []byte(a.HMACSecret)
}

// Default returns the configuration used when no file is given: one ZAP
// listener on :9000.
func Default() Config {
	return Config{
		Server: Server{Name: "serverfn"},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Listeners: []Listener{defaultListener},
	}
}

var defaultListener = Listener{Transport: serverfn.TransportZAP, Addr: ":9000"}

// Load reads path, choosing the decoder by extension (.toml, .yaml, .yml),
// on top of Default. Listeners from the file replace the default listener.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.Listeners = nil
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []Listener{defaultListener}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by SERVERFN_CONFIG, else defaultPath,
// else Default() when defaultPath is empty.
func LoadFromEnv(defaultPath string) (Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvPath))
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks listeners and limits.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Listeners) == 0 {
		errs = append(errs, errors.New("at least one listener required"))
	}
	seen := make(map[string]bool)
	for i, l := range c.Listeners {
		if !serverfn.HasTransport(l.Transport) {
			errs = append(errs, fmt.Errorf("listener[%d]: unknown transport %q (have %v)", i, l.Transport, serverfn.AvailableTransports()))
		}
		if l.Addr == "" {
			errs = append(errs, fmt.Errorf("listener[%d]: addr required", i))
		} else if seen[l.Addr] {
			errs = append(errs, fmt.Errorf("listener[%d]: addr %s used twice", i, l.Addr))
		}
		seen[l.Addr] = true
		if l.Prefix != "" && !strings.HasPrefix(l.Prefix, "/") {
			errs = append(errs, fmt.Errorf("listener[%d]: prefix must start with /", i))
		}
	}
	if c.Router.TimeoutMS < 0 {
		errs = append(errs, errors.New("router.timeout_ms must not be negative"))
	}
	if c.Router.RateLimitRPS > 0 && c.Router.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("router.rate_limit_burst required with rate_limit_rps"))
	}
	return errors.Join(errs...)
}
