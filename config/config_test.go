// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Transport != "zap" || cfg.Listeners[0].Addr != ":9000" {
		t.Fatalf("listeners %+v", cfg.Listeners)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "serverfn.toml", `
[server]
name = "counterd"

[log]
level = "debug"

[router]
timeout_ms = 1500
rate_limit_rps = 10.0
rate_limit_burst = 20
tracing = true

[[listener]]
transport = "zap"
addr = ":9000"

[[listener]]
transport = "http"
addr = ":8080"
prefix = "/fn"
metrics = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "counterd" || cfg.Log.Level != "debug" {
		t.Fatalf("config %+v", cfg)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Fatalf("defaults not kept: %+v", cfg.Log)
	}
	if cfg.Router.Timeout() != 1500*time.Millisecond || !cfg.Router.Tracing {
		t.Fatalf("router %+v", cfg.Router)
	}
	if len(cfg.Listeners) != 2 || cfg.Listeners[1].Prefix != "/fn" || !cfg.Listeners[1].Metrics {
		t.Fatalf("listeners %+v", cfg.Listeners)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "serverfn.yaml", `
server:
  name: counterd
listeners:
  - transport: grpc
    addr: 127.0.0.1:9100
auth:
  hmac_secret: fallback
  hmac_secret_env: TEST_SERVERFN_SECRET
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Transport != "grpc" {
		t.Fatalf("listeners %+v", cfg.Listeners)
	}

	if got := string(cfg.Auth.Secret()); got != "fallback" {
		t.Fatalf("secret %q, want fallback", got)
	}
	t.Setenv("TEST_SERVERFN_SECRET", "from-env")
	if got := string(cfg.Auth.Secret()); got != "from-env" {
		t.Fatalf("secret %q, want from-env", got)
	}
}

func TestLoadWithoutListenersUsesDefault(t *testing.T) {
	cfg, err := Load(writeFile(t, "min.toml", "[server]\nname = \"x\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != defaultListener {
		t.Fatalf("listeners %+v", cfg.Listeners)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"extension", "c.json", "{}", "unsupported extension"},
		{"syntax", "c.toml", "[server\n", "c.toml"},
		{"transport", "c.toml", "[[listener]]\ntransport = \"smtp\"\naddr = \":1\"\n", "unknown transport"},
		{"missing addr", "c.toml", "[[listener]]\ntransport = \"zap\"\n", "addr required"},
		{"duplicate addr", "c.yaml", "listeners:\n  - {transport: zap, addr: ':1'}\n  - {transport: http, addr: ':1'}\n", "used twice"},
		{"prefix", "c.yaml", "listeners:\n  - {transport: http, addr: ':1', prefix: api}\n", "prefix must start"},
		{"timeout", "c.toml", "[router]\ntimeout_ms = -1\n", "timeout_ms"},
		{"burst", "c.toml", "[router]\nrate_limit_rps = 5.0\n", "rate_limit_burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load: %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := LoadFromEnv("")
	if err != nil || cfg.Server.Name != "serverfn" {
		t.Fatalf("no path: %+v, %v", cfg.Server, err)
	}

	fallback := writeFile(t, "fallback.toml", "[server]\nname = \"fallback\"\n")
	override := writeFile(t, "override.toml", "[server]\nname = \"override\"\n")

	cfg, err = LoadFromEnv(fallback)
	if err != nil || cfg.Server.Name != "fallback" {
		t.Fatalf("default path: %+v, %v", cfg.Server, err)
	}

	t.Setenv(EnvPath, override)
	cfg, err = LoadFromEnv(fallback)
	if err != nil || cfg.Server.Name != "override" {
		t.Fatalf("env path: %+v, %v", cfg.Server, err)
	}
}
