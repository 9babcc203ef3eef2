package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Agent-only file: the server section is absent.
	p := writeConfig(t, `agent:
  collector:
    server_url: "http://localhost:8080"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Errorf("max_body_bytes: got %d, want %d", cfg.Server.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if cfg.Server.Installations.TTL != DefaultInstallationTTL {
		t.Errorf("installations.ttl: got %v, want %v", cfg.Server.Installations.TTL, DefaultInstallationTTL)
	}
	if cfg.Server.StreamKeepalive != DefaultStreamKeepalive {
		t.Errorf("stream_keepalive: got %v, want %v", cfg.Server.StreamKeepalive, DefaultStreamKeepalive)
	}
	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, DefaultLogLevel)
	}
}

func TestLoad_FullServer(t *testing.T) {
	t.Setenv("TEST_CLIENT_TOKEN", "client-secret")
	p := writeConfig(t, `server:
  http_port: 9091
  client_token_env: TEST_CLIENT_TOKEN
  max_body_bytes: 65536
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-obs-key
  installations:
    ttl: 10m
  stream_keepalive: 2s
  log_level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.ClientToken() != "client-secret" {
		t.Errorf("ClientToken: got %q", cfg.Server.ClientToken())
	}
	if cfg.Server.MaxBodyBytes != 65536 {
		t.Errorf("max_body_bytes: got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.Auth.Mode != "apikey" {
		t.Errorf("auth.mode: got %q, want apikey", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-obs-key" {
		t.Errorf("header: got %q, want x-obs-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Installations.TTL != 10*time.Minute {
		t.Errorf("installations.ttl: got %v, want 10m", cfg.Server.Installations.TTL)
	}
	if cfg.Server.StreamKeepalive != 2*time.Second {
		t.Errorf("stream_keepalive: got %v, want 2s", cfg.Server.StreamKeepalive)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown auth mode": "server:\n  auth:\n    mode: oauth2\n",
		"port out of range": "server:\n  http_port: 70000\n",
		"zero body limit":   "server:\n  max_body_bytes: 0\n",
		"zero ttl":          "server:\n  installations:\n    ttl: 0s\n",
		"bad log level":     "server:\n  log_level: chatty\n",
		"zero stream":       "server:\n  stream_keepalive: 0s\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
