package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultMaxBodyBytes    = 1 << 20
	DefaultInstallationTTL = 24 * time.Hour
	DefaultStreamKeepalive = 30 * time.Second
	DefaultLogLevel        = "info"
	DefaultAPIKeyHeader    = "x-api-key"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the ingest endpoint and REST API listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// ClientTokenEnv names the environment variable holding the token every
	// batch envelope must carry. Empty accepts any token.
	ClientTokenEnv string `yaml:"client_token_env"`

	// MaxBodyBytes caps the decoded size of one batch (default 1 MiB).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Auth configures how the server authenticates incoming HTTP clients.
	Auth AuthConfig `yaml:"auth"`

	// Installations controls in-memory retention of per-installation state.
	Installations InstallationsConfig `yaml:"installations"`

	// StreamKeepalive is how often /ws/stream subscribers are pinged
	// (default 30s). A subscriber that misses two pings is dropped.
	StreamKeepalive time.Duration `yaml:"stream_keepalive"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// ClientToken returns the expected envelope token resolved from the environment.
func (s ServerConfig) ClientToken() string {
	if s.ClientTokenEnv == "" {
		return ""
	}
	return os.Getenv(s.ClientTokenEnv)
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// InstallationsConfig controls in-memory installation retention.
type InstallationsConfig struct {
	// TTL is how long an installation stays in the store after its last batch.
	// Default: 24h.
	TTL time.Duration `yaml:"ttl"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			MaxBodyBytes: DefaultMaxBodyBytes,
			Installations: InstallationsConfig{
				TTL: DefaultInstallationTTL,
			},
			StreamKeepalive: DefaultStreamKeepalive,
			LogLevel:        DefaultLogLevel,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Installations.TTL <= 0 {
		return fmt.Errorf("server.installations.ttl must be positive")
	}
	if s.StreamKeepalive <= 0 {
		return fmt.Errorf("server.stream_keepalive must be positive")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown", s.LogLevel)
	}
	return nil
}
