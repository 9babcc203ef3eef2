package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/telemetry/agent/internal/platform"
	"github.com/obsidianstack/telemetry/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultCompression  = "gzip"
	DefaultLogLevel     = "info"
	DefaultAPIKeyHeader = "x-api-key"
	DefaultStateDirName = "obsidianstack-telemetry"
)

// Config is the top-level configuration. The agent reads the `agent:` key;
// a `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// App identifies the application whose events are reported.
	App AppConfig `yaml:"app"`

	// Collector configures where and how batches are delivered.
	Collector CollectorConfig `yaml:"collector"`

	// Telemetry holds the user's opt-in flags. Hot-reloaded.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// User is the signed-in user, if any. Only used when metrics are on.
	User UserConfig `yaml:"user"`

	// StateDir holds the persisted installation id.
	StateDir string `yaml:"state_dir"`

	// LogMirror is the path of the local JSON-lines mirror written when
	// diagnostics are enabled. Empty means a new temp file.
	LogMirror string `yaml:"log_mirror"`

	// MetricsAddr is the listen address for the /metrics endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// AppConfig describes the reporting application.
type AppConfig struct {
	Version string `yaml:"version"`

	// ReleaseChannel is one of: dev | preview | stable, or empty.
	ReleaseChannel string `yaml:"release_channel"`
}

// Channel returns the parsed release channel.
func (a AppConfig) Channel() platform.ReleaseChannel {
	ch, _ := platform.ParseReleaseChannel(a.ReleaseChannel)
	return ch
}

// TelemetryConfig holds the opt-in flags checked on every report.
type TelemetryConfig struct {
	Metrics     bool `yaml:"metrics"`
	Diagnostics bool `yaml:"diagnostics"`
}

// UserConfig identifies a signed-in user.
type UserConfig struct {
	MetricsID string `yaml:"metrics_id"`
	Staff     bool   `yaml:"staff"`
}

// CollectorConfig configures delivery to the collector.
type CollectorConfig struct {
	// ServerURL is the collector base URL, e.g. https://collector.example.com.
	// Batches are posted to ServerURL + /api/events.
	ServerURL string `yaml:"server_url"`

	// TokenEnv names the environment variable holding the client token that
	// is embedded in every batch envelope.
	TokenEnv string `yaml:"token_env"`

	// Timeout bounds one POST, including reading the response.
	Timeout time.Duration `yaml:"timeout"`

	// Compression is one of: none | gzip | zstd.
	Compression string `yaml:"compression"`

	// HTTP2 forces HTTP/2 over TLS for collector connections.
	HTTP2 bool `yaml:"http2"`

	// Auth configures transport-level authentication to the collector.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// EventsURL returns the full URL batches are posted to.
func (c CollectorConfig) EventsURL() string {
	return strings.TrimRight(c.ServerURL, "/") + types.EventsPath
}

// Token returns the client token resolved from the environment.
func (c CollectorConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// AuthConfig specifies the authentication mode for the collector.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the config file at path. Files ending in .json or
// .jsonc may contain comments and trailing commas. Missing optional fields
// are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
	}
	if cfg.Agent.Collector.Auth.Mode == "apikey" && cfg.Agent.Collector.Auth.Header == "" {
		cfg.Agent.Collector.Auth.Header = DefaultAPIKeyHeader
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Collector: CollectorConfig{
				Timeout:     DefaultTimeout,
				Compression: DefaultCompression,
			},
			StateDir: defaultStateDir(),
			LogLevel: DefaultLogLevel,
		},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, DefaultStateDirName)
	}
	return DefaultStateDirName
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Collector.ServerURL == "" {
		return fmt.Errorf("agent.collector.server_url is required")
	}
	if !strings.HasPrefix(a.Collector.ServerURL, "http://") && !strings.HasPrefix(a.Collector.ServerURL, "https://") {
		return fmt.Errorf("agent.collector.server_url must be an http(s) URL, got %q", a.Collector.ServerURL)
	}
	if a.Collector.HTTP2 && !strings.HasPrefix(a.Collector.ServerURL, "https://") {
		return fmt.Errorf("agent.collector.http2 requires an https server_url")
	}
	if a.Collector.Timeout <= 0 {
		return fmt.Errorf("agent.collector.timeout must be positive")
	}
	switch a.Collector.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("agent.collector.compression: unknown value %q", a.Collector.Compression)
	}
	switch a.Collector.Auth.Mode {
	case "mtls":
		if a.Collector.Auth.CertFile == "" || a.Collector.Auth.KeyFile == "" {
			return fmt.Errorf("agent.collector.auth: mtls requires cert_file and key_file")
		}
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("agent.collector.auth: unknown mode %q", a.Collector.Auth.Mode)
	}
	if _, err := platform.ParseReleaseChannel(a.App.ReleaseChannel); err != nil {
		return fmt.Errorf("agent.app.release_channel: %w", err)
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	if a.StateDir == "" {
		return fmt.Errorf("agent.state_dir is required")
	}
	return nil
}
