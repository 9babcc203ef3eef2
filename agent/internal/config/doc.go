// Package config loads and watches the telemetry agent configuration file.
//
// Top-level types:
//   - Config{Agent} - the `agent:` section; a `server:` section in the same
//     file belongs to the collector and is ignored here
//   - AgentConfig - app, collector, telemetry, user, state_dir, log_mirror,
//     metrics_addr, log_level
//   - CollectorConfig - server_url, token_env, timeout, compression
//     (none|gzip|zstd), http2, auth, tls; EventsURL() and Token()
//   - AuthConfig - mode (mtls|apikey|bearer|none), cert/key/ca files, header,
//     key_env, token_env; Key() and Token() resolve from environment variables
//   - TelemetryConfig - the metrics and diagnostics opt-in flags
//
// Load(path) reads YAML, or JSON with comments when the file ends in .json
// or .jsonc, applies defaults (10s timeout, gzip, info logging, state under
// the user config dir), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory and calls
// onChange with each successfully reloaded Config. The agent uses it to pick
// up opt-in changes without a restart.
package config
