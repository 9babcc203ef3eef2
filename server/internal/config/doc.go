// Package config loads the collector configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort          - port for ingest and the REST API (default 8080)
//   - ClientTokenEnv    - environment variable holding the envelope token
//   - MaxBodyBytes      - decoded batch size limit (default 1 MiB)
//   - Auth.Mode         - "apikey" or "none"
//   - Auth.KeyEnv       - environment variable holding the expected API key
//   - Auth.Header       - HTTP header name (default "x-api-key")
//   - Installations.TTL - how long an idle installation is kept (default 24h)
//   - StreamKeepalive   - /ws/stream ping period (default 30s)
//   - LogLevel          - debug | info | warn | error (default info)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
