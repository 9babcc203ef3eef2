// Package security inspects the TLS certificate of the configured collector.
// The agent runs Check once at startup and logs a warning when the
// certificate is expiring, expired or the collector cannot be reached, so a
// broken collector shows up before the first batch is dropped.
package security
