// Package store keeps per-installation telemetry aggregates in memory: the
// identity from the latest batch, batch and event counts, and first/last
// seen times. Installations idle for longer than the TTL are evicted.
package store
