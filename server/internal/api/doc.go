// Package api implements the read-only HTTP API of the reference collector.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health               - live installation count, batch and event totals
//	GET /api/v1/installations        - all live installations ([]InstallationResponse)
//	GET /api/v1/installations/{id}   - single installation; 404 if unknown or stale
//	GET /api/v1/events               - event counts aggregated across installations
//	GET /api/v1/snapshot             - health, events and installations + generated_at
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Read live entries from the store (stale entries excluded)
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
