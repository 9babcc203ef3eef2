// Package auth provides authentication middleware for the telemetry collector.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// sent in the named request header, using a constant-time comparison.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or
// absent, the middleware answers 401 with a JSON error body and the wrapped
// handler is not called.
package auth
