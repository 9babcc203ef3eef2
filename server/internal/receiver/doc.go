// Package receiver implements POST /api/events, the endpoint telemetry
// agents deliver batch envelopes to.
//
// The body may be gzip or zstd compressed (Content-Encoding); anything else
// is answered with 415. The decoded body is limited to max_body_bytes (413
// beyond that) and must be a JSON batch envelope (400 otherwise). When a
// client token is configured the envelope's token must match it (401), and
// every envelope needs an installation_id (400). Accepted batches are folded
// into the installation store and answered with {"ok":true,"accepted":N}.
//
// Transport-level API key checks happen upstream in package auth.
package receiver
