// Package shipper is the HTTP transport for telemetry batches.
//
// Shipper.PostJSON makes a single POST of an encoded batch envelope to the
// collector and reports the outcome. It never retries: the telemetry core
// treats a failed batch as lost and moves on.
//
// Request bodies are compressed according to collector.compression:
// gzip (default) or zstd via klauspost/compress, with the matching
// Content-Encoding header, or sent as-is for "none".
//
// Auth: mTLS client certificates, an API key header, or a bearer token.
// collector.http2 switches the transport to golang.org/x/net/http2, which
// requires an https collector.
//
// A non-2xx answer is returned as *StatusError so callers can inspect the
// status code with errors.As.
package shipper
