// Package selfmetrics exposes the telemetry pipeline's own counters in the
// Prometheus exposition format, so an operator can see how many events were
// queued, discarded, delivered and lost.
//
// The handler builds client_model metric families from a Stats snapshot on
// every scrape and encodes them with expfmt in whatever format the scraper
// negotiates (text by default).
package selfmetrics
