// Package ws streams ingest activity to WebSocket subscribers at /ws/stream.
//
// The receiver hands every stored batch to Feed.BatchReceived, which sends a
// batch_received notice to each subscriber: the batch's own counts plus the
// installation's running totals. Nothing is re-sent on a timer; idle
// connections only see keepalive pings (server.stream_keepalive).
//
// A subscriber connecting with ?installation_id=<id> sees only that
// installation. The first frame is the current state:
//
//	{"event": "snapshot",       "data": { /* GET /api/v1/snapshot */ }}
//	{"event": "installation",   "data": { /* GET /api/v1/installations/<id>, or null */ }}
//
// followed by
//
//	{"event": "batch_received", "data": {"installation_id": "...", "events": 3, ...}}
//
// A subscriber that falls behind by more than a few dozen notices is
// disconnected. Origins are not checked; restrict them at the proxy.
package ws
