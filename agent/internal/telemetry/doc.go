// Package telemetry batches usage events and delivers them to the collector.
//
// A Telemetry value owns one queue of events behind a single mutex. Report
// appends to the queue and either flushes immediately, once the queue holds
// MaxQueueLen events, or (re)arms a debounce timer so a burst of events
// leaves in one request. Every flush swaps the whole queue out under the
// lock and then works on its private copy in a background goroutine:
//
//	Report ──► queue ──► [debounce timer | size threshold | Start] ──► flush
//	                                                              │
//	                                           mirror.Append ◄────┤
//	                                           Poster.PostJSON ◄──┘
//
// Nothing is sent until Start supplies the installation id; events reported
// earlier wait in the queue and leave together when Start is called.
//
// Delivery is best effort. Mirror and transport failures are logged and
// counted in Stats; the batch is never re-queued or retried.
//
// The batch size and debounce interval come from the build profile: the
// default profile flushes every event after one second, the release build
// (-tags release) waits for ten events or thirty seconds of quiet.
package telemetry
