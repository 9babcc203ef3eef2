// Package types defines the wire types shared by the telemetry agent and the
// collector server.
//
//   - Event - closed set of tagged event variants (EditorEvent, AssistantEvent)
//   - QueuedEvent - an Event plus the signed_in flag captured at enqueue time;
//     its JSON form flattens the event's fields next to "signed_in" and "type"
//   - BatchEnvelope - one flush: identity fields plus the drained events
//
// The JSON encoding is the collector contract. Nullable identity fields are
// pointers and marshal as null when unknown.
package types
