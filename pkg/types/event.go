package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType is the "type" tag carried by every event record on the wire.
type EventType string

const (
	EventTypeEditor    EventType = "Editor"
	EventTypeAssistant EventType = "Assistant"
)

// Event is one of the closed set of event variants. The unexported method
// keeps the set closed to this package.
type Event interface {
	Type() EventType
	isEvent()
}

// EditorEvent records an editor action such as opening or saving a buffer.
type EditorEvent struct {
	// Operation names the action, e.g. "open" or "save".
	Operation     string  `json:"operation"`
	FileExtension *string `json:"file_extension"`
	VimMode       bool    `json:"vim_mode"`

	// AssistantEnabled reports whether inline suggestions were on globally,
	// AssistantEnabledForLanguage whether they were on for this buffer's language.
	AssistantEnabled            bool `json:"assistant_enabled"`
	AssistantEnabledForLanguage bool `json:"assistant_enabled_for_language"`
}

func (EditorEvent) Type() EventType { return EventTypeEditor }
func (EditorEvent) isEvent()        {}

// AssistantEvent records the outcome of one inline suggestion.
type AssistantEvent struct {
	SuggestionID       *string `json:"suggestion_id"`
	SuggestionAccepted bool    `json:"suggestion_accepted"`
	FileExtension      *string `json:"file_extension"`
}

func (AssistantEvent) Type() EventType { return EventTypeAssistant }
func (AssistantEvent) isEvent()        {}

// QueuedEvent is an Event waiting in the flush queue. SignedIn is captured
// when the event is admitted and never recomputed.
type QueuedEvent struct {
	SignedIn bool
	Event    Event
}

// queuedHeader holds the fields every event record starts with.
type queuedHeader struct {
	SignedIn bool      `json:"signed_in"`
	Type     EventType `json:"type"`
}

// MarshalJSON flattens the event's own fields into the same object as
// signed_in and type.
func (q QueuedEvent) MarshalJSON() ([]byte, error) {
	if q.Event == nil {
		return nil, fmt.Errorf("types: queued event has no event")
	}
	head, err := json.Marshal(queuedHeader{SignedIn: q.SignedIn, Type: q.Event.Type()})
	if err != nil {
		return nil, err
	}
	fields, err := json.Marshal(q.Event)
	if err != nil {
		return nil, fmt.Errorf("types: marshal %s event: %w", q.Event.Type(), err)
	}
	if len(fields) < 2 || fields[0] != '{' {
		return nil, fmt.Errorf("types: %s event did not encode as an object", q.Event.Type())
	}
	if bytes.Equal(fields, []byte("{}")) {
		return head, nil
	}

	out := make([]byte, 0, len(head)+len(fields))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, fields[1:]...)
	return out, nil
}

// UnmarshalJSON decodes a flattened event record, choosing the variant from
// its "type" field. Unknown types are rejected.
func (q *QueuedEvent) UnmarshalJSON(data []byte) error {
	var head queuedHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("types: decode event header: %w", err)
	}

	var ev Event
	switch head.Type {
	case EventTypeEditor:
		var e EditorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("types: decode %s event: %w", head.Type, err)
		}
		ev = e
	case EventTypeAssistant:
		var e AssistantEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("types: decode %s event: %w", head.Type, err)
		}
		ev = e
	case "":
		return fmt.Errorf("types: event record has no type")
	default:
		return fmt.Errorf("types: unknown event type %q", head.Type)
	}

	q.SignedIn = head.SignedIn
	q.Event = ev
	return nil
}

// String returns a pointer to s, for the optional string fields of events.
func String(s string) *string { return &s }
