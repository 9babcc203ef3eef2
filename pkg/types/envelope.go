package types

// EventsPath is the collector path that receives batch envelopes. The agent
// appends it to the configured server URL.
const EventsPath = "/api/events"

// BatchEnvelope is the request body of one flush. Nullable fields are nil
// when the agent does not know the value yet.
type BatchEnvelope struct {
	Token          string        `json:"token"`
	InstallationID *string       `json:"installation_id"`
	AppVersion     *string       `json:"app_version"`
	OSName         string        `json:"os_name"`
	OSVersion      *string       `json:"os_version"`
	Architecture   string        `json:"architecture"`
	ReleaseChannel *string       `json:"release_channel"`
	Events         []QueuedEvent `json:"events"`
}

// Optional returns nil for the empty string and a pointer to s otherwise.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
