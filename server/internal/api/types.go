package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State             string `json:"state"`
	InstallationCount int    `json:"installation_count"`
	BatchCount        int    `json:"batch_count"`
	EventCount        int    `json:"event_count"`
	LastBatchAt       string `json:"last_batch_at,omitempty"` // RFC3339
}

// InstallationResponse is one entry in GET /api/v1/installations or
// GET /api/v1/installations/{id}.
type InstallationResponse struct {
	InstallationID string         `json:"installation_id"`
	AppVersion     string         `json:"app_version,omitempty"`
	OSName         string         `json:"os_name"`
	OSVersion      string         `json:"os_version,omitempty"`
	Architecture   string         `json:"architecture"`
	ReleaseChannel string         `json:"release_channel,omitempty"`
	Batches        int            `json:"batches"`
	Events         int            `json:"events"`
	SignedInEvents int            `json:"signed_in_events"`
	EventsByType   map[string]int `json:"events_by_type"`
	FirstSeen      string         `json:"first_seen"` // RFC3339
	LastSeen       string         `json:"last_seen"`  // RFC3339
}

// EventsResponse is the payload for GET /api/v1/events: event counts
// aggregated across all live installations.
type EventsResponse struct {
	Total         int            `json:"total"`
	SignedIn      int            `json:"signed_in"`
	SignedInPct   float64        `json:"signed_in_pct"`
	ByType        map[string]int `json:"by_type"`
	ByOS          map[string]int `json:"by_os"`
	ByChannel     map[string]int `json:"by_release_channel"`
	ByAppVersion  map[string]int `json:"by_app_version"`
	Installations int            `json:"installations"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and of the
// initial /ws/stream frame.
type SnapshotResponse struct {
	Health        HealthResponse         `json:"health"`
	Events        EventsResponse         `json:"events"`
	Installations []InstallationResponse `json:"installations"`
	GeneratedAt   string                 `json:"generated_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}
