package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/telemetry/server/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads installation state from the store and returns JSON responses.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to the given installation store and registers all routes.
func New(st *store.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/installations", h.listInstallations)
	h.mux.HandleFunc("/api/v1/installations/", h.getInstallation) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: live installation count and totals.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, BuildHealth(h.store.List()))
}

// listInstallations returns GET /api/v1/installations: all live installations.
func (h *Handler) listInstallations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]InstallationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, BuildInstallation(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getInstallation returns GET /api/v1/installations/{id}: a single live installation.
func (h *Handler) getInstallation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/installations/")
	if id == "" {
		h.listInstallations(w, r)
		return
	}

	e, ok := h.store.Get(id)
	if !ok || !h.store.Live(e) {
		jsonErr(w, http.StatusNotFound, "installation not found")
		return
	}
	jsonResp(w, http.StatusOK, BuildInstallation(e))
}

// events returns GET /api/v1/events: event counts across live installations.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, BuildEvents(h.store.List()))
}

// snapshot returns GET /api/v1/snapshot: health, event counts and all live
// installations in one document.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// --- builders ---------------------------------------------------------------

// BuildHealth summarises entries, which must be ordered newest first as
// returned by store.List.
func BuildHealth(entries []*store.Entry) HealthResponse {
	resp := HealthResponse{
		State:             "idle",
		InstallationCount: len(entries),
	}
	for _, e := range entries {
		resp.BatchCount += e.Batches
		resp.EventCount += e.Events
	}
	if len(entries) > 0 {
		resp.State = "receiving"
		resp.LastBatchAt = entries[0].UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// BuildEvents aggregates event counts across entries.
func BuildEvents(entries []*store.Entry) EventsResponse {
	resp := EventsResponse{
		ByType:        map[string]int{},
		ByOS:          map[string]int{},
		ByChannel:     map[string]int{},
		ByAppVersion:  map[string]int{},
		Installations: len(entries),
	}
	for _, e := range entries {
		resp.Total += e.Events
		resp.SignedIn += e.SignedInEvents
		for t, n := range e.EventsByType {
			resp.ByType[string(t)] += n
		}
		resp.ByOS[orUnknown(e.Identity.OSName)] += e.Events
		resp.ByChannel[orUnknown(e.Identity.ReleaseChannel)] += e.Events
		resp.ByAppVersion[orUnknown(e.Identity.AppVersion)] += e.Events
	}
	if resp.Total > 0 {
		resp.SignedInPct = float64(resp.SignedIn) / float64(resp.Total) * 100
	}
	return resp
}

// BuildSnapshot assembles the full snapshot document from the live entries
// in st. /ws/stream sends it as the first frame to unfiltered subscribers.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	entries := st.List()
	installations := make([]InstallationResponse, 0, len(entries))
	for _, e := range entries {
		installations = append(installations, BuildInstallation(e))
	}
	return SnapshotResponse{
		Health:        BuildHealth(entries),
		Events:        BuildEvents(entries),
		Installations: installations,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildInstallation maps a store.Entry to its JSON representation.
func BuildInstallation(e *store.Entry) InstallationResponse {
	byType := make(map[string]int, len(e.EventsByType))
	for t, n := range e.EventsByType {
		byType[string(t)] = n
	}
	return InstallationResponse{
		InstallationID: e.InstallationID,
		AppVersion:     e.Identity.AppVersion,
		OSName:         e.Identity.OSName,
		OSVersion:      e.Identity.OSVersion,
		Architecture:   e.Identity.Architecture,
		ReleaseChannel: e.Identity.ReleaseChannel,
		Batches:        e.Batches,
		Events:         e.Events,
		SignedInEvents: e.SignedInEvents,
		EventsByType:   byType,
		FirstSeen:      e.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:       e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
