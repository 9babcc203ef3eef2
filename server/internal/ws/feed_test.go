package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/telemetry/pkg/types"
	"github.com/obsidianstack/telemetry/server/internal/api"
	"github.com/obsidianstack/telemetry/server/internal/store"
	"github.com/obsidianstack/telemetry/server/internal/ws"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func envelope(id string, signedIn ...bool) *types.BatchEnvelope {
	env := &types.BatchEnvelope{
		Token:          "t",
		InstallationID: types.Optional(id),
		AppVersion:     types.Optional("0.9.1"),
		OSName:         "macOS",
		Architecture:   "aarch64",
		ReleaseChannel: types.Optional("Preview"),
	}
	for i, s := range signedIn {
		var ev types.Event = types.EditorEvent{Operation: "save"}
		if i%2 == 1 {
			ev = types.AssistantEvent{SuggestionAccepted: true}
		}
		env.Events = append(env.Events, types.QueuedEvent{SignedIn: s, Event: ev})
	}
	return env
}

// startFeed serves f on a test server and returns its ws:// URL. The feed's
// Run loop stops when the returned cancel func is called or the test ends.
func startFeed(t *testing.T, st *store.Store) (*ws.Feed, string, context.CancelFunc) {
	t.Helper()
	f := ws.New(st, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(f)
	go f.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return f, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var fr frame
	if err := conn.ReadJSON(&fr); err != nil {
		t.Fatalf("read: %v", err)
	}
	return fr
}

// subscribe dials url, consumes the initial frame and waits until the feed
// has registered the connection.
func subscribe(t *testing.T, f *ws.Feed, url string) (*websocket.Conn, frame) {
	t.Helper()
	want := f.Subscribers() + 1
	conn := dial(t, url)
	first := read(t, conn)
	waitSubscribers(t, f, want)
	return conn, first
}

func waitSubscribers(t *testing.T, f *ws.Feed, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: got %d, want %d", f.Subscribers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// publish stores env and hands it to the feed the way the receiver does.
func publish(st *store.Store, f *ws.Feed, env *types.BatchEnvelope) {
	f.BatchReceived(st.Put(env), env)
}

func TestFeed_InitialFrameIsSnapshot(t *testing.T) {
	st := store.New(time.Hour)
	st.Put(envelope("inst-a", true))
	st.Put(envelope("inst-b", false, false))
	_, url, _ := startFeed(t, st)

	fr := read(t, dial(t, url))
	if fr.Event != ws.EventSnapshot {
		t.Fatalf("event: got %q, want %q", fr.Event, ws.EventSnapshot)
	}
	var snap api.SnapshotResponse
	if err := json.Unmarshal(fr.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Health.InstallationCount != 2 || len(snap.Installations) != 2 {
		t.Errorf("snapshot: got %d installations (%d listed), want 2",
			snap.Health.InstallationCount, len(snap.Installations))
	}
}

func TestFeed_FilteredInitialFrameIsInstallation(t *testing.T) {
	st := store.New(time.Hour)
	st.Put(envelope("inst-a", true, false))
	st.Put(envelope("inst-b", false))
	_, url, _ := startFeed(t, st)

	fr := read(t, dial(t, url+"?installation_id=inst-a"))
	if fr.Event != ws.EventInstallation {
		t.Fatalf("event: got %q, want %q", fr.Event, ws.EventInstallation)
	}
	var in api.InstallationResponse
	if err := json.Unmarshal(fr.Data, &in); err != nil {
		t.Fatalf("decode installation: %v", err)
	}
	if in.InstallationID != "inst-a" || in.Events != 2 || in.SignedInEvents != 1 {
		t.Errorf("installation: got %+v", in)
	}
}

func TestFeed_FilteredUnknownInstallationIsNull(t *testing.T) {
	_, url, _ := startFeed(t, store.New(time.Hour))

	fr := read(t, dial(t, url+"?installation_id=nobody"))
	if fr.Event != ws.EventInstallation {
		t.Fatalf("event: got %q, want %q", fr.Event, ws.EventInstallation)
	}
	if string(fr.Data) != "null" {
		t.Errorf("data: got %s, want null", fr.Data)
	}
}

func TestFeed_BatchReceivedCarriesDeltaAndTotals(t *testing.T) {
	st := store.New(time.Hour)
	st.Put(envelope("inst-a", false))
	f, url, _ := startFeed(t, st)
	conn, _ := subscribe(t, f, url)

	publish(st, f, envelope("inst-a", true, true, false))

	fr := read(t, conn)
	if fr.Event != ws.EventBatchReceived {
		t.Fatalf("event: got %q, want %q", fr.Event, ws.EventBatchReceived)
	}
	var n ws.BatchReceived
	if err := json.Unmarshal(fr.Data, &n); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if n.InstallationID != "inst-a" || n.Events != 3 || n.SignedInEvents != 2 {
		t.Errorf("delta: got id=%s events=%d signed_in=%d, want inst-a/3/2",
			n.InstallationID, n.Events, n.SignedInEvents)
	}
	if n.EventsByType["Editor"] != 2 || n.EventsByType["Assistant"] != 1 {
		t.Errorf("events_by_type: got %v", n.EventsByType)
	}
	if n.TotalBatches != 2 || n.TotalEvents != 4 {
		t.Errorf("totals: got batches=%d events=%d, want 2/4", n.TotalBatches, n.TotalEvents)
	}
	if n.AppVersion != "0.9.1" || n.OSName != "macOS" || n.ReleaseChannel != "Preview" {
		t.Errorf("identity: got %q %q %q", n.AppVersion, n.OSName, n.ReleaseChannel)
	}
	if _, err := time.Parse(time.RFC3339, n.ReceivedAt); err != nil {
		t.Errorf("received_at %q: %v", n.ReceivedAt, err)
	}
}

func TestFeed_FilterSkipsOtherInstallations(t *testing.T) {
	st := store.New(time.Hour)
	f, url, _ := startFeed(t, st)
	onlyB, _ := subscribe(t, f, url+"?installation_id=inst-b")
	all, _ := subscribe(t, f, url)

	publish(st, f, envelope("inst-a", true))
	publish(st, f, envelope("inst-b", false, false))

	var n ws.BatchReceived
	if err := json.Unmarshal(read(t, onlyB).Data, &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.InstallationID != "inst-b" || n.Events != 2 {
		t.Errorf("filtered subscriber: got %s with %d events, want inst-b with 2", n.InstallationID, n.Events)
	}

	var ids []string
	for i := 0; i < 2; i++ {
		if err := json.Unmarshal(read(t, all).Data, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, n.InstallationID)
	}
	if strings.Join(ids, ",") != "inst-a,inst-b" {
		t.Errorf("unfiltered subscriber: got %v, want [inst-a inst-b]", ids)
	}
}

func TestFeed_PublishWithoutSubscribers(t *testing.T) {
	st := store.New(time.Hour)
	f := ws.New(st, time.Minute)
	publish(st, f, envelope("inst-a", true))
	if f.Subscribers() != 0 {
		t.Errorf("subscribers: got %d, want 0", f.Subscribers())
	}
}

func TestFeed_DisconnectUnsubscribes(t *testing.T) {
	st := store.New(time.Hour)
	f, url, _ := startFeed(t, st)
	c1, _ := subscribe(t, f, url)
	subscribe(t, f, url)

	c1.Close()
	waitSubscribers(t, f, 1)

	// The remaining subscriber still gets notices.
	publish(st, f, envelope("inst-a", true))
	if f.Subscribers() != 1 {
		t.Errorf("subscribers after publish: got %d, want 1", f.Subscribers())
	}
}

func TestFeed_ShutdownClosesSubscribersAndRefusesNew(t *testing.T) {
	st := store.New(time.Hour)
	f, url, cancel := startFeed(t, st)
	conn, _ := subscribe(t, f, url)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown: got %v, want close 1001", err)
	}
	waitSubscribers(t, f, 0)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial after shutdown succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown: got %v, want 503", resp)
	}
}

func TestFeed_PlainHTTPRequestIsRejected(t *testing.T) {
	f := ws.New(store.New(time.Hour), time.Minute)
	rr := httptest.NewRecorder()
	f.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/stream", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
	if f.Subscribers() != 0 {
		t.Errorf("subscribers: got %d, want 0", f.Subscribers())
	}
}
