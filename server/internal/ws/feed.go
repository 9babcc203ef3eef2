package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/telemetry/pkg/types"
	"github.com/obsidianstack/telemetry/server/internal/api"
	"github.com/obsidianstack/telemetry/server/internal/store"
)

const (
	writeWait = 10 * time.Second

	// outboxSize is how many notices a subscriber may fall behind before it
	// is disconnected.
	outboxSize = 32
)

// Event names carried in Message.Event.
const (
	EventSnapshot      = "snapshot"
	EventInstallation  = "installation"
	EventBatchReceived = "batch_received"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy in front of the collector.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON frame sent to subscribers.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// BatchReceived describes one accepted batch and the installation totals
// after it was stored.
type BatchReceived struct {
	InstallationID string         `json:"installation_id"`
	Events         int            `json:"events"`
	SignedInEvents int            `json:"signed_in_events"`
	EventsByType   map[string]int `json:"events_by_type"`
	AppVersion     string         `json:"app_version,omitempty"`
	OSName         string         `json:"os_name"`
	ReleaseChannel string         `json:"release_channel,omitempty"`
	TotalBatches   int            `json:"total_batches"`
	TotalEvents    int            `json:"total_events"`
	ReceivedAt     string         `json:"received_at"` // RFC3339
}

// Feed streams accepted batches to WebSocket subscribers. A subscriber may
// narrow the stream to one installation with ?installation_id=<id>.
//
// Feed is safe for concurrent use. The receiver calls BatchReceived from
// request goroutines.
type Feed struct {
	store     *store.Store
	keepalive time.Duration

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn      *websocket.Conn
	filter    string // installation id; empty means every batch
	outbox    chan []byte
	keepalive time.Duration
}

// New creates a Feed that reads initial state from st and pings each
// subscriber every keepalive. A subscriber silent for two keepalive periods
// is dropped.
func New(st *store.Store, keepalive time.Duration) *Feed {
	return &Feed{store: st, keepalive: keepalive, subs: make(map[*subscriber]struct{})}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// BatchReceived publishes the batch in env, stored as e, to every matching
// subscriber. It never blocks: a subscriber whose outbox is full is dropped.
func (f *Feed) BatchReceived(e *store.Entry, env *types.BatchEnvelope) {
	if e == nil {
		return
	}
	frame, err := json.Marshal(Message{Event: EventBatchReceived, Data: batchNotice(e, env)})
	if err != nil {
		slog.Warn("ws: encode batch notice", "installation_id", e.InstallationID, "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.filter != "" && s.filter != e.InstallationID {
			continue
		}
		select {
		case s.outbox <- frame:
		default:
			slog.Debug("ws: subscriber too slow, disconnecting", "remote", s.conn.RemoteAddr().String())
			f.dropLocked(s)
		}
	}
}

// Run blocks until ctx is cancelled, then disconnects every subscriber and
// refuses new ones.
func (f *Feed) Run(ctx context.Context) {
	<-ctx.Done()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for s := range f.subs {
		f.dropLocked(s)
	}
}

// ServeHTTP upgrades the request and subscribes the connection. The first
// frame is the current state: the full snapshot, or the single installation
// when filtered (data is null if it is unknown). Later frames are
// batch_received notices.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		http.Error(w, "collector shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade has answered the request.
	}
	s := &subscriber{
		conn:      conn,
		filter:    r.URL.Query().Get("installation_id"),
		outbox:    make(chan []byte, outboxSize),
		keepalive: f.keepalive,
	}

	// Nothing else writes to conn until the writer starts.
	conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	if err := conn.WriteJSON(f.initial(s.filter)); err != nil {
		conn.Close()
		return
	}

	if !f.add(s) {
		conn.Close()
		return
	}
	slog.Debug("ws: subscribed", "remote", conn.RemoteAddr().String(), "installation_id", s.filter)

	go s.write()
	s.read()

	f.mu.Lock()
	f.dropLocked(s)
	f.mu.Unlock()
}

func (f *Feed) initial(filter string) Message {
	if filter == "" {
		return Message{Event: EventSnapshot, Data: api.BuildSnapshot(f.store)}
	}
	var data *api.InstallationResponse
	if e, ok := f.store.Get(filter); ok && f.store.Live(e) {
		in := api.BuildInstallation(e)
		data = &in
	}
	return Message{Event: EventInstallation, Data: data}
}

func (f *Feed) add(s *subscriber) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.subs[s] = struct{}{}
	return true
}

// dropLocked unsubscribes s. Closing the outbox tells its writer to send a
// close frame and hang up. Safe to call more than once.
func (f *Feed) dropLocked(s *subscriber) {
	if _, ok := f.subs[s]; !ok {
		return
	}
	delete(f.subs, s)
	close(s.outbox)
}

// write forwards queued frames and keeps the connection alive with pings.
func (s *subscriber) write() {
	ping := time.NewTicker(s.keepalive)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.outbox:
			deadline := time.Now().Add(writeWait)
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				s.conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
				return
			}
			s.conn.SetWriteDeadline(deadline) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// read discards client frames, extending the deadline on every pong, until
// the connection fails or closes.
func (s *subscriber) read() {
	wait := 2 * s.keepalive
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func batchNotice(e *store.Entry, env *types.BatchEnvelope) BatchReceived {
	n := BatchReceived{
		InstallationID: e.InstallationID,
		Events:         len(env.Events),
		EventsByType:   make(map[string]int),
		AppVersion:     e.Identity.AppVersion,
		OSName:         e.Identity.OSName,
		ReleaseChannel: e.Identity.ReleaseChannel,
		TotalBatches:   e.Batches,
		TotalEvents:    e.Events,
		ReceivedAt:     e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, q := range env.Events {
		if q.SignedIn {
			n.SignedInEvents++
		}
		if q.Event != nil {
			n.EventsByType[string(q.Event.Type())]++
		}
	}
	return n
}
