package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/telemetry/agent/internal/clock"
	"github.com/obsidianstack/telemetry/pkg/types"
)

// Poster delivers one encoded batch envelope to url.
type Poster interface {
	PostJSON(ctx context.Context, url string, body []byte) error
}

// Mirror receives a copy of every flushed batch before it is posted.
type Mirror interface {
	Append(events []types.QueuedEvent) error
	Path() string
}

// Settings are the user's telemetry choices at the moment of a call.
type Settings struct {
	Metrics     bool // usage events may be collected and sent
	Diagnostics bool // flushed events are mirrored to a local log file
}

// Identity describes the running application. OSName and Architecture are
// always known; the other fields may be empty and are then sent as null.
type Identity struct {
	AppVersion     string
	OSName         string
	OSVersion      string
	Architecture   string
	ReleaseChannel string
}

// Options configure a Telemetry.
type Options struct {
	// EventsURL is the full collector URL batches are posted to.
	EventsURL string
	// Token is the shared client secret placed in every envelope.
	Token string

	Mirror Mirror       // optional
	Clock  clock.Clock  // nil means clock.Real()
	Logger *slog.Logger // nil means slog.Default()
}

// Telemetry queues reported events and flushes them in batches. All methods
// are safe for concurrent use and none of them waits for network I/O.
type Telemetry struct {
	poster    Poster
	eventsURL string
	token     string
	clock     clock.Clock
	log       *slog.Logger

	maxQueueLen int
	debounce    time.Duration

	// ctx is passed to every PostJSON call; Shutdown cancels it when its
	// own deadline expires before the in-flight flushes finish.
	ctx    context.Context
	cancel context.CancelFunc

	// inflight counts flush goroutines. Add is only called with mu held
	// and before closed is set, so Shutdown can Wait safely.
	inflight sync.WaitGroup
	stats    counters

	mu             sync.Mutex
	identity       Identity
	installationID string
	metricsID      string
	isStaff        *bool
	mirror         Mirror
	queue          []types.QueuedEvent
	flushTimer     *clock.Timer
	timerGen       uint64 // bumped whenever the pending timer is superseded
	closed         bool
}

// New returns a Telemetry with an empty queue and no installation id. Events
// reported before Start are held until it is called.
func New(poster Poster, identity Identity, opts Options) *Telemetry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Telemetry{
		poster:      poster,
		eventsURL:   opts.EventsURL,
		token:       opts.Token,
		clock:       clk,
		log:         log,
		maxQueueLen: MaxQueueLen,
		debounce:    DebounceInterval,
		ctx:         ctx,
		cancel:      cancel,
		identity:    identity,
		mirror:      opts.Mirror,
	}
}

// Start records the installation id. Events queued while the id was unknown
// are flushed at once. An empty id is stored but never triggers a flush.
func (t *Telemetry) Start(installationID string) {
	t.mu.Lock()
	t.installationID = installationID
	var batch []types.QueuedEvent
	if installationID != "" && len(t.queue) > 0 && !t.closed {
		batch = t.takeQueueLocked()
	}
	t.mu.Unlock()

	t.log.Debug("telemetry: started", "installation_id", installationID, "pending", len(batch))
	t.dispatch(batch)
}

// SetAuthenticatedUserInfo records the signed-in user's metrics id and staff
// flag. It does nothing when metrics are disabled.
func (t *Telemetry) SetAuthenticatedUserInfo(metricsID string, isStaff bool, settings Settings) {
	if !settings.Metrics {
		return
	}
	t.mu.Lock()
	t.metricsID = metricsID
	t.isStaff = &isStaff
	t.mu.Unlock()
}

// ClearAuthenticatedUserInfo forgets the signed-in user. Events reported
// afterwards are marked signed_in=false; events already queued keep the flag
// they were admitted with.
func (t *Telemetry) ClearAuthenticatedUserInfo() {
	t.mu.Lock()
	t.metricsID = ""
	t.isStaff = nil
	t.mu.Unlock()
}

// SetMirror replaces the local log mirror. A nil mirror stops mirroring.
// Flushes already in progress keep the mirror they started with.
func (t *Telemetry) SetMirror(m Mirror) {
	t.mu.Lock()
	t.mirror = m
	t.mu.Unlock()
}

// Report queues event when settings.Metrics is true and discards it
// otherwise. The queued copy remembers whether a user was signed in at this
// moment.
func (t *Telemetry) Report(event types.Event, settings Settings) {
	if !settings.Metrics {
		t.stats.discarded.Add(1)
		return
	}
	if event == nil {
		t.stats.discarded.Add(1)
		t.log.Warn("telemetry: nil event reported")
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.stats.discarded.Add(1)
		return
	}
	t.queue = append(t.queue, types.QueuedEvent{
		SignedIn: t.metricsID != "",
		Event:    event,
	})
	t.stats.reported.Add(1)

	if t.installationID == "" {
		t.mu.Unlock()
		return
	}

	if len(t.queue) >= t.maxQueueLen {
		batch := t.takeQueueLocked()
		t.mu.Unlock()
		t.dispatch(batch)
		return
	}

	t.armTimerLocked()
	t.mu.Unlock()
}

// armTimerLocked replaces any pending flush timer with a fresh one.
func (t *Telemetry) armTimerLocked() {
	t.stopTimerLocked()
	gen := t.timerGen
	t.flushTimer = t.clock.AfterFunc(t.debounce, func() { t.timerFired(gen) })
}

// stopTimerLocked cancels the pending timer, if any. Bumping the generation
// also disarms a callback that has already been started by the clock.
func (t *Telemetry) stopTimerLocked() {
	if t.flushTimer != nil {
		t.flushTimer.Stop()
		t.flushTimer = nil
	}
	t.timerGen++
}

func (t *Telemetry) timerFired(gen uint64) {
	t.mu.Lock()
	if gen != t.timerGen || t.closed {
		t.mu.Unlock()
		return
	}
	batch := t.takeQueueLocked()
	t.mu.Unlock()
	t.dispatch(batch)
}

// takeQueueLocked swaps out the whole queue and clears the flush timer. A
// non-empty result is registered as in flight and must be dispatched.
func (t *Telemetry) takeQueueLocked() []types.QueuedEvent {
	t.stopTimerLocked()
	batch := t.queue
	t.queue = nil
	if len(batch) > 0 {
		t.inflight.Add(1)
	}
	return batch
}

// dispatch flushes batch in the background.
func (t *Telemetry) dispatch(batch []types.QueuedEvent) {
	if len(batch) == 0 {
		return
	}
	go func() {
		defer t.inflight.Done()
		t.flush(batch)
	}()
}

// flush mirrors batch locally, then posts it. Errors end here.
func (t *Telemetry) flush(batch []types.QueuedEvent) {
	t.mu.Lock()
	mirror := t.mirror
	env := t.envelopeLocked(batch)
	t.mu.Unlock()

	if mirror != nil {
		if err := mirror.Append(batch); err != nil {
			t.stats.mirrorErrors.Add(1)
			t.log.Warn("telemetry: mirror write failed", "path", mirror.Path(), "err", err)
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		t.stats.batchesFailed.Add(1)
		t.log.Error("telemetry: encode batch", "events", len(batch), "err", err)
		return
	}

	if err := t.poster.PostJSON(t.ctx, t.eventsURL, body); err != nil {
		t.stats.batchesFailed.Add(1)
		t.log.Warn("telemetry: flush failed, batch dropped",
			"url", t.eventsURL, "events", len(batch), "err", err)
		return
	}

	t.stats.batchesSent.Add(1)
	t.stats.flushed.Add(uint64(len(batch)))
	t.log.Debug("telemetry: batch delivered", "events", len(batch), "bytes", len(body))
}

func (t *Telemetry) envelopeLocked(batch []types.QueuedEvent) types.BatchEnvelope {
	return types.BatchEnvelope{
		Token:          t.token,
		InstallationID: types.Optional(t.installationID),
		AppVersion:     types.Optional(t.identity.AppVersion),
		OSName:         t.identity.OSName,
		OSVersion:      types.Optional(t.identity.OSVersion),
		Architecture:   t.identity.Architecture,
		ReleaseChannel: types.Optional(t.identity.ReleaseChannel),
		Events:         batch,
	}
}

// Shutdown stops accepting events, flushes what is queued when an
// installation id is known, and waits for every in-flight flush. If ctx ends
// first, pending posts are cancelled and ctx's error is returned.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	var batch []types.QueuedEvent
	if !t.closed {
		t.closed = true
		if t.installationID != "" {
			batch = t.takeQueueLocked()
		} else {
			t.stopTimerLocked()
			if n := len(t.queue); n > 0 {
				t.log.Info("telemetry: dropping events queued before start", "events", n)
			}
			t.queue = nil
		}
	}
	t.mu.Unlock()
	t.dispatch(batch)

	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		return fmt.Errorf("telemetry: shutdown: %w", ctx.Err())
	}
}

// MetricsID returns the signed-in user's metrics id, or "".
func (t *Telemetry) MetricsID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsID
}

// InstallationID returns the id passed to Start, or "".
func (t *Telemetry) InstallationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installationID
}

// IsStaff reports the staff flag; known is false until a user signs in.
func (t *Telemetry) IsStaff() (isStaff, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isStaff == nil {
		return false, false
	}
	return *t.isStaff, true
}

// LogFilePath returns the path of the local mirror, or "" when none is set.
func (t *Telemetry) LogFilePath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mirror == nil {
		return ""
	}
	return t.mirror.Path()
}

// QueueLen returns the number of events waiting for the next flush.
func (t *Telemetry) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Stats returns the current counters.
func (t *Telemetry) Stats() Stats {
	return t.stats.snapshot(t.QueueLen())
}
