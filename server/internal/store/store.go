package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/telemetry/pkg/types"
)

// Identity is the descriptive part of the most recent envelope received
// from an installation.
type Identity struct {
	AppVersion     string
	OSName         string
	OSVersion      string
	Architecture   string
	ReleaseChannel string
}

// Entry is the aggregate state of one installation.
type Entry struct {
	InstallationID string
	Identity       Identity

	Batches        int
	Events         int
	SignedInEvents int
	EventsByType   map[types.EventType]int

	FirstSeen time.Time
	UpdatedAt time.Time
}

func (e *Entry) clone() *Entry {
	c := *e
	c.EventsByType = make(map[types.EventType]int, len(e.EventsByType))
	for k, v := range e.EventsByType {
		c.EventsByType[k] = v
	}
	return &c
}

// Store is a thread-safe in-memory installation store, keyed by
// installation id. A background goroutine (Run) periodically evicts
// installations that have not sent a batch within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put folds env into the entry for its installation id and returns a copy
// of the updated entry. Envelopes without an installation id are ignored.
func (s *Store) Put(env *types.BatchEnvelope) *Entry {
	id := types.Deref(env.InstallationID)
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.data[id]
	if !ok {
		e = &Entry{
			InstallationID: id,
			EventsByType:   make(map[types.EventType]int),
			FirstSeen:      now,
		}
		s.data[id] = e
	}

	e.Identity = Identity{
		AppVersion:     types.Deref(env.AppVersion),
		OSName:         env.OSName,
		OSVersion:      types.Deref(env.OSVersion),
		Architecture:   env.Architecture,
		ReleaseChannel: types.Deref(env.ReleaseChannel),
	}
	e.Batches++
	e.Events += len(env.Events)
	for _, q := range env.Events {
		if q.SignedIn {
			e.SignedInEvents++
		}
		if q.Event != nil {
			e.EventsByType[q.Event.Type()]++
		}
	}
	e.UpdatedAt = now
	return e.clone()
}

// Get returns a copy of the entry for the given installation id and a
// boolean indicating whether it was found. The entry may be stale if the
// TTL has elapsed.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// List returns copies of all entries updated within the TTL, most recently
// updated first. Stale entries that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].InstallationID < out[j].InstallationID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Live reports whether e was updated within the TTL.
func (s *Store) Live(e *Entry) bool {
	return e.UpdatedAt.After(s.now().Add(-s.ttl))
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so entries are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle installations", "count", n)
			}
		}
	}
}
