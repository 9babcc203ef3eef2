// Package logmirror appends flushed telemetry events to a local file, one
// JSON object per line, so a user can inspect exactly what was sent.
package logmirror

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/obsidianstack/telemetry/pkg/types"
)

// Mirror is an append-only JSON-lines file. Safe for concurrent use.
type Mirror struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Mirror, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("logmirror: open %s: %w", path, err)
	}
	return &Mirror{file: f, path: path}, nil
}

// OpenTemp creates a new uniquely named mirror file in dir. An empty dir
// uses the system temp directory.
func OpenTemp(dir string) (*Mirror, error) {
	f, err := os.CreateTemp(dir, "telemetry-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("logmirror: create temp file: %w", err)
	}
	return &Mirror{file: f, path: f.Name()}, nil
}

// Path returns the file the mirror writes to.
func (m *Mirror) Path() string { return m.path }

// Append writes each event on its own line. An event that fails to encode
// is skipped; the remaining events are still written and the errors are
// returned joined.
func (m *Mirror) Append(events []types.QueuedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return fmt.Errorf("logmirror: %s is closed", m.path)
	}

	w := bufio.NewWriter(m.file)
	var errs []error
	for i, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("logmirror: encode event %d: %w", i, err))
			continue
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			errs = append(errs, fmt.Errorf("logmirror: write %s: %w", m.path, err))
			break
		}
	}
	if err := w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("logmirror: flush %s: %w", m.path, err))
	}
	return errors.Join(errs...)
}

// Close closes the underlying file. Appends after Close return an error.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
