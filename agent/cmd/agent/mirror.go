package main

import (
	"log/slog"
	"sync"

	"github.com/obsidianstack/telemetry/agent/internal/logmirror"
	"github.com/obsidianstack/telemetry/agent/internal/telemetry"
)

// mirrorSwitch opens the local event log when diagnostics are turned on and
// detaches it when they are turned off. The file stays open until close so
// that toggling back on keeps appending to the same log.
type mirrorSwitch struct {
	tel  *telemetry.Telemetry
	path string // empty means a temp file

	mu     sync.Mutex
	mirror *logmirror.Mirror
	closed bool
}

func (m *mirrorSwitch) set(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if !enabled {
		m.tel.SetMirror(nil)
		return
	}
	if m.mirror == nil {
		var (
			mirror *logmirror.Mirror
			err    error
		)
		if m.path != "" {
			mirror, err = logmirror.Open(m.path)
		} else {
			mirror, err = logmirror.OpenTemp("")
		}
		if err != nil {
			slog.Warn("event log unavailable", "err", err)
			return
		}
		m.mirror = mirror
		slog.Info("mirroring events to local log", "path", mirror.Path())
	}
	m.tel.SetMirror(m.mirror)
}

func (m *mirrorSwitch) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.mirror == nil {
		return
	}
	m.tel.SetMirror(nil)
	if err := m.mirror.Close(); err != nil {
		slog.Warn("close event log", "path", m.mirror.Path(), "err", err)
	}
	m.mirror = nil
}
