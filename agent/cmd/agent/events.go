package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/obsidianstack/telemetry/pkg/types"
)

// maxLineBytes bounds one stdin event line.
const maxLineBytes = 1 << 20

// readEvents decodes newline-delimited JSON events from r and passes each to
// report. Lines use the flattened wire record format; a signed_in field, if
// present, is ignored because it is captured at report time. Blank lines are
// skipped; malformed lines are logged and skipped. It returns the number of
// events reported once r is exhausted.
func readEvents(r io.Reader, report func(types.Event)) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	n, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec types.QueuedEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed event", "line", lineNo, "err", err)
			continue
		}
		report(rec.Event)
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read events: %w", err)
	}
	return n, nil
}
