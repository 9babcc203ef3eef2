package receiver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/obsidianstack/telemetry/pkg/types"
	"github.com/obsidianstack/telemetry/server/internal/store"
)

// Notifier is told about every batch after it has been stored. e is the
// installation's state including the batch.
type Notifier interface {
	BatchReceived(e *store.Entry, env *types.BatchEnvelope)
}

// Receiver is the HTTP handler for POST /api/events. It decodes each batch
// envelope, records it in the installation store and passes it on to the
// notifier.
type Receiver struct {
	store   *store.Store
	notify  Notifier
	token   string
	maxBody int64
}

// New creates a Receiver that writes accepted batches to st. notify may be
// nil. A non-empty token must match the envelope's token field. maxBody caps
// the decoded body size.
func New(st *store.Store, notify Notifier, token string, maxBody int64) *Receiver {
	return &Receiver{store: st, notify: notify, token: token, maxBody: maxBody}
}

// Response is the body returned for an accepted batch.
type Response struct {
	OK       bool `json:"ok"`
	Accepted int  `json:"accepted"`
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errUnsupportedEncoding) {
			code = http.StatusUnsupportedMediaType
		}
		jsonErr(w, code, err.Error())
		return
	}
	defer body.Close()

	var env types.BatchEnvelope
	limited := http.MaxBytesReader(w, body, rc.maxBody)
	if err := json.NewDecoder(limited).Decode(&env); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "batch too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}

	if rc.token != "" && subtle.ConstantTimeCompare([]byte(env.Token), []byte(rc.token)) != 1 {
		jsonErr(w, http.StatusUnauthorized, "invalid client token")
		return
	}
	if types.Deref(env.InstallationID) == "" {
		jsonErr(w, http.StatusBadRequest, "installation_id is required")
		return
	}

	e := rc.store.Put(&env)
	if rc.notify != nil {
		rc.notify.BatchReceived(e, &env)
	}

	slog.Debug("receiver: batch stored",
		"installation_id", e.InstallationID,
		"events", len(env.Events),
		"app_version", e.Identity.AppVersion,
		"os", e.Identity.OSName,
	)

	jsonResp(w, http.StatusOK, Response{OK: true, Accepted: len(env.Events)})
}

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody unwraps the request body according to its Content-Encoding.
func decodeBody(r *http.Request) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return r.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedEncoding, enc)
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}
