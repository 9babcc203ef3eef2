package shipper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/obsidianstack/telemetry/agent/internal/config"
)

const payload = `{"token":"t","events":[{"signed_in":false,"type":"Editor","operation":"open"}]}`

// capture records the last request seen by a test server.
type capture struct {
	mu       sync.Mutex
	body     []byte
	header   http.Header
	proto    int
	requests int
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.body = body
		c.header = r.Header.Clone()
		c.proto = r.ProtoMajor
		c.requests++
		c.mu.Unlock()
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("invalid token\n"))
		}
	}
}

func newShipper(t *testing.T, cfg config.CollectorConfig) *Shipper {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPostJSON_Uncompressed(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := newShipper(t, config.CollectorConfig{Compression: "none"})
	if err := s.PostJSON(context.Background(), srv.URL+"/api/events", []byte(payload)); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}

	if string(c.body) != payload {
		t.Errorf("body = %s, want %s", c.body, payload)
	}
	if got := c.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := c.header.Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none", got)
	}
}

func TestPostJSON_Gzip(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusAccepted))
	defer srv.Close()

	s := newShipper(t, config.CollectorConfig{Compression: "gzip"})
	if err := s.PostJSON(context.Background(), srv.URL, []byte(payload)); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}

	if got := c.header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(bytes.NewReader(c.body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if string(plain) != payload {
		t.Errorf("decoded body = %s", plain)
	}
}

func TestPostJSON_Zstd(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := newShipper(t, config.CollectorConfig{Compression: "zstd"})
	if err := s.PostJSON(context.Background(), srv.URL, []byte(payload)); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}

	if got := c.header.Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("Content-Encoding = %q, want zstd", got)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(c.body, nil)
	if err != nil {
		t.Fatalf("zstd decode: %v", err)
	}
	if string(plain) != payload {
		t.Errorf("decoded body = %s", plain)
	}
}

func TestPostJSON_NonSuccessIsStatusError(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusUnauthorized))
	defer srv.Close()

	s := newShipper(t, config.CollectorConfig{Compression: "none"})
	err := s.PostJSON(context.Background(), srv.URL, []byte(payload))

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusUnauthorized || se.Body != "invalid token" {
		t.Errorf("StatusError = %+v", se)
	}
	if c.requests != 1 {
		t.Errorf("requests = %d, want exactly 1 (no retry)", c.requests)
	}
}

func TestPostJSON_AuthHeaders(t *testing.T) {
	t.Setenv("TEST_COLLECTOR_KEY", "k-123")
	t.Setenv("TEST_COLLECTOR_TOKEN", "tok-456")

	tests := []struct {
		name   string
		auth   config.AuthConfig
		header string
		want   string
	}{
		{"apikey", config.AuthConfig{Mode: "apikey", Header: "x-api-key", KeyEnv: "TEST_COLLECTOR_KEY"}, "X-Api-Key", "k-123"},
		{"bearer", config.AuthConfig{Mode: "bearer", TokenEnv: "TEST_COLLECTOR_TOKEN"}, "Authorization", "Bearer tok-456"},
		{"none", config.AuthConfig{Mode: "none"}, "Authorization", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c capture
			srv := httptest.NewServer(c.handler(http.StatusOK))
			defer srv.Close()

			s := newShipper(t, config.CollectorConfig{Compression: "none", Auth: tc.auth})
			if err := s.PostJSON(context.Background(), srv.URL, []byte(payload)); err != nil {
				t.Fatalf("PostJSON: %v", err)
			}
			if got := c.header.Get(tc.header); got != tc.want {
				t.Errorf("%s = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestPostJSON_HTTP2(t *testing.T) {
	var c capture
	srv := httptest.NewUnstartedServer(c.handler(http.StatusOK))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	s := newShipper(t, config.CollectorConfig{
		Compression: "gzip",
		HTTP2:       true,
		TLS:         config.TLSConfig{InsecureSkipVerify: true},
	})
	if err := s.PostJSON(context.Background(), srv.URL, []byte(payload)); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if c.proto != 2 {
		t.Errorf("request protocol = HTTP/%d, want HTTP/2", c.proto)
	}
}

func TestPostJSON_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	s := newShipper(t, config.CollectorConfig{Compression: "none"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.PostJSON(ctx, srv.URL, []byte(payload))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(config.CollectorConfig{Compression: "brotli"}); err == nil {
		t.Error("expected error for unknown compression")
	}
	if _, err := New(config.CollectorConfig{Auth: config.AuthConfig{Mode: "mtls", CertFile: "/nope.crt", KeyFile: "/nope.key"}}); err == nil {
		t.Error("expected error for missing client cert")
	}
	if _, err := New(config.CollectorConfig{Auth: config.AuthConfig{CAFile: "/nope-ca.pem"}}); err == nil {
		t.Error("expected error for missing ca file")
	}
}
