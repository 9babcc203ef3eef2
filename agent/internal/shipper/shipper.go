package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/http2"

	"github.com/obsidianstack/telemetry/agent/internal/config"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned by PostJSON when the collector answers with a
// non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("shipper: collector returned %d", e.Code)
	}
	return fmt.Sprintf("shipper: collector returned %d: %s", e.Code, e.Body)
}

// Shipper posts JSON payloads to the collector. It makes exactly one
// attempt per call; retries are left to the caller.
type Shipper struct {
	client      *http.Client
	compression string
	zenc        *zstd.Encoder // set when compression == "zstd"
}

// New builds a Shipper for the collector settings in cfg.
func New(cfg config.CollectorConfig) (*Shipper, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("shipper: build http client: %w", err)
	}

	s := &Shipper{client: client, compression: cfg.Compression}
	switch cfg.Compression {
	case "zstd":
		s.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("shipper: zstd encoder: %w", err)
		}
	case "gzip", "none", "":
	default:
		return nil, fmt.Errorf("shipper: unsupported compression %q", cfg.Compression)
	}
	return s, nil
}

// PostJSON sends body to url as application/json, compressed according to
// the configured encoding. Any non-2xx status is returned as *StatusError.
func (s *Shipper) PostJSON(ctx context.Context, url string, body []byte) error {
	payload, encoding, err := s.encode(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shipper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("shipper: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	slog.Debug("shipper: posted", "url", url, "status", resp.StatusCode,
		"bytes", len(payload), "encoding", encoding)
	return nil
}

// encode compresses body and returns the Content-Encoding to send with it.
func (s *Shipper) encode(body []byte) ([]byte, string, error) {
	switch s.compression {
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, "", fmt.Errorf("shipper: gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, "", fmt.Errorf("shipper: gzip: %w", err)
		}
		return buf.Bytes(), "gzip", nil
	case "zstd":
		return s.zenc.EncodeAll(body, make([]byte, 0, len(body)/2)), "zstd", nil
	default:
		return body, "", nil
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the collector's auth, TLS
// and protocol settings.
func buildHTTPClient(cfg config.CollectorConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if cfg.Auth.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.Auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.Auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	var base http.RoundTripper
	if cfg.HTTP2 {
		base = &http2.Transport{TLSClientConfig: tlsCfg}
	} else {
		base = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: cfg.Auth},
		Timeout:   cfg.Timeout,
	}, nil
}
