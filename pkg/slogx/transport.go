package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport is the client-side counterpart of HTTPMiddleware: it logs every
// outgoing request at debug level and failures at warn.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.Logger.With(
		"req_id", req.Header.Get(RequestIDHeader),
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	resp, err := t.Base.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		log.Warn("http_client_request failed", "error", err, "duration_ms", elapsed)
		return nil, err
	}

	log.Debug("http_client_request", "status", resp.StatusCode, "duration_ms", elapsed)
	return resp, nil
}
