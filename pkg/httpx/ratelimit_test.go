package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIPKeyExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", want: "192.168.1.1"},
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 192.168.1.1"}, want: "203.0.113.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "203.0.113.2"}, want: "203.0.113.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, httpx.IPKeyExtractor(req))
		})
	}
}

func TestCompositeKeyExtractor(t *testing.T) {
	t.Parallel()

	extractor := httpx.CompositeKeyExtractor(":",
		httpx.IPKeyExtractor,
		httpx.FormFieldKeyExtractor("username"),
	)

	t.Run("posted form", func(t *testing.T) {
		form := url.Values{"username": {"bob"}}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "10.0.0.1:1"
		require.Equal(t, "10.0.0.1:bob", extractor(req))
	})

	t.Run("skips empty values", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1"
		require.Equal(t, "10.0.0.1", extractor(req))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("blocks requests over limit", func(t *testing.T) {
		cfg := httpx.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 3}
		h := httpx.RateLimitByIP(cfg)(okHandler())

		for i := range 3 {
			require.Equal(t, http.StatusOK, hit(h, "/", "192.168.1.1:1").Code, "request %d", i+1)
		}

		rec := hit(h, "/", "192.168.1.1:1")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, "1m0s", rec.Header().Get("X-RateLimit-Window"))
		require.Contains(t, rec.Body.String(), "rate_limit_exceeded")

		// Another client is unaffected.
		require.Equal(t, http.StatusOK, hit(h, "/", "192.168.1.2:1").Code)
	})

	t.Run("ip and username are tracked together", func(t *testing.T) {
		cfg := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
		h := httpx.RateLimitByIPAndFormField(cfg, "username")(okHandler())

		require.Equal(t, http.StatusOK, hit(h, "/?username=alice", "10.0.0.1:1").Code)
		require.Equal(t, http.StatusTooManyRequests, hit(h, "/?username=alice", "10.0.0.1:1").Code)
		require.Equal(t, http.StatusOK, hit(h, "/?username=bob", "10.0.0.1:1").Code)
	})

	t.Run("no key means no limit", func(t *testing.T) {
		cfg := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
		h := httpx.RateLimitMiddleware(cfg, func(*http.Request) string { return "" })(okHandler())

		for range 3 {
			require.Equal(t, http.StatusOK, hit(h, "/", "").Code)
		}
	})
}

func TestRateLimitedTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(okHandler())
	t.Cleanup(srv.Close)

	cfg := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 1}
	client := &http.Client{Transport: httpx.NewRateLimitedTransport(nil, cfg)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	// The bucket is empty; a short deadline must fail before the request is sent.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mw("outer"), mw("inner"))
	hit(h, "/", "10.0.0.1:1")
	require.Equal(t, []string{"outer", "inner"}, order)
}
