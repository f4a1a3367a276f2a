package httpx

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedTransport is a client-side http.RoundTripper that waits for a
// token before each request. The wait honours the request context, so a
// cancelled request never reaches the network.
type RateLimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

// NewRateLimitedTransport wraps base (http.DefaultTransport when nil).
func NewRateLimitedTransport(base http.RoundTripper, cfg RateLimitConfig) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	burst := max(cfg.Burst, 1)
	return &RateLimitedTransport{Base: base, Limiter: rate.NewLimiter(cfg.Limit(), burst)}
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
