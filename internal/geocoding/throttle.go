package geocoding

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle hands out one rate limiter per outbound domain. Callers own the
// value and share it across clients that hit the same hosts.
type Throttle struct {
	mu       sync.Mutex
	rps      rate.Limit
	limiters map[string]*rate.Limiter
}

// NewThrottle allows rps requests per second to each domain, with a burst
// of one.
func NewThrottle(rps float64) *Throttle {
	return &Throttle{rps: rate.Limit(rps), limiters: map[string]*rate.Limiter{}}
}

func (t *Throttle) limiter(domain string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[domain]
	if !ok {
		l = rate.NewLimiter(t.rps, 1)
		t.limiters[domain] = l
	}
	return l
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return t.limiter(u.Hostname()).Wait(ctx)
}
