package api

import (
	"sync"

	"SiteSpectra/internal/config"

	"golang.org/x/time/rate"
)

// Best-effort cap on tracked callers. Ingestion is a public surface,
// so the map would otherwise grow with every address ever seen.
const maxTrackedCallers = 16_384

// callerLimiter hands out one token bucket per caller address. It is
// in-process state: under a multi-instance deployment the effective
// limit is per instance, which is acceptable because the limiter only
// exists to blunt abuse, not to enforce a hard cap.
type callerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newCallerLimiter(cfg config.RateLimitConfig) *callerLimiter {
	return &callerLimiter{
		limit:   rate.Limit(cfg.PerSecond),
		burst:   cfg.Burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *callerLimiter) allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= maxTrackedCallers {
		l.buckets = make(map[string]*rate.Limiter)
	}
	b, ok := l.buckets[caller]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[caller] = b
	}
	return b.Allow()
}
