// Package ratelimit implements per-host token buckets applied before each fetch.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlgrep/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive PerHostRPS means
// unlimited.
type Config struct {
	PerHostRPS float64
	Burst      int
}

// Limiter hands out one token bucket per host, created on first use.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter. Burst defaults to 1.
func New(cfg Config) *Limiter {
	metrics.Init()
	l := &Limiter{
		limit:   rate.Inf,
		burst:   max(cfg.Burst, 1),
		buckets: map[string]*rate.Limiter{},
	}
	if cfg.PerHostRPS > 0 {
		l.limit = rate.Limit(cfg.PerHostRPS)
	}
	return l
}

// Unlimited reports whether Wait can never block.
func (l *Limiter) Unlimited() bool {
	return l.limit == rate.Inf
}

// Wait blocks until a token is available for the URL's host, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l.Unlimited() {
		return nil
	}
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available cost no measurable delay.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Hosts reports how many distinct hosts have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[host] = b
	}
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
