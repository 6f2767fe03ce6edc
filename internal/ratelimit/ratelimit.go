// Package ratelimit implements tiered fixed-window request throttling.
// Each tier keeps an isolated window counter per identifier; windows reset
// lazily on the first check past their deadline, and a periodic sweep
// reclaims identifiers that stopped sending traffic.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/metrics"
)

// Well-known tier names used across the service.
const (
	TierGeneral = "general"
	TierAuth    = "auth"
	TierHeavy   = "heavy"
	TierToken   = "token"
)

// Tier configures one fixed-window counter family.
type Tier struct {
	Name   string
	Max    int
	Window time.Duration
}

// Result is the outcome of a single limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Tier      string
}

type window struct {
	start   time.Time
	resetAt time.Time
	count   int
}

// Limiter tracks fixed windows for every configured tier.
type Limiter struct {
	clock clockwork.Clock

	mu      sync.Mutex
	tiers   map[string]Tier
	windows map[string]map[string]*window
}

// NewLimiter creates a limiter with the given tiers. Checks against an
// unconfigured tier are allowed and logged, never rejected.
func NewLimiter(clock clockwork.Clock, tiers ...Tier) *Limiter {
	l := &Limiter{
		clock:   clock,
		tiers:   make(map[string]Tier, len(tiers)),
		windows: make(map[string]map[string]*window, len(tiers)),
	}
	for _, t := range tiers {
		l.tiers[t.Name] = t
		l.windows[t.Name] = make(map[string]*window)
	}
	return l
}

// CheckLimit counts one request for identifier against the tier's window.
// The first request of a fresh window initializes count=1 and is allowed;
// the request that reaches the maximum is still allowed with Remaining=0;
// anything beyond is rejected with the same ResetAt. The identifier's
// window is tracked even on rejection. Never blocks, never errors.
func (l *Limiter) CheckLimit(tier, identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tiers[tier]
	if !ok {
		slog.Warn("Rate limit check against unconfigured tier", "tier", tier)
		return Result{Allowed: true, Remaining: -1, Tier: tier}
	}

	now := l.clock.Now()
	w, ok := l.windows[tier][identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &window{start: now, resetAt: now.Add(t.Window), count: 0}
		l.windows[tier][identifier] = w
	}

	w.count++
	res := Result{
		Allowed: w.count <= t.Max,
		ResetAt: w.resetAt,
		Tier:    tier,
	}
	if remaining := t.Max - w.count; remaining > 0 {
		res.Remaining = remaining
	}

	outcome := "allowed"
	if !res.Allowed {
		outcome = "rejected"
	}
	metrics.RateLimitChecksTotal.WithLabelValues(tier, outcome).Inc()

	return res
}

// RetryAfterSeconds converts the result's reset deadline into a whole-second
// Retry-After hint, rounded up so clients never retry early.
func (l *Limiter) RetryAfterSeconds(res Result) int {
	remaining := res.ResetAt.Sub(l.clock.Now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// Sweep drops identifiers whose window has expired and received no further
// traffic. Lazy reset keeps CheckLimit correct without this; the sweep only
// bounds memory growth.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for tier, byID := range l.windows {
		for id, w := range byID {
			if !now.Before(w.resetAt) {
				delete(byID, id)
			}
		}
		metrics.RateLimitTrackedIdentifiers.WithLabelValues(tier).Set(float64(len(byID)))
	}
}

// Run sweeps periodically until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.Sweep()
		}
	}
}

// TrackedIdentifiers returns the number of identifiers with live windows in
// the tier.
func (l *Limiter) TrackedIdentifiers(tier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows[tier])
}
