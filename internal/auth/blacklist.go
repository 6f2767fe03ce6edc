package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/metrics"
)

// Blacklist holds revoked token IDs until the token carrying them could no
// longer be valid anyway. Entries expire with the token's maximum lifetime,
// so the set stays bounded by the revocation rate.
type Blacklist struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist(clock clockwork.Clock) *Blacklist {
	return &Blacklist{
		clock:   clock,
		entries: make(map[string]time.Time),
	}
}

// Add revokes the given jti until expiry.
func (b *Blacklist) Add(jti string, expiry time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = expiry
	metrics.AuthBlacklistSize.Set(float64(len(b.entries)))
}

// Contains reports whether jti is currently revoked. Expired entries are
// treated as absent even before the next prune pass.
func (b *Blacklist) Contains(jti string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.entries[jti]
	return ok && b.clock.Now().Before(expiry)
}

// Prune drops entries whose expiry has passed.
func (b *Blacklist) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for jti, expiry := range b.entries {
		if !now.Before(expiry) {
			delete(b.entries, jti)
		}
	}
	metrics.AuthBlacklistSize.Set(float64(len(b.entries)))
}

// Len returns the number of live entries.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Run prunes periodically until ctx is cancelled.
func (b *Blacklist) Run(ctx context.Context, interval time.Duration) {
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.Prune()
		}
	}
}
