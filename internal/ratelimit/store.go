package ratelimit

// TierStore exposes one tier of the limiter through the interface echo's
// rate-limiter middleware expects, so HTTP throttling and direct CheckLimit
// callers share the same windows.
type TierStore struct {
	limiter *Limiter
	tier    string
}

// NewTierStore binds a tier of the limiter to echo's RateLimiterStore shape.
func NewTierStore(limiter *Limiter, tier string) *TierStore {
	return &TierStore{limiter: limiter, tier: tier}
}

// Allow implements echo middleware.RateLimiterStore.
func (s *TierStore) Allow(identifier string) (bool, error) {
	return s.limiter.CheckLimit(s.tier, identifier).Allowed, nil
}
