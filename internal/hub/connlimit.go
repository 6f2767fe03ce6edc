package hub

import "sync"

// HostLimiter caps concurrent realtime connections per client host, so a
// single misbehaving source cannot occupy every session slot.
type HostLimiter struct {
	mu     sync.Mutex
	hosts  map[string]int
	maxPer int
}

// NewHostLimiter creates a limiter allowing maxPer concurrent connections
// per host.
func NewHostLimiter(maxPer int) *HostLimiter {
	return &HostLimiter{
		hosts:  make(map[string]int),
		maxPer: maxPer,
	}
}

// Acquire claims a connection slot for the host. Returns false when the host
// is at its limit.
func (l *HostLimiter) Acquire(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hosts[host] >= l.maxPer {
		return false
	}
	l.hosts[host]++
	return true
}

// Release frees a connection slot for the host. Releasing below zero is a
// no-op, so a stray release never corrupts the count.
func (l *HostLimiter) Release(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.hosts[host]; count > 0 {
		l.hosts[host] = count - 1
		if l.hosts[host] == 0 {
			delete(l.hosts, host)
		}
	}
}

// Count returns the host's current connection count.
func (l *HostLimiter) Count(host string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hosts[host]
}

// ActiveHosts returns the number of hosts holding at least one slot.
func (l *HostLimiter) ActiveHosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}
