// Package stats publishes periodic queue and memory statistic snapshots
// through the realtime hub.
package stats

import (
	"context"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/hub"
)

// QueueSnapshotFunc reports the job pipeline's current queue counters. The
// pipeline itself is an external collaborator; it hands the sampler this
// closure at wiring time.
type QueueSnapshotFunc func() hub.QueueStats

// Publisher is the slice of the hub the sampler needs.
type Publisher interface {
	PublishQueueStats(hub.QueueStats)
	PublishMemoryStats(hub.MemoryStats)
	HasSubscribers(hub.Key) bool
}

// Sampler pushes queue:stats and memory:stats snapshots at a fixed interval,
// skipping feeds nobody subscribes to.
type Sampler struct {
	publisher Publisher
	queueFn   QueueSnapshotFunc
	clock     clockwork.Clock
	interval  time.Duration
}

// NewSampler creates a sampler. queueFn may be nil when no pipeline is
// wired; the queue feed then stays silent.
func NewSampler(publisher Publisher, queueFn QueueSnapshotFunc, clock clockwork.Clock, interval time.Duration) *Sampler {
	return &Sampler{
		publisher: publisher,
		queueFn:   queueFn,
		clock:     clock,
		interval:  interval,
	}
}

// Run publishes snapshots until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if s.queueFn != nil && s.publisher.HasSubscribers(hub.QueueKey()) {
		s.publisher.PublishQueueStats(s.queueFn())
	}

	if s.publisher.HasSubscribers(hub.MemoryKey()) {
		s.publisher.PublishMemoryStats(readMemoryStats())
	}
}

func readMemoryStats() hub.MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return hub.MemoryStats{
		HeapAllocBytes: m.HeapAlloc,
		HeapSysBytes:   m.Sys,
		NumGC:          m.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
}
