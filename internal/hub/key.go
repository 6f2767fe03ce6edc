package hub

import (
	"fmt"

	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
)

// KeyKind discriminates the subscription key variants.
type KeyKind string

const (
	// KindJob subscribes to a single job's progress and completion events.
	KindJob KeyKind = "job"
	// KindQueue subscribes to periodic queue statistics snapshots.
	KindQueue KeyKind = "queue"
	// KindMemory subscribes to periodic memory statistics snapshots.
	KindMemory KeyKind = "memory"
)

// Key identifies a feed a session wants events for. Keys are opaque: no
// existence check against real jobs happens at subscribe time.
type Key struct {
	Kind  KeyKind
	JobID string
}

// JobKey returns the key for a specific job's events.
func JobKey(jobID string) Key {
	return Key{Kind: KindJob, JobID: jobID}
}

// QueueKey returns the queue-statistics feed key.
func QueueKey() Key {
	return Key{Kind: KindQueue}
}

// MemoryKey returns the memory-statistics feed key.
func MemoryKey() Key {
	return Key{Kind: KindMemory}
}

func (k Key) String() string {
	if k.Kind == KindJob {
		return fmt.Sprintf("job:%s", k.JobID)
	}
	return string(k.Kind)
}

// validate rejects structurally broken keys. Unknown job IDs pass: the only
// subscription failure is a malformed key.
func (k Key) validate() error {
	switch k.Kind {
	case KindJob:
		if k.JobID == "" {
			return apperrors.SubscriptionError("job subscription requires a jobId")
		}
		return nil
	case KindQueue, KindMemory:
		if k.JobID != "" {
			return apperrors.SubscriptionError("stats subscriptions carry no jobId")
		}
		return nil
	default:
		return apperrors.SubscriptionError(fmt.Sprintf("unknown subscription kind %q", k.Kind))
	}
}
