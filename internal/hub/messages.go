package hub

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
)

// Client message types.
const (
	MsgSubscribeJob      = "subscribe:job"
	MsgUnsubscribeJob    = "unsubscribe:job"
	MsgSubscribeQueue    = "subscribe:queue"
	MsgUnsubscribeQueue  = "unsubscribe:queue"
	MsgSubscribeMemory   = "subscribe:memory"
	MsgUnsubscribeMemory = "unsubscribe:memory"
)

// Server message types.
const (
	MsgConnected   = "connected"
	MsgJobProgress = "job:progress"
	MsgJobFinished = "job:finished"
	MsgQueueStats  = "queue:stats"
	MsgMemoryStats = "memory:stats"
	MsgShutdown    = "server:shutdown"
	MsgError       = "error"
)

// JobStatus is the terminal state reported in a job:finished event.
type JobStatus string

const (
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// ClientMessage is the inbound subscribe/unsubscribe frame.
type ClientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
}

// ConnectedMessage acknowledges a fresh session immediately after handshake.
type ConnectedMessage struct {
	Type       string   `json:"type"`
	SessionID  string   `json:"sessionId"`
	ServerTime int64    `json:"serverTime"`
	Features   []string `json:"features"`
}

// AckMessage echoes a processed subscribe or unsubscribe.
type AckMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
}

// ProgressMessage reports job progress to subscribers.
type ProgressMessage struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FinishedMessage reports a job's terminal state to subscribers.
type FinishedMessage struct {
	Type      string    `json:"type"`
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// QueueStats is a snapshot of the job queue pushed to queue subscribers.
type QueueStats struct {
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// MemoryStats is a process memory snapshot pushed to memory subscribers.
type MemoryStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

type statsMessage[T any] struct {
	Type  string `json:"type"`
	Stats T      `json:"stats"`
}

// ShutdownMessage is broadcast to every live session before graceful close.
type ShutdownMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage reports a rejected client frame.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// subscriptionOp is a parsed client frame: which key, and whether it
// subscribes or unsubscribes.
type subscriptionOp struct {
	key       Key
	subscribe bool
}

// parseClientMessage validates an inbound frame and resolves it to a
// subscription operation. A parse failure leaves the index untouched; the
// caller reports the error frame and keeps the connection open.
func parseClientMessage(data []byte) (subscriptionOp, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return subscriptionOp{}, apperrors.SubscriptionError("malformed message")
	}

	var op subscriptionOp
	switch msg.Type {
	case MsgSubscribeJob:
		op = subscriptionOp{key: JobKey(msg.JobID), subscribe: true}
	case MsgUnsubscribeJob:
		op = subscriptionOp{key: JobKey(msg.JobID)}
	case MsgSubscribeQueue:
		op = subscriptionOp{key: QueueKey(), subscribe: true}
	case MsgUnsubscribeQueue:
		op = subscriptionOp{key: QueueKey()}
	case MsgSubscribeMemory:
		op = subscriptionOp{key: MemoryKey(), subscribe: true}
	case MsgUnsubscribeMemory:
		op = subscriptionOp{key: MemoryKey()}
	default:
		return subscriptionOp{}, apperrors.SubscriptionError(fmt.Sprintf("unknown message type %q", msg.Type))
	}

	if err := op.key.validate(); err != nil {
		return subscriptionOp{}, err
	}
	return op, nil
}

// ackType maps a processed operation to its echo frame type.
func ackType(op subscriptionOp) string {
	verb := "unsubscribed"
	if op.subscribe {
		verb = "subscribed"
	}
	return fmt.Sprintf("%s:%s", verb, op.key.Kind)
}
