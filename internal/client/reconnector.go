// Package client implements the client-side mirror of the realtime core: a
// connection state machine with exponential-backoff reconnection and
// subscription replay. Subscription state is client-owned and survives
// reconnects, since the server holds no durable record of it.
package client

import (
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/hub"
	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
)

// State is the connection state machine position.
type State int

const (
	// Disconnected means no transport and no dial in flight.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means the transport is open.
	Connected
	// ExhaustedRetries is terminal: the attempt budget is spent and only an
	// explicit Connect resumes.
	ExhaustedRetries
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ExhaustedRetries:
		return "exhausted_retries"
	default:
		return "unknown"
	}
}

// NotificationKind distinguishes lifecycle notifications.
type NotificationKind string

const (
	NotifyConnected    NotificationKind = "connected"
	NotifyDisconnected NotificationKind = "disconnected"
	NotifyExhausted    NotificationKind = "exhausted"
)

// Notification reports a connection lifecycle transition.
type Notification struct {
	Kind    NotificationKind
	Attempt int
	Err     error
}

// Config tunes the reconnector.
type Config struct {
	// URL is the realtime endpoint (ws:// or wss://).
	URL string
	// Token is sent as a bearer credential on the handshake.
	Token string
	// MaxAttempts caps consecutive failed connection attempts.
	MaxAttempts int
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration
	// GrowthFactor multiplies the delay per failed attempt.
	GrowthFactor float64
}

// Reconnector maintains one realtime connection, reconnecting with
// exponential backoff on abnormal closes and replaying held subscriptions
// once the transport reopens.
type Reconnector struct {
	cfg       Config
	clock     clockwork.Clock
	dialer    *websocket.Dialer
	onNotify  func(Notification)
	onMessage func([]byte)

	mu         sync.Mutex
	state      State
	attempts   int
	retryTimer clockwork.Timer
	conn       *websocket.Conn
	generation int
	manual     bool

	jobs        map[string]struct{}
	queueStats  bool
	memoryStats bool

	writeMu sync.Mutex
}

// NewReconnector creates a reconnector in the Disconnected state. onNotify
// and onMessage may be nil; onMessage receives every raw inbound frame.
func NewReconnector(cfg Config, clock clockwork.Clock, onNotify func(Notification), onMessage func([]byte)) *Reconnector {
	return &Reconnector{
		cfg:       cfg,
		clock:     clock,
		dialer:    websocket.DefaultDialer,
		onNotify:  onNotify,
		onMessage: onMessage,
		jobs:      make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect starts a connection attempt. It is a no-op while Connecting or
// Connected, guarding against duplicate concurrent attempts; from
// ExhaustedRetries it resets the attempt counter and resumes.
func (r *Reconnector) Connect() {
	r.mu.Lock()
	if r.state == Connecting || r.state == Connected {
		r.mu.Unlock()
		return
	}
	r.cancelRetryLocked()
	r.attempts = 0
	r.state = Connecting
	r.mu.Unlock()

	go r.dial()
}

// Disconnect closes the transport deliberately: any pending reconnect timer
// is cancelled, the attempt counter resets, and no reconnect is scheduled.
func (r *Reconnector) Disconnect() {
	r.mu.Lock()
	r.cancelRetryLocked()
	r.attempts = 0

	switch r.state {
	case Connected:
		r.manual = true
		conn := r.conn
		r.mu.Unlock()
		r.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		_ = conn.Close()
		return
	case Connecting:
		// The in-flight dial observes the state change and abandons its
		// result.
		r.state = Disconnected
	default:
		r.state = Disconnected
	}
	r.mu.Unlock()
}

// SubscribeJob adds jobID to the held set and, if connected, sends the
// subscribe frame immediately.
func (r *Reconnector) SubscribeJob(jobID string) {
	r.mu.Lock()
	r.jobs[jobID] = struct{}{}
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgSubscribeJob, JobID: jobID})
}

// UnsubscribeJob drops jobID from the held set and notifies the server.
func (r *Reconnector) UnsubscribeJob(jobID string) {
	r.mu.Lock()
	delete(r.jobs, jobID)
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgUnsubscribeJob, JobID: jobID})
}

// SubscribeQueueStats holds the queue-stats flag across reconnects.
func (r *Reconnector) SubscribeQueueStats() {
	r.mu.Lock()
	r.queueStats = true
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgSubscribeQueue})
}

// UnsubscribeQueueStats clears the queue-stats flag.
func (r *Reconnector) UnsubscribeQueueStats() {
	r.mu.Lock()
	r.queueStats = false
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgUnsubscribeQueue})
}

// SubscribeMemoryStats holds the memory-stats flag across reconnects.
func (r *Reconnector) SubscribeMemoryStats() {
	r.mu.Lock()
	r.memoryStats = true
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgSubscribeMemory})
}

// UnsubscribeMemoryStats clears the memory-stats flag.
func (r *Reconnector) UnsubscribeMemoryStats() {
	r.mu.Lock()
	r.memoryStats = false
	conn := r.connectedConnLocked()
	r.mu.Unlock()
	r.sendFrame(conn, hub.ClientMessage{Type: hub.MsgUnsubscribeMemory})
}

func (r *Reconnector) connectedConnLocked() *websocket.Conn {
	if r.state == Connected {
		return r.conn
	}
	return nil
}

func (r *Reconnector) dial() {
	header := http.Header{}
	if r.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	conn, resp, err := r.dialer.Dial(r.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	r.mu.Lock()
	if r.state != Connecting {
		// Disconnected while dialing; abandon the result.
		r.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		notification := r.handleFailureLocked(err)
		r.mu.Unlock()
		r.notify(notification)
		return
	}

	r.conn = conn
	r.state = Connected
	r.attempts = 0
	r.manual = false
	r.generation++
	gen := r.generation
	replay := r.replayFramesLocked()
	r.mu.Unlock()

	r.notify(&Notification{Kind: NotifyConnected})

	for _, frame := range replay {
		r.sendFrame(conn, frame)
	}

	go r.readLoop(conn, gen)
}

// replayFramesLocked rebuilds the subscribe frames for every held
// subscription: the stats flags plus each job in the held set.
func (r *Reconnector) replayFramesLocked() []hub.ClientMessage {
	frames := make([]hub.ClientMessage, 0, len(r.jobs)+2)
	if r.queueStats {
		frames = append(frames, hub.ClientMessage{Type: hub.MsgSubscribeQueue})
	}
	if r.memoryStats {
		frames = append(frames, hub.ClientMessage{Type: hub.MsgSubscribeMemory})
	}
	for jobID := range r.jobs {
		frames = append(frames, hub.ClientMessage{Type: hub.MsgSubscribeJob, JobID: jobID})
	}
	return frames
}

func (r *Reconnector) readLoop(conn *websocket.Conn, gen int) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if r.onMessage != nil {
			r.onMessage(data)
		}
	}
	_ = conn.Close()

	r.mu.Lock()
	if gen != r.generation || r.state != Connected {
		// A newer connection already replaced this one.
		r.mu.Unlock()
		return
	}
	r.conn = nil

	if r.manual {
		r.manual = false
		r.state = Disconnected
		r.mu.Unlock()
		r.notify(&Notification{Kind: NotifyDisconnected})
		return
	}

	notification := r.handleFailureLocked(readErr)
	r.mu.Unlock()
	r.notify(notification)
}

// handleFailureLocked processes one failed attempt or abnormal close:
// either schedules the next attempt after the backoff delay or transitions
// to the terminal exhausted state. At most one retry timer is ever pending.
func (r *Reconnector) handleFailureLocked(err error) *Notification {
	r.attempts++

	if r.attempts >= r.cfg.MaxAttempts {
		r.state = ExhaustedRetries
		slog.Warn("Reconnect attempts exhausted", "attempts", r.attempts, "error", err)
		exhausted := apperrors.ExhaustedRetriesError(r.attempts)
		exhausted.Cause = err
		return &Notification{Kind: NotifyExhausted, Attempt: r.attempts, Err: exhausted}
	}

	delay := r.backoffDelay(r.attempts)
	r.state = Disconnected
	r.cancelRetryLocked()
	r.retryTimer = r.clock.AfterFunc(delay, r.retryFire)

	slog.Info("Scheduling reconnect", "attempt", r.attempts, "delay", delay, "error", err)
	return &Notification{Kind: NotifyDisconnected, Attempt: r.attempts, Err: apperrors.TransportError("connection lost", err)}
}

func (r *Reconnector) retryFire() {
	r.mu.Lock()
	if r.retryTimer == nil || r.state != Disconnected {
		// Cancelled by an explicit Disconnect or superseded by a manual
		// Connect between firing and acquiring the lock.
		r.mu.Unlock()
		return
	}
	r.retryTimer = nil
	r.state = Connecting
	r.mu.Unlock()

	r.dial()
}

func (r *Reconnector) cancelRetryLocked() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}

// backoffDelay computes base * growth^(attempt-1).
func (r *Reconnector) backoffDelay(attempt int) time.Duration {
	factor := math.Pow(r.cfg.GrowthFactor, float64(attempt-1))
	return time.Duration(float64(r.cfg.BaseDelay) * factor)
}

func (r *Reconnector) sendFrame(conn *websocket.Conn, frame hub.ClientMessage) {
	if conn == nil {
		return
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		slog.Debug("Frame write failed", "type", frame.Type, "error", err)
	}
}

func (r *Reconnector) notify(n *Notification) {
	if n == nil || r.onNotify == nil {
		return
	}
	r.onNotify(*n)
}
