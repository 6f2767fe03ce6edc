package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/metrics"
)

const (
	commandTimeout     = 5 * time.Second
	commandChannelSize = 256
)

// SessionMeta is the client metadata captured at handshake time.
type SessionMeta struct {
	RemoteAddr string
	UserAgent  string
}

// session is one live realtime connection plus its subscription state.
// Sessions are owned exclusively by the hub goroutine.
type session struct {
	id          uuid.UUID
	writer      *clientWriter
	meta        SessionMeta
	connectedAt time.Time
	keys        map[Key]struct{}
}

// Options tune the hub's timers and handshake advertisement.
type Options struct {
	// HeartbeatInterval is the server ping cadence per connection.
	HeartbeatInterval time.Duration
	// GracePeriod keeps a finished job's subscription entry alive for
	// last-moment subscribers before it is pruned.
	GracePeriod time.Duration
	// SweepInterval is the cadence of the dead-session sweep.
	SweepInterval time.Duration
	// Features is advertised in the connected acknowledgment.
	Features []string
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection *websocket.Conn
	meta       SessionMeta
	reply      chan uuid.UUID
}

type removeCmd struct {
	baseHubCmd
	sessionID uuid.UUID
}

type subscribeCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	key       Key
}

type unsubscribeCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	key       Key
}

type publishCmd struct {
	baseHubCmd
	key      Key
	kind     string
	data     []byte
	finished bool
}

type notifyErrorCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	message   string
}

type expireKeyCmd struct {
	baseHubCmd
	key Key
}

type sessionCountCmd struct {
	baseHubCmd
	reply chan int
}

type subscriberCountCmd struct {
	baseHubCmd
	key   Key
	reply chan int
}

type stopCmd struct {
	baseHubCmd
	reason string
}

// Hub tracks live sessions, maintains the subscription reverse index, and
// fans published events out to currently interested, currently live
// sessions. A single goroutine owns all of its state; every mutation goes
// through the command channel, so none of the maps need locks.
type Hub struct {
	cmdCh chan hubCmd
	clock clockwork.Clock
	opts  Options

	sessions    map[uuid.UUID]*session
	index       map[Key]map[uuid.UUID]*session
	graceTimers map[string]clockwork.Timer

	done chan struct{}
}

// New creates and starts a hub.
func New(clock clockwork.Clock, opts Options) *Hub {
	if len(opts.Features) == 0 {
		opts.Features = []string{"jobs", "queue-stats", "memory-stats"}
	}
	h := &Hub{
		cmdCh:       make(chan hubCmd, commandChannelSize),
		clock:       clock,
		opts:        opts,
		sessions:    make(map[uuid.UUID]*session),
		index:       make(map[Key]map[uuid.UUID]*session),
		graceTimers: make(map[string]clockwork.Timer),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

// Register accepts a fresh connection, assigns a session identifier, and
// sends the connected acknowledgment. Registration always succeeds; the
// error covers only a stuck hub.
func (h *Hub) Register(connection *websocket.Conn, meta SessionMeta) (uuid.UUID, error) {
	reply := make(chan uuid.UUID, 1)
	h.cmdCh <- registerCmd{connection: connection, meta: meta, reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-reply:
		return id, nil
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Remove tears a session down and cascades its membership out of every
// subscription set. Removing an unknown session is a no-op.
func (h *Hub) Remove(sessionID uuid.UUID) {
	h.send(removeCmd{sessionID: sessionID})
}

// Subscribe adds the session to the key's subscriber set. Repeat calls are
// no-ops on the set; unknown or already-finished job IDs are accepted, the
// events simply never arrive.
func (h *Hub) Subscribe(sessionID uuid.UUID, key Key) {
	h.send(subscribeCmd{sessionID: sessionID, key: key})
}

// Unsubscribe removes the session's membership and deletes the index entry
// once its set is empty.
func (h *Hub) Unsubscribe(sessionID uuid.UUID, key Key) {
	h.send(unsubscribeCmd{sessionID: sessionID, key: key})
}

// PublishProgress fans a job progress event out to the job's subscribers.
func (h *Hub) PublishProgress(jobID string, percent int, message string) {
	msg := ProgressMessage{
		Type:      MsgJobProgress,
		JobID:     jobID,
		Progress:  percent,
		Message:   message,
		Timestamp: h.clock.Now().UnixMilli(),
	}
	h.publish(JobKey(jobID), "progress", msg, false)
}

// PublishFinished fans a job's terminal event out and schedules the job
// key's subscription entry for deletion after the grace period.
func (h *Hub) PublishFinished(jobID string, status JobStatus, result any, errMsg string) {
	msg := FinishedMessage{
		Type:      MsgJobFinished,
		JobID:     jobID,
		Status:    status,
		Result:    result,
		Error:     errMsg,
		Timestamp: h.clock.Now().UnixMilli(),
	}
	h.publish(JobKey(jobID), "finished", msg, true)
}

// PublishQueueStats pushes a queue snapshot to queue-stats subscribers.
func (h *Hub) PublishQueueStats(stats QueueStats) {
	if stats.Timestamp == 0 {
		stats.Timestamp = h.clock.Now().UnixMilli()
	}
	h.publish(QueueKey(), "queue_stats", statsMessage[QueueStats]{Type: MsgQueueStats, Stats: stats}, false)
}

// PublishMemoryStats pushes a memory snapshot to memory-stats subscribers.
func (h *Hub) PublishMemoryStats(stats MemoryStats) {
	if stats.Timestamp == 0 {
		stats.Timestamp = h.clock.Now().UnixMilli()
	}
	h.publish(MemoryKey(), "memory_stats", statsMessage[MemoryStats]{Type: MsgMemoryStats, Stats: stats}, false)
}

// NotifyError sends an error frame to one session, e.g. after a malformed
// subscribe message. The connection stays open.
func (h *Hub) NotifyError(sessionID uuid.UUID, message string) {
	h.send(notifyErrorCmd{sessionID: sessionID, message: message})
}

// SessionCount returns the number of live sessions, or -1 on a stuck hub.
func (h *Hub) SessionCount() int {
	return h.query(func(reply chan int) hubCmd { return sessionCountCmd{reply: reply} })
}

// SubscriberCount returns the size of the key's subscriber set, or -1 on a
// stuck hub.
func (h *Hub) SubscriberCount(key Key) int {
	return h.query(func(reply chan int) hubCmd { return subscriberCountCmd{key: key, reply: reply} })
}

// HasSubscribers reports whether anyone currently subscribes to the key.
func (h *Hub) HasSubscribers(key Key) bool {
	return h.SubscriberCount(key) > 0
}

// Shutdown broadcasts a shutdown notice to every live session, closes all
// connections with a close frame, and releases registry state. It blocks
// until the hub goroutine exits or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.send(stopCmd{reason: "server shutting down"})

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) publish(key Key, kind string, payload any, finished bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event", "key", key.String(), "error", err)
		return
	}
	metrics.HubEventsPublished.WithLabelValues(kind).Inc()
	h.send(publishCmd{key: key, kind: kind, data: data, finished: finished})
}

// send posts a command unless the hub has already stopped.
func (h *Hub) send(cmd hubCmd) {
	select {
	case h.cmdCh <- cmd:
	case <-h.done:
	}
}

func (h *Hub) query(build func(chan int) hubCmd) int {
	reply := make(chan int, 1)
	h.send(build(reply))

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-timer.Chan():
		slog.Warn("Hub query timed out", "timeout", commandTimeout)
		return -1
	case <-h.done:
		return 0
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.closeAllSessions("internal error")
			close(h.done)
		}
	}()

	sweepTicker := h.clock.NewTicker(h.opts.SweepInterval)
	defer sweepTicker.Stop()

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > commandChannelSize*4/5 {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case <-sweepTicker.Chan():
			h.handleSweep()

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case removeCmd:
				h.handleRemove(c.sessionID)
			case subscribeCmd:
				h.handleSubscribe(c)
			case unsubscribeCmd:
				h.handleUnsubscribe(c)
			case publishCmd:
				h.handlePublish(c)
			case notifyErrorCmd:
				h.handleNotifyError(c)
			case expireKeyCmd:
				h.handleExpireKey(c.key)
			case sessionCountCmd:
				c.reply <- len(h.sessions)
			case subscriberCountCmd:
				c.reply <- len(h.index[c.key])
			case stopCmd:
				h.handleStop(c.reason)
				close(h.done)
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	id := uuid.New()
	sess := &session{
		id:          id,
		writer:      newClientWriter(c.connection, h.clock, h.opts.HeartbeatInterval),
		meta:        c.meta,
		connectedAt: h.clock.Now(),
		keys:        make(map[Key]struct{}),
	}
	h.sessions[id] = sess
	metrics.HubActiveSessions.Set(float64(len(h.sessions)))

	ack := ConnectedMessage{
		Type:       MsgConnected,
		SessionID:  id.String(),
		ServerTime: h.clock.Now().UnixMilli(),
		Features:   h.opts.Features,
	}
	h.trySend(sess, mustMarshal(ack))

	slog.Info("Session registered",
		"session_id", id.String(),
		"remote_addr", c.meta.RemoteAddr,
		"total_sessions", len(h.sessions),
	)
	c.reply <- id
}

func (h *Hub) handleRemove(sessionID uuid.UUID) {
	sess, ok := h.sessions[sessionID]
	if !ok {
		return
	}

	for key := range sess.keys {
		h.dropMember(key, sessionID)
	}
	sess.writer.stop()
	delete(h.sessions, sessionID)

	metrics.HubActiveSessions.Set(float64(len(h.sessions)))
	metrics.HubActiveSubscriptions.Set(float64(len(h.index)))
	slog.Info("Session removed", "session_id", sessionID.String(), "remaining_sessions", len(h.sessions))
}

// dropMember removes one session from a key's subscriber set and deletes the
// entry once empty.
func (h *Hub) dropMember(key Key, sessionID uuid.UUID) {
	entry, ok := h.index[key]
	if !ok {
		return
	}
	delete(entry, sessionID)
	if len(entry) == 0 {
		delete(h.index, key)
	}
}

func (h *Hub) handleSubscribe(c subscribeCmd) {
	sess, ok := h.sessions[c.sessionID]
	if !ok {
		slog.Debug("Subscribe for unknown session", "session_id", c.sessionID.String(), "key", c.key.String())
		return
	}

	entry, ok := h.index[c.key]
	if !ok {
		entry = make(map[uuid.UUID]*session)
		h.index[c.key] = entry
	}
	entry[c.sessionID] = sess
	sess.keys[c.key] = struct{}{}
	metrics.HubActiveSubscriptions.Set(float64(len(h.index)))

	h.trySend(sess, mustMarshal(AckMessage{Type: ackType(subscriptionOp{key: c.key, subscribe: true}), JobID: c.key.JobID}))
	slog.Debug("Subscribed", "session_id", c.sessionID.String(), "key", c.key.String(), "subscribers", len(entry))
}

func (h *Hub) handleUnsubscribe(c unsubscribeCmd) {
	sess, ok := h.sessions[c.sessionID]
	if !ok {
		return
	}

	delete(sess.keys, c.key)
	h.dropMember(c.key, c.sessionID)
	metrics.HubActiveSubscriptions.Set(float64(len(h.index)))

	h.trySend(sess, mustMarshal(AckMessage{Type: ackType(subscriptionOp{key: c.key}), JobID: c.key.JobID}))
	slog.Debug("Unsubscribed", "session_id", c.sessionID.String(), "key", c.key.String())
}

func (h *Hub) handlePublish(c publishCmd) {
	var evict []uuid.UUID
	for id, sess := range h.index[c.key] {
		if sess.writer.closed() {
			// Transport already gone; skip, never abort the rest.
			slog.Debug("Skipping delivery to closed transport", "session_id", id.String(), "key", c.key.String())
			metrics.HubDeliveriesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		select {
		case sess.writer.sendChannel <- c.data:
			metrics.HubDeliveriesTotal.WithLabelValues("delivered").Inc()
		default:
			metrics.HubDeliveriesTotal.WithLabelValues("dropped").Inc()
			evict = append(evict, id)
		}
	}

	for _, id := range evict {
		slog.Warn("Evicting slow client", "session_id", id.String(), "key", c.key.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleRemove(id)
	}

	if c.finished && c.key.Kind == KindJob {
		h.scheduleGraceExpiry(c.key)
	}
}

// scheduleGraceExpiry arms (or re-arms) the deletion timer for a finished
// job's subscription entry. Late subscribers within the grace period are
// still accepted; once the timer fires the entry is pruned.
func (h *Hub) scheduleGraceExpiry(key Key) {
	if t, ok := h.graceTimers[key.JobID]; ok {
		t.Stop()
	}
	h.graceTimers[key.JobID] = h.clock.AfterFunc(h.opts.GracePeriod, func() {
		h.send(expireKeyCmd{key: key})
	})
}

func (h *Hub) handleExpireKey(key Key) {
	delete(h.graceTimers, key.JobID)

	entry, ok := h.index[key]
	if !ok {
		return
	}
	for _, sess := range entry {
		delete(sess.keys, key)
	}
	delete(h.index, key)
	metrics.HubActiveSubscriptions.Set(float64(len(h.index)))
	slog.Debug("Subscription entry expired after grace period", "key", key.String(), "members", len(entry))
}

func (h *Hub) handleNotifyError(c notifyErrorCmd) {
	sess, ok := h.sessions[c.sessionID]
	if !ok {
		return
	}
	h.trySend(sess, mustMarshal(ErrorMessage{Type: MsgError, Error: c.message}))
}

// handleSweep removes sessions whose transports are gone without a
// disconnect notification, and subscription entries left with no live
// members. It bounds memory growth under ungraceful disconnects.
func (h *Hub) handleSweep() {
	var dead []uuid.UUID
	for id, sess := range h.sessions {
		if sess.writer.closed() {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		slog.Info("Sweeping dead session", "session_id", id.String())
		h.handleRemove(id)
	}

	swept := 0
	for key, entry := range h.index {
		for id := range entry {
			if _, ok := h.sessions[id]; !ok {
				delete(entry, id)
			}
		}
		if len(entry) == 0 {
			delete(h.index, key)
			swept++
		}
	}
	if swept > 0 {
		metrics.HubSweptSubscriptions.Add(float64(swept))
		metrics.HubActiveSubscriptions.Set(float64(len(h.index)))
	}
}

func (h *Hub) handleStop(reason string) {
	slog.Info("Hub shutting down", "sessions", len(h.sessions))

	notice := mustMarshal(ShutdownMessage{Type: MsgShutdown, Message: reason})
	for _, sess := range h.sessions {
		h.trySend(sess, notice)
	}
	h.closeAllSessions(reason)

	for jobID, t := range h.graceTimers {
		t.Stop()
		delete(h.graceTimers, jobID)
	}

	slog.Info("Hub shutdown complete")
}

func (h *Hub) closeAllSessions(reason string) {
	for id, sess := range h.sessions {
		sess.writer.stopGraceful(reason)
		delete(h.sessions, id)
	}
	h.index = make(map[Key]map[uuid.UUID]*session)
	metrics.HubActiveSessions.Set(0)
	metrics.HubActiveSubscriptions.Set(0)
}

// trySend queues a frame without blocking the hub goroutine. Frames to a
// full buffer are dropped; the publish path handles eviction separately.
func (h *Hub) trySend(sess *session, data []byte) {
	if sess.writer.closed() {
		return
	}
	select {
	case sess.writer.sendChannel <- data:
	default:
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return data
}
