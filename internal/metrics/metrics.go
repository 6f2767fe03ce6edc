package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubActiveSessions tracks number of live realtime sessions
	HubActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_sessions",
			Help: "Number of live realtime sessions",
		},
	)

	// HubActiveSubscriptions tracks number of subscription index entries
	HubActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_subscriptions",
			Help: "Number of subscription index entries (distinct keys)",
		},
	)

	// HubEventsPublished tracks published events by kind
	HubEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_published_total",
			Help: "Events published into the hub by kind",
		},
		[]string{"kind"},
	)

	// HubDeliveriesTotal tracks per-session delivery outcomes
	HubDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_deliveries_total",
			Help: "Per-session event delivery outcomes",
		},
		[]string{"status"},
	)

	// HubSlowClientsEvicted tracks slow clients evicted due to full buffers
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Slow clients evicted due to full send buffers",
		},
	)

	// HubSweptSubscriptions tracks index entries reclaimed by the sweep
	HubSweptSubscriptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_swept_subscriptions_total",
			Help: "Subscription index entries reclaimed by the periodic sweep",
		},
	)

	// HubCommandChannelDepth tracks current command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)

	// HubPanicsTotal tracks hub panic recoveries
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Total hub panic recoveries",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketMessageSendDuration tracks message send latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// WebSocketPingFailures tracks failed heartbeat pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Failed WebSocket heartbeat pings",
		},
	)

	// WebSocketConnectionsRejected tracks handshakes refused by the per-host cap
	WebSocketConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "WebSocket handshakes refused by the per-host connection cap",
		},
	)
)

// Rate Limiting Metrics
var (
	// RateLimitChecksTotal tracks limiter decisions by tier and outcome
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Rate limiter decisions by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// RateLimitTrackedIdentifiers tracks windows currently held per tier
	RateLimitTrackedIdentifiers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rate_limit_tracked_identifiers",
			Help: "Identifiers with live windows per tier",
		},
		[]string{"tier"},
	)
)

// Auth Metrics
var (
	// AuthTokensIssued tracks issued tokens by origin (api_key, refresh)
	AuthTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Tokens issued by origin",
		},
		[]string{"origin"},
	)

	// AuthVerificationsTotal tracks verification outcomes
	AuthVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verifications_total",
			Help: "Token verification outcomes",
		},
		[]string{"outcome"},
	)

	// AuthBlacklistSize tracks current blacklist entries
	AuthBlacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_blacklist_size",
			Help: "Current revoked-token blacklist entries",
		},
	)
)
