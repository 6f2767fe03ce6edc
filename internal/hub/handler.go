package hub

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/clipcast/clipcast/internal/metrics"
	"github.com/clipcast/clipcast/internal/platform/correlation"
)

// Handler upgrades HTTP requests on the realtime path and pumps inbound
// subscribe/unsubscribe frames into the hub. Authorization happens upstream
// in the HTTP layer; by the time a request reaches here it carries a valid
// token.
type Handler struct {
	hub      *Hub
	hosts    *HostLimiter
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint for the hub, holding connections
// per client host under the limiter's cap. Origins are not restricted:
// clients are browser extensions whose origins are extension-scheme URLs, and
// the connection is already token-gated.
func NewHandler(hub *Hub, hosts *HostLimiter) *Handler {
	return &Handler{
		hub:   hub,
		hosts: hosts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := hostOnly(r.RemoteAddr)
	if !h.hosts.Acquire(host) {
		metrics.WebSocketConnectionsRejected.Inc()
		slog.Warn("Connection limit reached for host", "host", host)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer h.hosts.Release(host)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	meta := SessionMeta{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	sessionID, err := h.hub.Register(conn, meta)
	if err != nil {
		slog.Error("Session registration failed", "remote_addr", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}

	ctx := correlation.WithSession(r.Context(), sessionID.String())
	defer h.hub.Remove(sessionID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "Session read error", "error", err)
			}
			return
		}

		op, err := parseClientMessage(data)
		if err != nil {
			h.hub.NotifyError(sessionID, err.Error())
			continue
		}

		if op.subscribe {
			h.hub.Subscribe(sessionID, op.key)
		} else {
			h.hub.Unsubscribe(sessionID, op.key)
		}
	}
}

// hostOnly strips the port from a remote address, falling back to the raw
// string for addresses without one.
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
