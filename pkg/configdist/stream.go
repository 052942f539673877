package configdist

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// upgrader accepts a persistent streaming connection from any proxy in
// possession of a valid cluster API key; the key itself is the only
// authorization boundary, so origin checking is not meaningful here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const streamPingInterval = 30 * time.Second

// handleStream upgrades to a WebSocket and pushes a new ConfigSnapshot every
// time the cluster's version changes, as an alternative to /config/poll for
// proxies that prefer to hold one long-lived connection over repeated
// long-poll round-trips.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	cl, err := h.service.authenticate(r.Context(), clusterAPIKey(r))
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("config stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	lastSeen := ""
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		snap, err := h.service.renderer.Render(r.Context(), cl.ID, nil)
		if err != nil {
			h.logger.Error("rendering snapshot for stream", "error", err, "cluster_id", cl.ID)
			return
		}
		if snap.Version != lastSeen {
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			lastSeen = snap.Version
		}

		waitCtx, cancel := h.streamWaitContext(r)
		observed := h.service.notifier.WaitForChange(waitCtx, cl.ID, lastSeen)
		cancel()
		if observed == lastSeen {
			// Deadline elapsed with no change; send a ping to detect a dead
			// peer before looping back to wait again.
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) streamWaitContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), streamPingInterval)
}
