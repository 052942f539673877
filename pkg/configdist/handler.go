package configdist

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

const (
	defaultMaxWait = 30 * time.Second
	maxMaxWait     = 2 * time.Minute
)

// Handler provides HTTP handlers for the proxy-facing config distribution
// surface: full config fetch and long-poll change notification.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a configdist Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// ProxyRoutes mounts config fetch/poll under the cluster-API-key realm.
func (h *Handler) ProxyRoutes() chi.Router {
	r := chi.NewRouter()
	h.MountProxyRoutes(r)
	return r
}

// MountProxyRoutes registers config fetch/poll directly onto r. Used when
// several packages' proxy-realm routes must share a single router, since
// chi disallows mounting more than one sub-router at the same pattern.
func (h *Handler) MountProxyRoutes(r chi.Router) {
	r.Get("/config", h.handleGetConfig)
	r.Get("/config/poll", h.handlePoll)
	r.Get("/config/stream", h.handleStream)
}

func clusterAPIKey(r *http.Request) string {
	if k := r.Header.Get("X-Cluster-Key"); k != "" {
		return k
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func capabilities(r *http.Request) []string {
	raw := r.URL.Query().Get("capabilities")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	caps := capabilities(r)

	var (
		snap ConfigSnapshot
		err  error
	)
	if len(caps) > 0 {
		snap, err = h.service.GetProxyConfig(r.Context(), clusterAPIKey(r), caps)
	} else {
		snap, err = h.service.GetClusterConfig(r.Context(), clusterAPIKey(r))
	}
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, snap)
}

type pollResponse struct {
	ConfigSnapshot
	NoChange bool `json:"no_change"`
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	lastSeen := r.URL.Query().Get("last_seen_version")

	maxWait := defaultMaxWait
	if raw := r.URL.Query().Get("max_wait_seconds"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			maxWait = time.Duration(secs) * time.Second
		}
	}
	if maxWait > maxMaxWait {
		maxWait = maxMaxWait
	}

	result, err := h.service.PollChanges(r.Context(), clusterAPIKey(r), lastSeen, maxWait)
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}

	if result.NoChange {
		httpserver.Respond(w, http.StatusOK, pollResponse{NoChange: true})
		return
	}
	httpserver.Respond(w, http.StatusOK, pollResponse{ConfigSnapshot: result.Snapshot})
}
