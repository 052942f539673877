package fleetregistrar

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Handler provides HTTP handlers for proxy registration/heartbeat (mounted on
// the proxy realm) and fleet listing/reap triggering (mounted on the
// operator realm).
type Handler struct {
	logger    *slog.Logger
	registrar *Registrar
}

// NewHandler creates a fleetregistrar Handler.
func NewHandler(logger *slog.Logger, registrar *Registrar) *Handler {
	return &Handler{logger: logger, registrar: registrar}
}

// ProxyRoutes mounts register/heartbeat under the cluster-API-key realm.
func (h *Handler) ProxyRoutes() chi.Router {
	r := chi.NewRouter()
	h.MountProxyRoutes(r)
	return r
}

// MountProxyRoutes registers register/heartbeat directly onto r. Used when
// several packages' proxy-realm routes must share a single router, since
// chi disallows mounting more than one sub-router at the same pattern.
func (h *Handler) MountProxyRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/proxies/{name}/heartbeat", h.handleHeartbeat)
}

// OperatorRoutes mounts fleet visibility/administration under the operator realm.
func (h *Handler) OperatorRoutes() chi.Router {
	r := chi.NewRouter()
	h.MountOperatorRoutes(r)
	return r
}

// MountOperatorRoutes registers fleet visibility/administration routes
// directly onto r.
func (h *Handler) MountOperatorRoutes(r chi.Router) {
	r.Get("/clusters/{clusterID}/proxies", h.handleListProxies)
	r.Post("/fleet/reap", h.handleReap)
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

type registerRequest struct {
	Name         string   `json:"name" validate:"required"`
	Hostname     string   `json:"hostname"`
	Address      string   `json:"address"`
	Port         int      `json:"port"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	ProxyID   int64  `json:"proxy_id"`
	ClusterID string `json:"cluster_id"`
	Status    string `json:"status"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.registrar.Register(r.Context(), RegisterRequest{
		ClusterAPIKey: clusterAPIKey(r),
		Name:          req.Name,
		Hostname:      req.Hostname,
		Address:       req.Address,
		Port:          req.Port,
		Version:       req.Version,
		Capabilities:  req.Capabilities,
	})
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, registerResponse{
		ProxyID:   result.ProxyID,
		ClusterID: result.ClusterID.String(),
		Status:    string(result.Status),
	})
}

type heartbeatRequest struct {
	Version       string   `json:"version"`
	Capabilities  []string `json:"capabilities"`
	ConfigVersion string   `json:"config_version"`
}

type heartbeatResponse struct {
	Acknowledged        bool `json:"acknowledged"`
	NextIntervalSeconds int  `json:"next_interval_seconds"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.registrar.Heartbeat(r.Context(), HeartbeatRequest{
		ClusterAPIKey: clusterAPIKey(r),
		ProxyName:     chi.URLParam(r, "name"),
		Version:       req.Version,
		Capabilities:  req.Capabilities,
		ConfigVersion: req.ConfigVersion,
	})
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, heartbeatResponse{
		Acknowledged:        result.Acknowledged,
		NextIntervalSeconds: result.NextIntervalSeconds,
	})
}

func (h *Handler) handleListProxies(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "clusterID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	proxies, err := h.registrar.ListProxies(r.Context(), clusterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.Respond(w, http.StatusOK, []Proxy{})
			return
		}
		h.logger.Error("listing proxies", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list proxies")
		return
	}

	httpserver.Respond(w, http.StatusOK, proxies)
}

type reapResponse struct {
	Reaped int `json:"reaped"`
}

// handleReap triggers an out-of-band reap sweep. The background scheduler
// calls Registrar.Reap on its own cadence; this endpoint lets an operator
// force one (e.g. immediately after lowering the stale threshold).
func (h *Handler) handleReap(w http.ResponseWriter, r *http.Request) {
	n, err := h.registrar.Reap(r.Context(), time.Now())
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, reapResponse{Reaped: n})
}
