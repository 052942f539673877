package license

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Handler exposes license status to both the data plane (read-only status
// check) and the operator console (status plus a forced re-validation).
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a license Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// ProxyRoutes mounts the read-only status check under the cluster-API-key realm.
func (h *Handler) ProxyRoutes() chi.Router {
	r := chi.NewRouter()
	h.MountProxyRoutes(r)
	return r
}

// MountProxyRoutes registers the read-only status check directly onto r.
// Used when several packages' proxy-realm routes must share a single
// router, since chi disallows mounting more than one sub-router at the
// same pattern.
func (h *Handler) MountProxyRoutes(r chi.Router) {
	r.Get("/license/status", h.handleStatus)
}

// OperatorRoutes mounts status and forced validation under the operator realm.
func (h *Handler) OperatorRoutes() chi.Router {
	r := chi.NewRouter()
	h.MountOperatorRoutes(r)
	return r
}

// MountOperatorRoutes registers status and forced validation directly onto r.
func (h *Handler) MountOperatorRoutes(r chi.Router) {
	r.Get("/license/status", h.handleStatus)
	r.Post("/license/validate", h.handleValidate)
}

type statusResponse struct {
	Tier          string   `json:"tier"`
	State         string   `json:"state"`
	Valid         bool     `json:"valid"`
	MaxProxies    int      `json:"max_proxies"`
	Features      []string `json:"features,omitempty"`
	Stale         bool     `json:"stale"`
	ExpiryUnix    int64    `json:"expiry_unix,omitempty"`
	LastKeepalive int64    `json:"last_keepalive_unix,omitempty"`
}

func (h *Handler) recordToResponse(rec Record) statusResponse {
	var features []string
	for name, enabled := range rec.Features {
		if enabled {
			features = append(features, name)
		}
	}
	resp := statusResponse{
		Tier:       string(rec.Tier),
		Valid:      rec.Valid,
		MaxProxies: rec.MaxProxies,
		Features:   features,
		Stale:      rec.Stale,
	}
	if !rec.Expiry.IsZero() {
		resp.ExpiryUnix = rec.Expiry.Unix()
	}
	if !rec.LastKeepalive.IsZero() {
		resp.LastKeepalive = rec.LastKeepalive.Unix()
	}
	return resp
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Validate(r.Context(), false)
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, h.recordToResponse(rec))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Validate(r.Context(), true)
	if err != nil {
		httpserver.RespondKindErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, h.recordToResponse(rec))
}
