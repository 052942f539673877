package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/audit"
	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Notifier is the subset of configdist.Service a mutation handler needs to
// wake blocked long-pollers; kept as a narrow interface here since
// pkg/configdist already imports pkg/service for its ServiceStore
// interface, and pkg/service importing pkg/configdist back would cycle.
type Notifier interface {
	NotifyMutated(ctx context.Context, clusterID uuid.UUID) error
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func secondsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}

// Handler provides the operator-facing service CRUD surface, nested under a cluster.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	audit    *audit.Writer
	notifier Notifier
}

// NewHandler creates a service Handler. auditWriter and notifier may be nil.
func NewHandler(logger *slog.Logger, store *Store, auditWriter *audit.Writer, notifier Notifier) *Handler {
	return &Handler{logger: logger, store: store, audit: auditWriter, notifier: notifier}
}

// Routes mounts service CRUD routes under /clusters/{clusterID}/services.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Put("/", h.handleUpsert)
	r.Get("/{id}", h.handleGet)
	return r
}

type upsertRequest struct {
	Name              string `json:"name" validate:"required"`
	Host              string `json:"host" validate:"required"`
	Port              int    `json:"port" validate:"required,min=1,max=65535"`
	Transport         string `json:"transport" validate:"required,oneof=tcp udp"`
	AuthType          string `json:"auth_type" validate:"required,oneof=none symmetric_token signed_token"`
	TokenValue        string `json:"token_value,omitempty"`
	SignedTokenSecret string `json:"signed_token_secret,omitempty"`
	SignedTokenExpiry int64  `json:"signed_token_expiry_seconds,omitempty"`
	TLSEnabled        bool   `json:"tls_enabled"`
	TLSVerify         bool   `json:"tls_verify"`
	Active            bool   `json:"active"`
}

func clusterIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "clusterID"))
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	clusterID, err := clusterIDParam(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	var req upsertRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := Service{
		ClusterID:         clusterID,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		Transport:         Transport(req.Transport),
		AuthType:          AuthType(req.AuthType),
		TokenValue:        req.TokenValue,
		SignedTokenSecret: req.SignedTokenSecret,
		SignedTokenAlg:    "HS256",
		TLSEnabled:        req.TLSEnabled,
		TLSVerify:         req.TLSVerify,
		Active:            req.Active,
	}
	if req.SignedTokenExpiry > 0 {
		svc.SignedTokenExpiry = secondsToDuration(req.SignedTokenExpiry)
	}

	saved, err := h.store.Upsert(r.Context(), svc)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "invalid_service", err.Error())
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, clusterID, "service.upsert", "service", strconv.FormatInt(saved.ID, 10), nil)
	}
	if h.notifier != nil {
		if err := h.notifier.NotifyMutated(r.Context(), clusterID); err != nil {
			h.logger.Error("notifying config distributor of service mutation", "error", err, "cluster_id", clusterID)
		}
	}

	httpserver.Respond(w, http.StatusOK, saved)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	clusterID, err := clusterIDParam(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	svcs, err := h.store.ListActiveByCluster(r.Context(), clusterID)
	if err != nil {
		h.logger.Error("listing services", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list services")
		return
	}

	httpserver.Respond(w, http.StatusOK, svcs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid service ID")
		return
	}

	svc, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "service not found")
			return
		}
		h.logger.Error("getting service", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get service")
		return
	}

	httpserver.Respond(w, http.StatusOK, svc)
}
