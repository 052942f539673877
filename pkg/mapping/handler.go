package mapping

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/audit"
	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Notifier is the subset of configdist.Service a mutation handler needs to
// wake blocked long-pollers; kept narrow to avoid an import cycle with
// pkg/configdist, which already imports pkg/mapping for its MappingStore
// interface.
type Notifier interface {
	NotifyMutated(ctx context.Context, clusterID uuid.UUID) error
}

// Handler provides the operator-facing mapping CRUD surface, nested under a cluster.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	audit    *audit.Writer
	notifier Notifier
}

// NewHandler creates a mapping Handler. auditWriter and notifier may be nil.
func NewHandler(logger *slog.Logger, store *Store, auditWriter *audit.Writer, notifier Notifier) *Handler {
	return &Handler{logger: logger, store: store, audit: auditWriter, notifier: notifier}
}

// Routes mounts mapping CRUD routes under /clusters/{clusterID}/mappings.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Put("/", h.handleUpsert)
	r.Get("/{id}", h.handleGet)
	return r
}

type upsertRequest struct {
	Name         string  `json:"name" validate:"required"`
	Sources      []int64 `json:"sources"`
	Destinations []int64 `json:"destinations" validate:"required,min=1"`
	Ports        []string `json:"ports" validate:"required,min=1"`
	Protocols    []string `json:"protocols" validate:"required,min=1,dive,oneof=tcp udp"`
	AuthRequired bool     `json:"auth_required"`
	Priority     int      `json:"priority"`
	Active       bool     `json:"active"`
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

	ports, err := parsePortRanges(req.Ports)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid port range: "+err.Error())
		return
	}

	protocols := make([]Protocol, 0, len(req.Protocols))
	for _, p := range req.Protocols {
		protocols = append(protocols, Protocol(p))
	}

	m := Mapping{
		ClusterID:    clusterID,
		Name:         req.Name,
		Sources:      req.Sources,
		Destinations: req.Destinations,
		Ports:        ports,
		Protocols:    protocols,
		AuthRequired: req.AuthRequired,
		Priority:     req.Priority,
		Active:       req.Active,
	}

	saved, err := h.store.Upsert(r.Context(), m)
	if err != nil {
		h.logger.Error("upserting mapping", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to save mapping")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, clusterID, "mapping.upsert", "mapping", strconv.FormatInt(saved.ID, 10), nil)
	}
	if h.notifier != nil {
		if err := h.notifier.NotifyMutated(r.Context(), clusterID); err != nil {
			h.logger.Error("notifying config distributor of mapping mutation", "error", err, "cluster_id", clusterID)
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

	mappings, err := h.store.ListActiveByCluster(r.Context(), clusterID)
	if err != nil {
		h.logger.Error("listing mappings", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list mappings")
		return
	}

	httpserver.Respond(w, http.StatusOK, mappings)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid mapping ID")
		return
	}

	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "mapping not found")
			return
		}
		h.logger.Error("getting mapping", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get mapping")
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}
