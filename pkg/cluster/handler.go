package cluster

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/audit"
	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Handler provides the operator-facing cluster CRUD surface.
type Handler struct {
	logger *slog.Logger
	store  *Store
	audit  *audit.Writer
}

// NewHandler creates a cluster Handler. auditWriter may be nil, in which
// case mutations are not recorded to the audit log.
func NewHandler(logger *slog.Logger, store *Store, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, store: store, audit: auditWriter}
}

func (h *Handler) logAudit(r *http.Request, clusterID uuid.UUID, action, resourceID string) {
	if h.audit == nil {
		return
	}
	h.audit.LogFromRequest(r, clusterID, action, "cluster", resourceID, nil)
}

// Routes mounts the cluster CRUD routes, to be mounted under the operator realm.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/rotate-key", h.handleRotateKey)
	r.Post("/{id}/deactivate", h.handleDeactivate)
	return r
}

type createRequest struct {
	Name       string `json:"name" validate:"required"`
	MaxProxies int    `json:"max_proxies" validate:"min=0"`
	IsDefault  bool   `json:"is_default"`
}

type clusterResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MaxProxies int    `json:"max_proxies"`
	IsDefault  bool   `json:"is_default"`
	Active     bool   `json:"active"`
}

// createResponse additionally carries the raw API key, returned exactly once
// at creation/rotation time; the hash stored server-side cannot be reversed.
type createResponse struct {
	clusterResponse
	APIKey string `json:"api_key"`
}

func toClusterResponse(c Cluster) clusterResponse {
	return clusterResponse{
		ID: c.ID.String(), Name: c.Name, MaxProxies: c.MaxProxies,
		IsDefault: c.IsDefault, Active: c.Active,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rawKey, err := GenerateAPIKey()
	if err != nil {
		h.logger.Error("generating cluster API key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to generate API key")
		return
	}

	c, err := h.store.Create(r.Context(), CreateParams{
		Name:       req.Name,
		APIKeyHash: HashAPIKey(rawKey),
		MaxProxies: req.MaxProxies,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		h.logger.Error("creating cluster", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create cluster")
		return
	}

	h.logAudit(r, c.ID, "cluster.create", c.ID.String())
	httpserver.Respond(w, http.StatusCreated, createResponse{clusterResponse: toClusterResponse(c), APIKey: rawKey})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing clusters", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list clusters")
		return
	}

	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, toClusterResponse(c))
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "cluster not found")
			return
		}
		h.logger.Error("getting cluster", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get cluster")
		return
	}

	httpserver.Respond(w, http.StatusOK, toClusterResponse(c))
}

func (h *Handler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	rawKey, err := GenerateAPIKey()
	if err != nil {
		h.logger.Error("generating cluster API key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to generate API key")
		return
	}

	c, err := h.store.RotateKey(r.Context(), id, HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "cluster not found")
			return
		}
		h.logger.Error("rotating cluster API key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to rotate API key")
		return
	}

	h.logAudit(r, c.ID, "cluster.rotate_key", c.ID.String())
	httpserver.Respond(w, http.StatusOK, createResponse{clusterResponse: toClusterResponse(c), APIKey: rawKey})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	if err := h.store.SetActive(r.Context(), id, false); err != nil {
		h.logger.Error("deactivating cluster", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to deactivate cluster")
		return
	}

	h.logAudit(r, id, "cluster.deactivate", id.String())
	httpserver.Respond(w, http.StatusNoContent, nil)
}
