package certificate

import (
	"context"
	"encoding/pem"
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
// wake blocked long-pollers; kept narrow to avoid an import cycle with
// pkg/configdist, which already imports pkg/certificate for its
// CertificateStore interface.
type Notifier interface {
	NotifyMutated(ctx context.Context, clusterID uuid.UUID) error
}

// Handler provides the operator-facing certificate CRUD surface, nested under a cluster.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	audit    *audit.Writer
	notifier Notifier
}

// NewHandler creates a certificate Handler. auditWriter and notifier may be nil.
func NewHandler(logger *slog.Logger, store *Store, auditWriter *audit.Writer, notifier Notifier) *Handler {
	return &Handler{logger: logger, store: store, audit: auditWriter, notifier: notifier}
}

func (h *Handler) notifyMutated(r *http.Request, clusterID uuid.UUID) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.NotifyMutated(r.Context(), clusterID); err != nil {
		h.logger.Error("notifying config distributor of certificate mutation", "error", err, "cluster_id", clusterID)
	}
}

// Routes mounts certificate routes under /clusters/{clusterID}/certificates.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/revoke", h.handleRevoke)
	return r
}

type createRequest struct {
	Name                  string `json:"name" validate:"required"`
	Type                  string `json:"type" validate:"required,oneof=ca server client"`
	SubjectDN             string `json:"subject_dn" validate:"required"`
	IssuerDN              string `json:"issuer_dn"`
	Serial                string `json:"serial"`
	PEM                   string `json:"pem" validate:"required"`
	NotBefore             int64  `json:"not_before_unix" validate:"required"`
	NotAfter              int64  `json:"not_after_unix" validate:"required,gtfield=NotBefore"`
	Source                string `json:"source" validate:"required,oneof=upload issuer_A issuer_B"`
	AutoRotate            bool   `json:"auto_rotate"`
	RotationThresholdDays int    `json:"rotation_threshold_days"`
}

func clusterIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "clusterID"))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	clusterID, err := clusterIDParam(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	block, _ := pem.Decode([]byte(req.PEM))
	if block == nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "invalid_certificate", "pem contains no PEM-encoded block")
		return
	}
	der := block.Bytes
	c := Certificate{
		ClusterID:             clusterID,
		Name:                  req.Name,
		Type:                  Type(req.Type),
		SubjectDN:             req.SubjectDN,
		IssuerDN:              req.IssuerDN,
		Serial:                req.Serial,
		Fingerprint:           Fingerprint(der),
		NotBefore:             time.Unix(req.NotBefore, 0).UTC(),
		NotAfter:              time.Unix(req.NotAfter, 0).UTC(),
		Source:                Source(req.Source),
		AutoRotate:            req.AutoRotate,
		RotationThresholdDays: req.RotationThresholdDays,
		Active:                true,
		PEM:                   req.PEM,
	}

	saved, err := h.store.Create(r.Context(), c)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "invalid_certificate", err.Error())
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, clusterID, "certificate.create", "certificate", strconv.FormatInt(saved.ID, 10), nil)
	}
	h.notifyMutated(r, clusterID)

	httpserver.Respond(w, http.StatusCreated, saved)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	clusterID, err := clusterIDParam(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	certs, err := h.store.ListActiveByCluster(r.Context(), clusterID)
	if err != nil {
		h.logger.Error("listing certificates", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list certificates")
		return
	}

	httpserver.Respond(w, http.StatusOK, certs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid certificate ID")
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "certificate not found")
			return
		}
		h.logger.Error("getting certificate", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get certificate")
		return
	}

	httpserver.Respond(w, http.StatusOK, c)
}

type revokeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	clusterID, err := clusterIDParam(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cluster ID")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid certificate ID")
		return
	}

	var req revokeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.Revoke(r.Context(), id, req.Reason, time.Now()); err != nil {
		h.logger.Error("revoking certificate", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to revoke certificate")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, clusterID, "certificate.revoke", "certificate", strconv.FormatInt(id, 10), nil)
	}
	h.notifyMutated(r, clusterID)

	httpserver.Respond(w, http.StatusNoContent, nil)
}
