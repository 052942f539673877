package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// Handler provides HTTP handlers for the operator-facing audit log API.
type Handler struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewHandler creates an audit log Handler.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, pool: pool}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

// logRow mirrors one audit_log row for the API response.
type logRow struct {
	ID         int64           `json:"id"`
	ClusterID  *string         `json:"cluster_id,omitempty"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	IPAddress  *string         `json:"ip_address,omitempty"`
	UserAgent  *string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	clusterFilter := r.URL.Query().Get("cluster_id")

	rows, total, err := h.list(r.Context(), clusterFilter, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(rows, params, total))
}

func (h *Handler) list(ctx context.Context, clusterFilter string, limit, offset int) ([]logRow, int, error) {
	where := ""
	args := []any{}
	if clusterFilter != "" {
		where = " WHERE cluster_id = $1"
		args = append(args, clusterFilter)
	}

	var total int
	if err := h.pool.QueryRow(ctx, `SELECT count(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitArg := strconv.Itoa(len(args) + 1)
	offsetArg := strconv.Itoa(len(args) + 2)
	query := `SELECT id, cluster_id, actor, action, resource, resource_id, detail, ip_address, user_agent, created_at
		FROM audit_log` + where + ` ORDER BY created_at DESC LIMIT $` + limitArg + ` OFFSET $` + offsetArg

	rows, err := h.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []logRow
	for rows.Next() {
		var row logRow
		var clusterID, ip *string
		if err := rows.Scan(&row.ID, &clusterID, &row.Actor, &row.Action, &row.Resource, &row.ResourceID,
			&row.Detail, &ip, &row.UserAgent, &row.CreatedAt); err != nil {
			return nil, 0, err
		}
		row.ClusterID = clusterID
		row.IPAddress = ip
		out = append(out, row)
	}
	return out, total, rows.Err()
}
