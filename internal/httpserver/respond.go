package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, kind string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   kind,
		Message: message,
	})
}

// kindStatus maps a stable error kind to its HTTP status code.
func kindStatus(kind kinderr.Kind) int {
	switch kind {
	case kinderr.Auth:
		return http.StatusUnauthorized
	case kinderr.Capacity:
		return http.StatusForbidden
	case kinderr.NotFound:
		return http.StatusNotFound
	case kinderr.Conflict:
		return http.StatusConflict
	case kinderr.StoreUnavail:
		return http.StatusServiceUnavailable
	case kinderr.LicenseInvalid:
		return http.StatusForbidden
	case kinderr.BreakerOpen:
		return http.StatusServiceUnavailable
	case kinderr.TooManyRequests:
		return http.StatusTooManyRequests
	case kinderr.Timeout:
		return http.StatusGatewayTimeout
	case kinderr.CertExpired, kinderr.CertRevoked, kinderr.CertInvalid,
		kinderr.CertMissing, kinderr.CAInvalid, kinderr.ChainTooLong:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondKindErr writes a JSON error response derived from a *kinderr.Error,
// using a generic 500 if err isn't one.
func RespondKindErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	ke := kinderr.KindOf(err)
	if ke == "" {
		logger.Error("unclassified error", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if reason := kinderr.Reason(err); reason != nil {
		logger.Error("request failed", "kind", ke, "reason", reason)
	}
	RespondError(w, kindStatus(ke), string(ke), err.Error())
}
