package auth

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
)

// LocalAdminHandler authenticates the single bootstrap operator account
// against a password configured out-of-band (ADMIN_BOOTSTRAP_PASSWORD), for
// deployments that don't wire an external identity provider.
type LocalAdminHandler struct {
	sessionMgr   *SessionManager
	passwordHash []byte
	disabled     bool
	logger       *slog.Logger
	rateLimiter  *RateLimiter
}

// NewLocalAdminHandler creates a LocalAdminHandler. An empty password
// disables local admin login entirely — HandleLogin always rejects.
func NewLocalAdminHandler(sessionMgr *SessionManager, password string, logger *slog.Logger, rateLimiter *RateLimiter) *LocalAdminHandler {
	h := &LocalAdminHandler{
		sessionMgr:  sessionMgr,
		logger:      logger,
		rateLimiter: rateLimiter,
	}
	if password == "" {
		h.disabled = true
		return h
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("hashing bootstrap admin password, local login disabled", "error", err)
		h.disabled = true
		return h
	}
	h.passwordHash = hash
	return h
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin validates the bootstrap admin password and issues a session cookie.
func (h *LocalAdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)

	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("checking login rate limit", "error", err)
		} else if !result.Allowed {
			httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts, try again later")
			return
		}
	}

	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if h.disabled || bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) != nil {
		if h.rateLimiter != nil {
			_ = h.rateLimiter.Record(r.Context(), ip)
		}
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	token, err := h.sessionMgr.IssueToken(SessionClaims{Subject: "local:admin", Role: RoleAdmin, Method: MethodLocal})
	if err != nil {
		h.logger.Error("issuing session token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to issue session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((24 * time.Hour).Seconds()),
	})

	if h.rateLimiter != nil {
		_ = h.rateLimiter.Reset(r.Context(), ip)
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout clears the session cookie.
func (h *LocalAdminHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMe returns the authenticated operator's identity.
func (h *LocalAdminHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"subject": id.Subject, "role": id.Role})
}

func clientIPFromRequest(r *http.Request) string {
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
