package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware returns an HTTP middleware that authenticates the operator via
// a session cookie carrying a self-issued JWT and stores the resulting
// Identity in the request context. Requests with no cookie, or a cookie that
// fails validation, continue unauthenticated — RequireAuth/RequireRole reject
// them downstream so public routes (e.g. the login endpoint) can share the
// middleware chain.
func Middleware(sessionMgr *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if cookie, err := r.Cookie(SessionCookieName); err == nil && sessionMgr != nil {
				claims, err := sessionMgr.ValidateToken(cookie.Value)
				if err == nil {
					identity = &Identity{
						Subject: claims.Subject,
						Role:    claims.Role,
						Method:  MethodSession,
					}
					logger.Debug("authenticated via session cookie", "sub", claims.Subject, "role", claims.Role)
				} else {
					logger.Debug("session cookie validation failed", "error", err)
				}
			}

			// Bearer token fallback, for API clients that can't hold cookies.
			if identity == nil {
				if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
					raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
					if claims, err := sessionMgr.ValidateToken(raw); err == nil {
						identity = &Identity{
							Subject: claims.Subject,
							Role:    claims.Role,
							Method:  MethodSession,
						}
					}
				}
			}

			if identity != nil {
				r = r.WithContext(NewContext(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
