package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestLocalAdmin(t *testing.T, password string) *LocalAdminHandler {
	t.Helper()
	sessionMgr, err := NewSessionManager(strings.Repeat("x", 32), time.Hour)
	if err != nil {
		t.Fatalf("creating session manager: %v", err)
	}
	return NewLocalAdminHandler(sessionMgr, password, slog.Default(), nil)
}

func TestHandleLogin_CorrectPassword(t *testing.T) {
	h := newTestLocalAdmin(t, "s3cret-password")

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"s3cret-password"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleLogin(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if w.Result().Cookies() == nil {
		t.Fatal("expected a session cookie to be set")
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	h := newTestLocalAdmin(t, "s3cret-password")

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"wrong"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleLogin(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleLogin_DisabledWhenNoPasswordConfigured(t *testing.T) {
	h := newTestLocalAdmin(t, "")

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"anything"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleLogin(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleLogout_ClearsCookie(t *testing.T) {
	h := newTestLocalAdmin(t, "s3cret-password")

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	h.HandleLogout(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected a cleared session cookie, got %+v", cookies)
	}
}

func TestHandleMe_Unauthenticated(t *testing.T) {
	h := newTestLocalAdmin(t, "s3cret-password")

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	h.HandleMe(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
