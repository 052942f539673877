package fleetregistrar

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestProxyRouter() chi.Router {
	h := NewHandler(nil, nil)
	router := chi.NewRouter()
	h.MountProxyRoutes(router)
	return router
}

func newTestOperatorRouter() chi.Router {
	h := NewHandler(nil, nil)
	router := chi.NewRouter()
	h.MountOperatorRoutes(router)
	return router
}

func TestRegister_EmptyBody(t *testing.T) {
	router := newTestProxyRouter()

	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRegister_MissingName(t *testing.T) {
	router := newTestProxyRouter()

	body := `{"hostname":"proxy-1"}`
	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestHeartbeat_InvalidJSON(t *testing.T) {
	router := newTestProxyRouter()

	r := httptest.NewRequest(http.MethodPost, "/proxies/proxy-1/heartbeat", strings.NewReader("{bad"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListProxies_InvalidClusterID(t *testing.T) {
	router := newTestOperatorRouter()

	r := httptest.NewRequest(http.MethodGet, "/clusters/not-a-uuid/proxies", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestClusterAPIKey_HeaderPreferredOverBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/register", nil)
	r.Header.Set("X-Cluster-Key", "key-from-header")
	r.Header.Set("Authorization", "Bearer key-from-bearer")

	if got := clusterAPIKey(r); got != "key-from-header" {
		t.Errorf("clusterAPIKey() = %q, want %q", got, "key-from-header")
	}
}

func TestClusterAPIKey_FallsBackToBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/register", nil)
	r.Header.Set("Authorization", "Bearer key-from-bearer")

	if got := clusterAPIKey(r); got != "key-from-bearer" {
		t.Errorf("clusterAPIKey() = %q, want %q", got, "key-from-bearer")
	}
}

func TestClusterAPIKey_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/register", nil)

	if got := clusterAPIKey(r); got != "" {
		t.Errorf("clusterAPIKey() = %q, want empty", got)
	}
}
