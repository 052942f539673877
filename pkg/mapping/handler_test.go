package mapping

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter() chi.Router {
	h := NewHandler(nil, nil, nil, nil)
	router := chi.NewRouter()
	router.Route("/clusters/{clusterID}", func(cr chi.Router) {
		cr.Mount("/mappings", h.Routes())
	})
	return router
}

const testClusterID = "00000000-0000-0000-0000-000000000001"

func TestUpsertMapping_EmptyBody(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPut, "/clusters/"+testClusterID+"/mappings/", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpsertMapping_InvalidClusterID(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"web-to-api","destinations":[1],"ports":["443"],"protocols":["tcp"]}`
	r := httptest.NewRequest(http.MethodPut, "/clusters/not-a-uuid/mappings/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpsertMapping_MissingDestinations(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"web-to-api","ports":["443"],"protocols":["tcp"]}`
	r := httptest.NewRequest(http.MethodPut, "/clusters/"+testClusterID+"/mappings/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestUpsertMapping_BadProtocol(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"web-to-api","destinations":[1],"ports":["443"],"protocols":["sctp"]}`
	r := httptest.NewRequest(http.MethodPut, "/clusters/"+testClusterID+"/mappings/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestUpsertMapping_BadPortRange(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"web-to-api","destinations":[1],"ports":["not-a-port"],"protocols":["tcp"]}`
	r := httptest.NewRequest(http.MethodPut, "/clusters/"+testClusterID+"/mappings/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestGetMapping_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/clusters/"+testClusterID+"/mappings/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
