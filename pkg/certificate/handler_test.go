package certificate

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
		cr.Mount("/certificates", h.Routes())
	})
	return router
}

const testClusterID = "00000000-0000-0000-0000-000000000001"

func TestCreateCertificate_EmptyBody(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/clusters/"+testClusterID+"/certificates/", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateCertificate_InvalidClusterID(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"ca","type":"ca","subject_dn":"CN=ca","pem":"x","not_before_unix":1,"not_after_unix":2,"source":"upload"}`
	r := httptest.NewRequest(http.MethodPost, "/clusters/not-a-uuid/certificates/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateCertificate_BadType(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"ca","type":"bogus","subject_dn":"CN=ca","pem":"x","not_before_unix":1,"not_after_unix":2,"source":"upload"}`
	r := httptest.NewRequest(http.MethodPost, "/clusters/"+testClusterID+"/certificates/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestCreateCertificate_NotAfterBeforeNotBefore(t *testing.T) {
	router := newTestRouter()

	body := `{"name":"ca","type":"ca","subject_dn":"CN=ca","pem":"x","not_before_unix":10,"not_after_unix":5,"source":"upload"}`
	r := httptest.NewRequest(http.MethodPost, "/clusters/"+testClusterID+"/certificates/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestGetCertificate_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/clusters/"+testClusterID+"/certificates/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRevokeCertificate_InvalidClusterID(t *testing.T) {
	router := newTestRouter()

	body := `{"reason":"compromised"}`
	r := httptest.NewRequest(http.MethodPost, "/clusters/not-a-uuid/certificates/1/revoke", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRevokeCertificate_MissingReason(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/clusters/"+testClusterID+"/certificates/1/revoke", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
