package proxyclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{BaseURL: srv.URL, ClusterAPIKey: "key", ProxyName: "p1", Logger: zerolog.Nop()})
	return c, srv.Close
}

func TestRegisterSuccess(t *testing.T) {
	c, closeFn := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxy/v1/register" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(RegisterResponse{ProxyID: 7, ClusterID: "c1", Status: "registering"})
	})
	defer closeFn()

	resp, err := c.Register(context.Background(), RegisterRequest{Name: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProxyID != 7 || resp.Status != "registering" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRegisterFailureSurfacesStatus(t *testing.T) {
	c, closeFn := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid cluster API key"}`))
	})
	defer closeFn()

	if _, err := c.Register(context.Background(), RegisterRequest{Name: "p1"}); err == nil {
		t.Fatal("expected error on 401 response")
	}
}

func TestPollChangesNoChange(t *testing.T) {
	c, closeFn := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConfigSnapshot{Version: ""})
	})
	defer closeFn()

	_, noChange, err := c.PollChanges(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !noChange {
		t.Fatal("expected no_change for an empty version")
	}
}

func TestPollChangesReturnsNewVersion(t *testing.T) {
	c, closeFn := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConfigSnapshot{Version: "v1", ClusterID: "c1"})
	})
	defer closeFn()

	snap, noChange, err := c.PollChanges(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if noChange {
		t.Fatal("expected a changed snapshot")
	}
	if snap.Version != "v1" {
		t.Fatalf("expected version v1, got %q", snap.Version)
	}
}

func TestHeartbeatSuccess(t *testing.T) {
	c, closeFn := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxy/v1/proxies/p1/heartbeat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HeartbeatResponse{Acknowledged: true, NextIntervalSeconds: 30})
	})
	defer closeFn()

	resp, err := c.Heartbeat(context.Background(), HeartbeatRequest{Version: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Acknowledged || resp.NextIntervalSeconds != 30 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
