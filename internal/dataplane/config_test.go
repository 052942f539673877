package dataplane

import "testing"

func TestLoad_RequiresProxyName(t *testing.T) {
	t.Setenv("MARCHPROXY_PROXY_NAME", "")
	t.Setenv("MARCHPROXY_CLUSTER_API_KEY", "key")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when MARCHPROXY_PROXY_NAME is unset")
	}
}

func TestLoad_RequiresClusterAPIKey(t *testing.T) {
	t.Setenv("MARCHPROXY_PROXY_NAME", "proxy-1")
	t.Setenv("MARCHPROXY_CLUSTER_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when MARCHPROXY_CLUSTER_API_KEY is unset")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("MARCHPROXY_PROXY_NAME", "proxy-1")
	t.Setenv("MARCHPROXY_CLUSTER_API_KEY", "key")
	t.Setenv("MARCHPROXY_CONTROL_URL", "")
	t.Setenv("MARCHPROXY_HEARTBEAT_INTERVAL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ControlPlaneURL != "http://localhost:8080" {
		t.Errorf("ControlPlaneURL = %q, want default", cfg.ControlPlaneURL)
	}
	if cfg.HeartbeatIntervalSeconds != 30 {
		t.Errorf("HeartbeatIntervalSeconds = %d, want 30", cfg.HeartbeatIntervalSeconds)
	}
}
