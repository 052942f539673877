// Package proxyclient is the data-plane SDK a proxy process uses to
// register with, heartbeat to, and pull configuration from a MarchProxy
// control plane.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to a control plane's /proxy/v1 API surface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clusterKey string
	proxyName  string
	log        zerolog.Logger

	lastConfigVersion string
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	ClusterAPIKey     string
	ProxyName         string
	ConnectionTimeout time.Duration
	Logger            zerolog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		clusterKey: cfg.ClusterAPIKey,
		proxyName:  cfg.ProxyName,
		log:        cfg.Logger,
	}
}

// RegisterRequest is the body of a register() call.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Hostname     string   `json:"hostname"`
	Address      string   `json:"address"`
	Port         int      `json:"port"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// RegisterResponse is the response to a successful register() call.
type RegisterResponse struct {
	ProxyID   int64  `json:"proxy_id"`
	ClusterID string `json:"cluster_id"`
	Status    string `json:"status"`
}

// Register registers this proxy process with the control plane.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/proxy/v1/register", req, &resp); err != nil {
		return RegisterResponse{}, fmt.Errorf("registering: %w", err)
	}
	c.log.Info().Str("proxy_id", fmt.Sprint(resp.ProxyID)).Str("status", resp.Status).Msg("registered with control plane")
	return resp, nil
}

// HeartbeatRequest is the body of a heartbeat() call.
type HeartbeatRequest struct {
	Version       string   `json:"version"`
	Capabilities  []string `json:"capabilities"`
	ConfigVersion string   `json:"config_version"`
}

// HeartbeatResponse is the response to a successful heartbeat() call.
type HeartbeatResponse struct {
	Acknowledged        bool `json:"acknowledged"`
	NextIntervalSeconds int  `json:"next_interval_seconds"`
}

// Heartbeat reports liveness to the control plane.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	path := fmt.Sprintf("/proxy/v1/proxies/%s/heartbeat", c.proxyName)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return HeartbeatResponse{}, fmt.Errorf("heartbeat: %w", err)
	}
	return resp, nil
}

// ConfigSnapshot mirrors configdist.ConfigSnapshot's wire shape; the
// proxy-side SDK decodes it independently of the control plane's internal
// type so the two can evolve without a shared import.
type ConfigSnapshot struct {
	Version      string            `json:"version"`
	ClusterID    string            `json:"cluster_id"`
	ClusterName  string            `json:"cluster_name"`
	Services     []json.RawMessage `json:"services"`
	Mappings     []json.RawMessage `json:"mappings"`
	Certificates []json.RawMessage `json:"certificates"`
	Logging      json.RawMessage   `json:"logging"`
}

// GetConfig pulls the full cluster config snapshot.
func (c *Client) GetConfig(ctx context.Context) (ConfigSnapshot, error) {
	var snap ConfigSnapshot
	if err := c.do(ctx, http.MethodGet, "/proxy/v1/config", nil, &snap); err != nil {
		return ConfigSnapshot{}, fmt.Errorf("fetching config: %w", err)
	}
	c.lastConfigVersion = snap.Version
	return snap, nil
}

// PollChanges long-polls for a configuration version newer than the last one
// observed, blocking server-side up to maxWait.
func (c *Client) PollChanges(ctx context.Context, maxWait time.Duration) (ConfigSnapshot, bool, error) {
	path := fmt.Sprintf("/proxy/v1/config/poll?last_seen_version=%s&max_wait_seconds=%d", c.lastConfigVersion, int(maxWait.Seconds()))

	pollCtx, cancel := context.WithTimeout(ctx, maxWait+5*time.Second)
	defer cancel()

	var snap ConfigSnapshot
	err := c.do(pollCtx, http.MethodGet, path, nil, &snap)
	if err != nil {
		return ConfigSnapshot{}, false, fmt.Errorf("polling config: %w", err)
	}
	if snap.Version == "" || snap.Version == c.lastConfigVersion {
		return ConfigSnapshot{}, true, nil
	}
	c.lastConfigVersion = snap.Version
	return snap, false, nil
}

// LicenseStatus is the operator-facing license summary a proxy can query.
type LicenseStatus struct {
	Tier       string `json:"tier"`
	Valid      bool   `json:"valid"`
	MaxProxies int    `json:"max_proxies"`
}

// GetLicenseStatus retrieves the current license status.
func (c *Client) GetLicenseStatus(ctx context.Context) (LicenseStatus, error) {
	var status LicenseStatus
	if err := c.do(ctx, http.MethodGet, "/proxy/v1/license/status", nil, &status); err != nil {
		return LicenseStatus{}, fmt.Errorf("fetching license status: %w", err)
	}
	return status, nil
}

// RunConfigPollLoop polls for config changes until ctx is canceled,
// invoking onUpdate for every new snapshot observed. A random jitter is
// applied before each poll attempt to avoid a thundering herd against the
// control plane across a large fleet.
func (c *Client) RunConfigPollLoop(ctx context.Context, maxWait time.Duration, onUpdate func(ConfigSnapshot)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jitter := time.Duration(rand.Int63n(int64(time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}

		snap, noChange, err := c.PollChanges(ctx, maxWait)
		if err != nil {
			c.log.Warn().Err(err).Msg("config poll failed")
			continue
		}
		if noChange {
			continue
		}
		onUpdate(snap)
	}
}

// RunHeartbeatLoop sends a heartbeat on interval until ctx is canceled.
func (c *Client) RunHeartbeatLoop(ctx context.Context, interval time.Duration, req func() HeartbeatRequest) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Heartbeat(ctx, req()); err != nil {
				c.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.clusterKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane returned %d: %s", resp.StatusCode, string(data))
	}
	if respBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}
	return nil
}
