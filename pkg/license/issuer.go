package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPIssuerClient implements IssuerClient over HTTPS against a configured
// issuer base URL.
type HTTPIssuerClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPIssuerClient creates an HTTPIssuerClient with a bounded default
// timeout if none is supplied.
func NewHTTPIssuerClient(baseURL string, client *http.Client) *HTTPIssuerClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPIssuerClient{BaseURL: baseURL, HTTPClient: client}
}

type validateResponse struct {
	Tier          string          `json:"tier"`
	Valid         bool            `json:"valid"`
	MaxProxies    int             `json:"max_proxies"`
	Features      map[string]bool `json:"features"`
	ExpiryUnix    int64           `json:"expiry"`
}

// Validate exchanges the license key for a freshly-issued record.
func (c *HTTPIssuerClient) Validate(ctx context.Context, licenseKey string) (Record, error) {
	body, err := json.Marshal(map[string]string{"license_key": licenseKey})
	if err != nil {
		return Record{}, fmt.Errorf("encoding validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/validate", bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("building validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("calling license issuer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Record{}, fmt.Errorf("license issuer returned %d: %s", resp.StatusCode, string(data))
	}

	var vr validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Record{}, fmt.Errorf("decoding validate response: %w", err)
	}

	return Record{
		Tier:       Tier(vr.Tier),
		Valid:      vr.Valid,
		MaxProxies: vr.MaxProxies,
		Features:   vr.Features,
		Expiry:     time.Unix(vr.ExpiryUnix, 0).UTC(),
	}, nil
}

// Keepalive signals the issuer the license is in active use.
func (c *HTTPIssuerClient) Keepalive(ctx context.Context, licenseKey string) error {
	body, err := json.Marshal(map[string]string{"license_key": licenseKey})
	if err != nil {
		return fmt.Errorf("encoding keepalive request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/keepalive", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building keepalive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling license issuer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("license issuer returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
