// Package dataplane implements the proxy-side agent: it registers with a
// control plane, heartbeats, pulls rendered configuration, and forwards
// traffic for each active mapping through the Service Authenticator, mTLS
// Validator, and Circuit Breaker Engine.
package dataplane

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds agent configuration, loaded from environment variables.
type Config struct {
	ControlPlaneURL string `env:"MARCHPROXY_CONTROL_URL" envDefault:"http://localhost:8080"`
	ClusterAPIKey   string `env:"MARCHPROXY_CLUSTER_API_KEY"`
	ProxyName       string `env:"MARCHPROXY_PROXY_NAME"`
	Version         string `env:"MARCHPROXY_AGENT_VERSION" envDefault:"dev"`

	HeartbeatIntervalSeconds int `env:"MARCHPROXY_HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`
	PollMaxWaitSeconds       int `env:"MARCHPROXY_POLL_MAX_WAIT_SECONDS" envDefault:"30"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads agent configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing agent config from env: %w", err)
	}
	if cfg.ProxyName == "" {
		return nil, fmt.Errorf("MARCHPROXY_PROXY_NAME is required")
	}
	if cfg.ClusterAPIKey == "" {
		return nil, fmt.Errorf("MARCHPROXY_CLUSTER_API_KEY is required")
	}
	return cfg, nil
}
