// Package fleetregistrar implements the Fleet Registrar: proxy instance
// registration, heartbeating, listing, and reaping of stale/retired proxies.
package fleetregistrar

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Proxy Instance's lifecycle state.
type Status string

const (
	StatusRegistering Status = "registering"
	StatusActive       Status = "active"
	StatusStale        Status = "stale"
	StatusRetired       Status = "retired"
)

// Proxy is a running data-plane process registered to a cluster.
type Proxy struct {
	ID            int64
	ClusterID     uuid.UUID
	Name          string
	Hostname      string
	Address       string
	Port          int
	Version       string
	Capabilities  []string
	Status        Status
	LastHeartbeat time.Time
	ConfigVersion string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRetired reports whether the proxy has left the fleet and requires a
// fresh register() call to rejoin.
func (p Proxy) IsRetired() bool {
	return p.Status == StatusRetired
}

// IsActive reports whether the proxy currently counts against cluster capacity.
func (p Proxy) IsActive() bool {
	return p.Status == StatusRegistering || p.Status == StatusActive || p.Status == StatusStale
}
