package fleetregistrar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penguintechinc/marchproxy-control/internal/db"
	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
	"github.com/penguintechinc/marchproxy-control/internal/telemetry"
	"github.com/penguintechinc/marchproxy-control/pkg/cluster"
)

const (
	defaultStaleThreshold   = 10 * time.Minute
	defaultRetireThreshold  = 30 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
)

// LicenseCapacity is the read-only view of the License Enforcer the
// Registrar needs for capacity checks.
type LicenseCapacity interface {
	Capacity(ctx context.Context) (int, error)
}

// Registrar implements the Fleet Registrar: registration, heartbeating,
// listing, and reaping of data-plane proxy instances.
type Registrar struct {
	pool            *pgxpool.Pool
	license         LicenseCapacity
	staleThreshold  time.Duration
	retireThreshold time.Duration
}

// New creates a Registrar. staleThreshold/retireThreshold of zero fall back
// to the spec defaults (10m/30m).
func New(pool *pgxpool.Pool, license LicenseCapacity, staleThreshold, retireThreshold time.Duration) *Registrar {
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}
	if retireThreshold <= 0 {
		retireThreshold = defaultRetireThreshold
	}
	return &Registrar{
		pool: pool, license: license,
		staleThreshold: staleThreshold, retireThreshold: retireThreshold,
	}
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	ClusterAPIKey string
	Name          string
	Hostname      string
	Address       string
	Port          int
	Version       string
	Capabilities  []string
}

// RegisterResult is the output of a successful Register.
type RegisterResult struct {
	ProxyID   int64
	ClusterID uuid.UUID
	Status    Status
}

// Register validates the cluster API key, checks capacity, and upserts the
// (cluster, name) proxy slot. Capacity is read inside the same transaction
// as the insert to prevent oversubscription under concurrent registrations.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	var result RegisterResult

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		clusters := cluster.NewStore(tx)
		cl, err := clusters.GetByAPIKeyHash(ctx, cluster.HashAPIKey(req.ClusterAPIKey))
		if err != nil {
			return kinderr.Wrap(kinderr.Auth, "invalid cluster API key", err)
		}
		if !cl.MatchesAPIKey(req.ClusterAPIKey) || !cl.Active {
			return kinderr.New(kinderr.Auth, "invalid or inactive cluster")
		}

		proxies := NewStore(tx)
		licenseMax := cl.MaxProxies
		if r.license != nil {
			lm, err := r.license.Capacity(ctx)
			if err == nil && lm < licenseMax {
				licenseMax = lm
			}
		}

		existing, err := proxies.GetByClusterAndName(ctx, cl.ID, req.Name)
		reusingSlot := err == nil
		countsTowardCapacity := !(reusingSlot && existing.IsActive())
		if countsTowardCapacity {
			active, err := clusters.ActiveProxyCount(ctx, cl.ID)
			if err != nil {
				return err
			}
			if active >= licenseMax {
				return kinderr.New(kinderr.Capacity, "cluster at capacity")
			}
		}

		p := Proxy{
			ClusterID: cl.ID, Name: req.Name, Hostname: req.Hostname, Address: req.Address,
			Port: req.Port, Version: req.Version, Capabilities: req.Capabilities,
			Status: StatusRegistering, LastHeartbeat: nowFunc(),
		}
		saved, err := proxies.Upsert(ctx, p)
		if err != nil {
			return err
		}
		result = RegisterResult{ProxyID: saved.ID, ClusterID: saved.ClusterID, Status: saved.Status}
		if countsTowardCapacity {
			telemetry.FleetActiveProxies.WithLabelValues(cl.ID.String()).Inc()
		}
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return result, nil
}

// HeartbeatRequest is the input to Heartbeat.
type HeartbeatRequest struct {
	ClusterAPIKey string
	ProxyName     string
	Version       string
	Capabilities  []string
	ConfigVersion string
}

// HeartbeatResult is the output of a successful Heartbeat.
type HeartbeatResult struct {
	Acknowledged        bool
	NextIntervalSeconds int
}

// Heartbeat updates a proxy's liveness and promotes registering→active on
// first call. Idempotent under retries.
func (r *Registrar) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResult, error) {
	clusters := cluster.NewStore(r.pool)
	cl, err := clusters.GetByAPIKeyHash(ctx, cluster.HashAPIKey(req.ClusterAPIKey))
	if err != nil || !cl.MatchesAPIKey(req.ClusterAPIKey) || !cl.Active {
		return HeartbeatResult{}, kinderr.New(kinderr.Auth, "invalid cluster API key")
	}

	proxies := NewStore(r.pool)
	p, err := proxies.GetByClusterAndName(ctx, cl.ID, req.ProxyName)
	if err != nil {
		return HeartbeatResult{}, kinderr.New(kinderr.Auth, "unknown proxy; re-register")
	}
	if p.IsRetired() {
		return HeartbeatResult{}, kinderr.New(kinderr.Auth, "proxy retired; re-register")
	}
	if _, err := proxies.Heartbeat(ctx, cl.ID, req.ProxyName, req.Version, req.Capabilities, req.ConfigVersion, nowFunc()); err != nil {
		return HeartbeatResult{}, err
	}
	return HeartbeatResult{Acknowledged: true, NextIntervalSeconds: int(defaultHeartbeatInterval.Seconds())}, nil
}

// ListProxies returns all proxies for a cluster, for operator surfaces.
func (r *Registrar) ListProxies(ctx context.Context, clusterID uuid.UUID) ([]Proxy, error) {
	return NewStore(r.pool).ListByCluster(ctx, clusterID)
}

// Reap sweeps proxies past the stale/retire thresholds and returns the
// number of proxies whose status changed.
func (r *Registrar) Reap(ctx context.Context, now time.Time) (int, error) {
	proxies := NewStore(r.pool)
	candidates, err := proxies.ListStaleCandidates(ctx, now, r.staleThreshold, r.retireThreshold)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, p := range candidates {
		var next Status
		switch p.Status {
		case StatusRegistering, StatusActive:
			next = StatusStale
		case StatusStale:
			next = StatusRetired
		default:
			continue
		}
		if err := proxies.SetStatus(ctx, p.ID, next); err != nil {
			return cleaned, err
		}
		cleaned++
		telemetry.FleetReapedTotal.WithLabelValues(string(next)).Inc()
		if next == StatusRetired {
			telemetry.FleetActiveProxies.WithLabelValues(p.ClusterID.String()).Dec()
		}
	}
	return cleaned, nil
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now
