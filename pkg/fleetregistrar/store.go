package fleetregistrar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/db"
)

// Store provides database operations for proxy instances.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const proxyColumns = `id, cluster_id, name, hostname, address, port, version, capabilities,
	status, last_heartbeat, config_version, created_at, updated_at`

func scanProxy(row pgx.Row) (Proxy, error) {
	var p Proxy
	err := row.Scan(
		&p.ID, &p.ClusterID, &p.Name, &p.Hostname, &p.Address, &p.Port, &p.Version, &p.Capabilities,
		&p.Status, &p.LastHeartbeat, &p.ConfigVersion, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetByClusterAndName returns the proxy for a (cluster, name) slot, if any.
func (s *Store) GetByClusterAndName(ctx context.Context, clusterID uuid.UUID, name string) (Proxy, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+proxyColumns+` FROM proxies WHERE cluster_id = $1 AND name = $2
	`, clusterID, name)
	return scanProxy(row)
}

// Upsert creates or reuses the (cluster, name) slot for a newly registering
// proxy, resetting status to registering and last_heartbeat to now.
func (s *Store) Upsert(ctx context.Context, p Proxy) (Proxy, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO proxies (
			cluster_id, name, hostname, address, port, version, capabilities,
			status, last_heartbeat, config_version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (cluster_id, name) DO UPDATE SET
			hostname = EXCLUDED.hostname, address = EXCLUDED.address, port = EXCLUDED.port,
			version = EXCLUDED.version, capabilities = EXCLUDED.capabilities,
			status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = now()
		RETURNING `+proxyColumns,
		p.ClusterID, p.Name, p.Hostname, p.Address, p.Port, p.Version, p.Capabilities,
		p.Status, p.LastHeartbeat, p.ConfigVersion,
	)
	return scanProxy(row)
}

// Heartbeat updates heartbeat state for an existing proxy and promotes
// registering→active on first call.
func (s *Store) Heartbeat(ctx context.Context, clusterID uuid.UUID, name string, version string, capabilities []string, configVersion string, now time.Time) (Proxy, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE proxies SET
			version = $3, capabilities = $4, config_version = $5, last_heartbeat = $6,
			status = CASE WHEN status = 'registering' THEN 'active' ELSE status END,
			updated_at = now()
		WHERE cluster_id = $1 AND name = $2
		RETURNING `+proxyColumns,
		clusterID, name, version, capabilities, configVersion, now,
	)
	return scanProxy(row)
}

// ListByCluster returns all proxies for a cluster, ordered by name.
func (s *Store) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]Proxy, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+proxyColumns+` FROM proxies WHERE cluster_id = $1 ORDER BY name
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing proxies: %w", err)
	}
	defer rows.Close()

	var out []Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proxy row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStaleCandidates returns active proxies whose last heartbeat is older
// than the stale threshold, and stale proxies older than the retire threshold.
func (s *Store) ListStaleCandidates(ctx context.Context, now time.Time, staleThreshold, retireThreshold time.Duration) ([]Proxy, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+proxyColumns+` FROM proxies
		WHERE (status IN ('registering','active') AND last_heartbeat < $1)
		   OR (status = 'stale' AND last_heartbeat < $2)
	`, now.Add(-staleThreshold), now.Add(-retireThreshold))
	if err != nil {
		return nil, fmt.Errorf("listing reap candidates: %w", err)
	}
	defer rows.Close()

	var out []Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proxy row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus transitions a proxy to a new status.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE proxies SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("setting proxy status: %w", err)
	}
	return nil
}
