package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/db"
)

// Store provides database operations for clusters.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a cluster Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const clusterColumns = `id, name, api_key_hash, max_proxies, logging_json, is_default, active, created_at, updated_at`

func scanCluster(row pgx.Row) (Cluster, error) {
	var c Cluster
	var logging []byte
	err := row.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.MaxProxies, &logging, &c.IsDefault, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Cluster{}, err
	}
	if len(logging) > 0 {
		c.LoggingJSON = json.RawMessage(logging)
	}
	return c, nil
}

// Get returns a single cluster by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Cluster, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id)
	return scanCluster(row)
}

// GetByAPIKeyHash looks up the cluster whose current key hashes to hash.
// Returns pgx.ErrNoRows if none matches.
func (s *Store) GetByAPIKeyHash(ctx context.Context, hash string) (Cluster, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE api_key_hash = $1`, hash)
	return scanCluster(row)
}

// List returns all clusters ordered by name.
func (s *Store) List(ctx context.Context) ([]Cluster, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+clusterColumns+` FROM clusters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateParams holds the fields needed to create a cluster.
type CreateParams struct {
	Name        string
	APIKeyHash  string
	MaxProxies  int
	LoggingJSON json.RawMessage
	IsDefault   bool
}

// Create inserts a new cluster.
func (s *Store) Create(ctx context.Context, p CreateParams) (Cluster, error) {
	logging := p.LoggingJSON
	if logging == nil {
		logging = json.RawMessage("{}")
	}
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO clusters (name, api_key_hash, max_proxies, logging_json, is_default, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING `+clusterColumns,
		p.Name, p.APIKeyHash, p.MaxProxies, []byte(logging), p.IsDefault,
	)
	return scanCluster(row)
}

// RotateKey atomically replaces the cluster's API key hash, invalidating the
// previous key.
func (s *Store) RotateKey(ctx context.Context, id uuid.UUID, newHash string) (Cluster, error) {
	row := s.dbtx.QueryRow(ctx, `
		UPDATE clusters SET api_key_hash = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+clusterColumns,
		id, newHash,
	)
	return scanCluster(row)
}

// SetActive toggles the active flag.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE clusters SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("updating cluster active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster %s not found", id)
	}
	return nil
}

// ActiveProxyCount returns the number of proxies in registering or active
// state for the cluster. Callers that gate registration against capacity
// MUST run this inside the same transaction as the subsequent insert.
func (s *Store) ActiveProxyCount(ctx context.Context, clusterID uuid.UUID) (int, error) {
	var count int
	err := s.dbtx.QueryRow(ctx, `
		SELECT count(*) FROM proxies
		WHERE cluster_id = $1 AND status IN ('registering', 'active')
	`, clusterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active proxies: %w", err)
	}
	return count, nil
}
