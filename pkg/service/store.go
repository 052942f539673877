package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/db"
)

// Store provides database operations for services.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const serviceColumns = `id, cluster_id, name, host, port, transport, auth_type,
	token_value, signed_token_secret, signed_token_expiry_seconds, signed_token_alg,
	tls_enabled, tls_verify, active, created_at, updated_at`

func scanService(row pgx.Row) (Service, error) {
	var s Service
	var expirySeconds int64
	err := row.Scan(
		&s.ID, &s.ClusterID, &s.Name, &s.Host, &s.Port, &s.Transport, &s.AuthType,
		&s.TokenValue, &s.SignedTokenSecret, &expirySeconds, &s.SignedTokenAlg,
		&s.TLSEnabled, &s.TLSVerify, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return Service{}, err
	}
	s.SignedTokenExpiry = time.Duration(expirySeconds) * time.Second
	return s, nil
}

// ListActiveByCluster returns all active services for a cluster, ordered by name.
func (s *Store) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]Service, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE cluster_id = $1 AND active = true
		ORDER BY name
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service row: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// Get returns a single service by ID.
func (s *Store) Get(ctx context.Context, id int64) (Service, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

// Upsert inserts or replaces a service's configuration.
func (s *Store) Upsert(ctx context.Context, svc Service) (Service, error) {
	if err := svc.Validate(); err != nil {
		return Service{}, fmt.Errorf("invalid service: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO services (
			cluster_id, name, host, port, transport, auth_type,
			token_value, signed_token_secret, signed_token_expiry_seconds, signed_token_alg,
			tls_enabled, tls_verify, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (cluster_id, name) DO UPDATE SET
			host = EXCLUDED.host, port = EXCLUDED.port, transport = EXCLUDED.transport,
			auth_type = EXCLUDED.auth_type, token_value = EXCLUDED.token_value,
			signed_token_secret = EXCLUDED.signed_token_secret,
			signed_token_expiry_seconds = EXCLUDED.signed_token_expiry_seconds,
			signed_token_alg = EXCLUDED.signed_token_alg,
			tls_enabled = EXCLUDED.tls_enabled, tls_verify = EXCLUDED.tls_verify,
			active = EXCLUDED.active, updated_at = now()
		RETURNING `+serviceColumns,
		svc.ClusterID, svc.Name, svc.Host, svc.Port, svc.Transport, svc.AuthType,
		svc.TokenValue, svc.SignedTokenSecret, int64(svc.SignedTokenExpiry.Seconds()), svc.SignedTokenAlg,
		svc.TLSEnabled, svc.TLSVerify, svc.Active,
	)
	return scanService(row)
}
