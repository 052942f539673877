package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/db"
)

// Store provides database operations for certificates.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const certificateColumns = `id, cluster_id, name, type, subject_dn, issuer_dn, serial, fingerprint,
	not_before, not_after, source, auto_rotate, rotation_threshold_days,
	last_rotation_attempt, rotation_error, active, revoked, revoked_reason, revoked_at, pem,
	created_at, updated_at`

func scanCertificate(row pgx.Row) (Certificate, error) {
	var c Certificate
	var lastRotationAttempt *time.Time
	var revokedAt *time.Time
	var revokedReason *string
	err := row.Scan(
		&c.ID, &c.ClusterID, &c.Name, &c.Type, &c.SubjectDN, &c.IssuerDN, &c.Serial, &c.Fingerprint,
		&c.NotBefore, &c.NotAfter, &c.Source, &c.AutoRotate, &c.RotationThresholdDays,
		&lastRotationAttempt, &c.RotationError, &c.Active, &c.Revocation.Revoked, &revokedReason, &revokedAt, &c.PEM,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Certificate{}, err
	}
	if lastRotationAttempt != nil {
		c.LastRotationAttempt = *lastRotationAttempt
	}
	if revokedAt != nil {
		c.Revocation.At = *revokedAt
	}
	if revokedReason != nil {
		c.Revocation.Reason = *revokedReason
	}
	return c, nil
}

// ListActiveByCluster returns all active, unrevoked certificates for a cluster.
func (s *Store) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]Certificate, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE cluster_id = $1 AND active = true AND revoked = false
		ORDER BY name
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning certificate row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDueForRotation returns auto-rotate-eligible certificates across all
// clusters whose not_after falls within their rotation threshold of now.
func (s *Store) ListDueForRotation(ctx context.Context, now time.Time) ([]Certificate, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE auto_rotate = true AND source != 'upload' AND active = true
		  AND not_after <= $1 + (rotation_threshold_days || ' days')::interval
	`, now)
	if err != nil {
		return nil, fmt.Errorf("listing certificates due for rotation: %w", err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning certificate row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns a single certificate by ID.
func (s *Store) Get(ctx context.Context, id int64) (Certificate, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id)
	return scanCertificate(row)
}

// Create inserts a new certificate.
func (s *Store) Create(ctx context.Context, c Certificate) (Certificate, error) {
	if err := c.Validate(); err != nil {
		return Certificate{}, fmt.Errorf("invalid certificate: %w", err)
	}
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO certificates (
			cluster_id, name, type, subject_dn, issuer_dn, serial, fingerprint,
			not_before, not_after, source, auto_rotate, rotation_threshold_days, active, pem
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+certificateColumns,
		c.ClusterID, c.Name, c.Type, c.SubjectDN, c.IssuerDN, c.Serial, c.Fingerprint,
		c.NotBefore, c.NotAfter, c.Source, c.AutoRotate, c.RotationThresholdDays, c.Active, c.PEM,
	)
	return scanCertificate(row)
}

// Revoke marks a certificate revoked with a reason, effective now.
func (s *Store) Revoke(ctx context.Context, id int64, reason string, now time.Time) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE certificates SET revoked = true, revoked_reason = $2, revoked_at = $3, updated_at = now()
		WHERE id = $1
	`, id, reason, now)
	if err != nil {
		return fmt.Errorf("revoking certificate: %w", err)
	}
	return nil
}

// RecordRotationAttempt records the outcome of an auto-rotation attempt,
// clearing RotationError on success (empty errMsg).
func (s *Store) RecordRotationAttempt(ctx context.Context, id int64, attemptedAt time.Time, errMsg string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE certificates SET last_rotation_attempt = $2, rotation_error = $3, updated_at = now()
		WHERE id = $1
	`, id, attemptedAt, errMsg)
	if err != nil {
		return fmt.Errorf("recording rotation attempt: %w", err)
	}
	return nil
}
