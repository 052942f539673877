package mapping

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/penguintechinc/marchproxy-control/internal/db"
)

// Store provides database operations for mappings.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const mappingColumns = `id, cluster_id, name, sources, destinations, ports, protocols,
	auth_required, priority, active, created_at, updated_at`

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	var ports, protocols []string
	err := row.Scan(
		&m.ID, &m.ClusterID, &m.Name, &m.Sources, &m.Destinations, &ports, &protocols,
		&m.AuthRequired, &m.Priority, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Mapping{}, err
	}
	m.Ports, err = parsePortRanges(ports)
	if err != nil {
		return Mapping{}, fmt.Errorf("parsing ports: %w", err)
	}
	for _, p := range protocols {
		m.Protocols = append(m.Protocols, Protocol(p))
	}
	return m, nil
}

func parsePortRanges(raw []string) ([]PortRange, error) {
	out := make([]PortRange, 0, len(raw))
	for _, s := range raw {
		if low, high, ok := strings.Cut(s, "-"); ok {
			l, err := strconv.Atoi(low)
			if err != nil {
				return nil, err
			}
			h, err := strconv.Atoi(high)
			if err != nil {
				return nil, err
			}
			out = append(out, PortRange{Low: l, High: h})
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out = append(out, PortRange{Low: v, High: v})
	}
	return out, nil
}

func portRangesToStrings(ranges []PortRange) []string {
	out := make([]string, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, r.String())
	}
	return out
}

func protocolsToStrings(protocols []Protocol) []string {
	out := make([]string, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, string(p))
	}
	return out
}

// ListActiveByCluster returns all active mappings for a cluster, ordered by
// priority so callers can match in first-hit precedence order.
func (s *Store) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]Mapping, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+mappingColumns+` FROM mappings
		WHERE cluster_id = $1 AND active = true
		ORDER BY priority, id
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mapping row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns a single mapping by ID.
func (s *Store) Get(ctx context.Context, id int64) (Mapping, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id = $1`, id)
	return scanMapping(row)
}

// Upsert inserts or replaces a mapping.
func (s *Store) Upsert(ctx context.Context, m Mapping) (Mapping, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO mappings (
			cluster_id, name, sources, destinations, ports, protocols,
			auth_required, priority, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (cluster_id, name) DO UPDATE SET
			sources = EXCLUDED.sources, destinations = EXCLUDED.destinations,
			ports = EXCLUDED.ports, protocols = EXCLUDED.protocols,
			auth_required = EXCLUDED.auth_required, priority = EXCLUDED.priority,
			active = EXCLUDED.active, updated_at = now()
		RETURNING `+mappingColumns,
		m.ClusterID, m.Name, m.Sources, m.Destinations,
		portRangesToStrings(m.Ports), protocolsToStrings(m.Protocols),
		m.AuthRequired, m.Priority, m.Active,
	)
	return scanMapping(row)
}
