// Package cluster implements the Cluster entity: the logical boundary
// grouping proxies and services, identified to the data plane by a rotatable
// API key.
package cluster

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Cluster is a logical boundary grouping proxies and services.
type Cluster struct {
	ID          uuid.UUID
	Name        string
	APIKeyHash  string // SHA-256 hex digest of the current cluster API key
	MaxProxies  int
	LoggingJSON json.RawMessage
	IsDefault   bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GenerateAPIKey returns a new uniformly random, opaque cluster API key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "mpc_" + hex.EncodeToString(b), nil
}

// HashAPIKey returns the SHA-256 hex digest stored and indexed in place of
// the raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MatchesAPIKey reports whether raw hashes to the cluster's stored digest,
// comparing the two digests in constant time.
func (c Cluster) MatchesAPIKey(raw string) bool {
	want := HashAPIKey(raw)
	return hmac.Equal([]byte(want), []byte(c.APIKeyHash))
}
