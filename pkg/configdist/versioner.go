package configdist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Versioner computes a content-addressed version string for a ConfigSnapshot.
// Canonicalization sorts mappings by priority then id, services by id, and
// certificates by id before serializing, so identical configuration content
// always yields identical bytes regardless of store read order.
type Versioner struct{}

// NewVersioner creates a Versioner.
func NewVersioner() *Versioner {
	return &Versioner{}
}

// Version computes the snapshot's content digest. The Version field itself
// is excluded from the hashed content, since it is the output, not the input.
func (v *Versioner) Version(snap ConfigSnapshot) (string, error) {
	canonical := canonicalize(snap)
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("serializing canonical snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonical is the fixed-key-order, hash-stable view of a ConfigSnapshot.
type canonical struct {
	ClusterID    string                `json:"cluster_id"`
	ClusterName  string                `json:"cluster_name"`
	Services     []RenderedService     `json:"services"`
	Mappings     []RenderedMapping     `json:"mappings"`
	Certificates []RenderedCertificate `json:"certificates"`
	Logging      LoggingConfig         `json:"logging"`
}

func canonicalize(snap ConfigSnapshot) canonical {
	services := append([]RenderedService(nil), snap.Services...)
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })

	mappings := append([]RenderedMapping(nil), snap.Mappings...)
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].Priority != mappings[j].Priority {
			return mappings[i].Priority < mappings[j].Priority
		}
		return mappings[i].ID < mappings[j].ID
	})

	certs := append([]RenderedCertificate(nil), snap.Certificates...)
	sort.Slice(certs, func(i, j int) bool { return certs[i].ID < certs[j].ID })

	return canonical{
		ClusterID:    snap.ClusterID,
		ClusterName:  snap.ClusterName,
		Services:     services,
		Mappings:     mappings,
		Certificates: certs,
		Logging:      snap.Logging,
	}
}
