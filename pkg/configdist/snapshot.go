// Package configdist implements the Config Distributor: pure rendering of a
// cluster's active services, mappings, and certificates into a versioned,
// immutable ConfigSnapshot, plus long-poll delivery of version changes.
package configdist

import (
	"time"

	"github.com/penguintechinc/marchproxy-control/pkg/certificate"
	"github.com/penguintechinc/marchproxy-control/pkg/mapping"
	"github.com/penguintechinc/marchproxy-control/pkg/service"
)

// RenderedService is a service as embedded in a ConfigSnapshot, auth
// material included verbatim for services the snapshot's recipient is
// authorized to enforce.
type RenderedService struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	Host              string            `json:"host"`
	Port              int               `json:"port"`
	Transport         service.Transport `json:"transport"`
	AuthType          service.AuthType  `json:"auth_type"`
	TokenValue        string            `json:"token_value,omitempty"`
	SignedTokenSecret string            `json:"signed_token_secret,omitempty"`
	SignedTokenAlg    string            `json:"signed_token_alg,omitempty"`
	SignedTokenExpirySeconds int64      `json:"signed_token_expiry_seconds,omitempty"`
	TLSEnabled        bool              `json:"tls_enabled"`
	TLSVerify         bool              `json:"tls_verify"`
}

// ServiceRef is a resolved {id, host, port, transport} tuple a mapping's
// source/destination list points at.
type ServiceRef struct {
	ID        int64             `json:"id"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Transport service.Transport `json:"transport"`
}

// RenderedMapping is a mapping as embedded in a ConfigSnapshot, with source
// and destination references resolved.
type RenderedMapping struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Sources      []ServiceRef      `json:"sources"`
	Destinations []ServiceRef      `json:"destinations"`
	// Ports is a mix of bare port numbers ("8080") and range expressions
	// ("9000-9128") per the spec's ≤128-port expansion rule.
	Ports        []string          `json:"ports"`
	Protocols    []mapping.Protocol `json:"protocols"`
	AuthRequired bool              `json:"auth_required"`
	Priority     int               `json:"priority"`
}

// RenderedCertificate is a certificate as embedded in a ConfigSnapshot.
type RenderedCertificate struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Type      certificate.Type   `json:"type"`
	PEM       string             `json:"pem"`
	NotBefore time.Time          `json:"not_before"`
	NotAfter  time.Time          `json:"not_after"`
}

// LoggingConfig is the cluster's logging endpoint and flags, embedded
// verbatim in every snapshot.
type LoggingConfig struct {
	Endpoint string          `json:"endpoint,omitempty"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

// ConfigSnapshot is the immutable rendered configuration delivered to a proxy.
type ConfigSnapshot struct {
	Version      string                `json:"version"`
	ClusterID    string                `json:"cluster_id"`
	ClusterName  string                `json:"cluster_name"`
	Services     []RenderedService     `json:"services"`
	Mappings     []RenderedMapping     `json:"mappings"`
	Certificates []RenderedCertificate `json:"certificates"`
	Logging      LoggingConfig         `json:"logging"`
	// Warnings records non-fatal issues found while rendering, such as a
	// mapping referencing a service that no longer exists.
	Warnings []string `json:"warnings,omitempty"`
}
