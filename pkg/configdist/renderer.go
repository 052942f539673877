package configdist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/penguintechinc/marchproxy-control/pkg/certificate"
	"github.com/penguintechinc/marchproxy-control/pkg/cluster"
	"github.com/penguintechinc/marchproxy-control/pkg/mapping"
	"github.com/penguintechinc/marchproxy-control/pkg/service"
)

// ClusterStore is the subset of cluster.Store the renderer needs.
type ClusterStore interface {
	Get(ctx context.Context, id uuid.UUID) (cluster.Cluster, error)
}

// ServiceStore is the subset of service.Store the renderer needs.
type ServiceStore interface {
	ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]service.Service, error)
}

// MappingStore is the subset of mapping.Store the renderer needs.
type MappingStore interface {
	ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]mapping.Mapping, error)
}

// CertificateStore is the subset of certificate.Store the renderer needs.
type CertificateStore interface {
	ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]certificate.Certificate, error)
}

// Renderer builds a ConfigSnapshot from a consistent read of a cluster's
// active services, mappings, and certificates. Render is pure: identical
// inputs produce identical snapshot content (and so, via Versioner,
// identical versions).
type Renderer struct {
	clusters     ClusterStore
	services     ServiceStore
	mappings     MappingStore
	certificates CertificateStore
	versioner    *Versioner
}

// NewRenderer creates a Renderer over the given stores.
func NewRenderer(clusters ClusterStore, services ServiceStore, mappings MappingStore, certificates CertificateStore) *Renderer {
	return &Renderer{clusters: clusters, services: services, mappings: mappings, certificates: certificates, versioner: NewVersioner()}
}

// Render produces a full ConfigSnapshot for a cluster. A capabilities filter
// of nil renders the unrestricted cluster config; a non-nil filter narrows
// services/mappings to what get_proxy_config should expose for a proxy
// whose capability set excludes parts of the cluster config.
func (r *Renderer) Render(ctx context.Context, clusterID uuid.UUID, capabilities []string) (ConfigSnapshot, error) {
	cl, err := r.clusters.Get(ctx, clusterID)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("loading cluster: %w", err)
	}

	svcs, err := r.services.ListActiveByCluster(ctx, clusterID)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("loading services: %w", err)
	}
	maps, err := r.mappings.ListActiveByCluster(ctx, clusterID)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("loading mappings: %w", err)
	}
	certs, err := r.certificates.ListActiveByCluster(ctx, clusterID)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("loading certificates: %w", err)
	}

	byID := make(map[int64]service.Service, len(svcs))
	for _, s := range svcs {
		byID[s.ID] = s
	}

	snap := ConfigSnapshot{
		ClusterID:   cl.ID.String(),
		ClusterName: cl.Name,
		Logging:     renderLogging(cl),
	}

	var warnings []string
	for _, s := range svcs {
		if !capabilityAllowsTransport(capabilities, s.Transport) {
			continue
		}
		snap.Services = append(snap.Services, renderService(s))
	}

	for _, m := range maps {
		rendered, ws := renderMapping(m, byID)
		warnings = append(warnings, ws...)
		if rendered != nil {
			snap.Mappings = append(snap.Mappings, *rendered)
		}
	}

	for _, c := range certs {
		snap.Certificates = append(snap.Certificates, RenderedCertificate{
			ID: c.ID, Name: c.Name, Type: c.Type, PEM: c.PEM, NotBefore: c.NotBefore, NotAfter: c.NotAfter,
		})
	}

	snap.Warnings = warnings
	version, err := r.versioner.Version(snap)
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("computing version: %w", err)
	}
	snap.Version = version
	return snap, nil
}

func renderLogging(cl cluster.Cluster) LoggingConfig {
	if len(cl.LoggingJSON) == 0 {
		return LoggingConfig{}
	}
	var lc LoggingConfig
	// Malformed logging JSON is never fatal to rendering a snapshot; an
	// empty LoggingConfig is a safe default.
	_ = json.Unmarshal(cl.LoggingJSON, &lc)
	return lc
}

func renderService(s service.Service) RenderedService {
	return RenderedService{
		ID: s.ID, Name: s.Name, Host: s.Host, Port: s.Port, Transport: s.Transport, AuthType: s.AuthType,
		TokenValue:        s.TokenValue,
		SignedTokenSecret: s.SignedTokenSecret,
		SignedTokenAlg:    s.SignedTokenAlg,
		SignedTokenExpirySeconds: int64(s.SignedTokenExpiry.Seconds()),
		TLSEnabled:        s.TLSEnabled,
		TLSVerify:         s.TLSVerify,
	}
}

func renderMapping(m mapping.Mapping, byID map[int64]service.Service) (*RenderedMapping, []string) {
	var warnings []string

	sources, w := resolveRefs(m.Sources, byID, m.Name, "source")
	warnings = append(warnings, w...)
	dests, w := resolveRefs(m.Destinations, byID, m.Name, "destination")
	warnings = append(warnings, w...)

	ports := make([]string, 0, len(m.Ports))
	for _, pr := range m.Ports {
		if expanded, ok := pr.Expand(); ok {
			for _, p := range expanded {
				ports = append(ports, fmt.Sprintf("%d", p))
			}
			continue
		}
		ports = append(ports, pr.String())
	}

	return &RenderedMapping{
		ID: m.ID, Name: m.Name, Sources: sources, Destinations: dests,
		Ports: ports, Protocols: m.Protocols, AuthRequired: m.AuthRequired, Priority: m.Priority,
	}, warnings
}

func resolveRefs(ids []int64, byID map[int64]service.Service, mappingName, role string) ([]ServiceRef, []string) {
	var refs []ServiceRef
	var warnings []string
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("mapping %q: %s service %d not found, elided", mappingName, role, id))
			continue
		}
		refs = append(refs, ServiceRef{ID: s.ID, Host: s.Host, Port: s.Port, Transport: s.Transport})
	}
	return refs, warnings
}

// capabilityAllowsTransport reports whether the proxy's declared capability
// set includes the transport a service requires; a nil/empty capability set
// means "unrestricted" (get_cluster_config).
func capabilityAllowsTransport(capabilities []string, transport service.Transport) bool {
	if len(capabilities) == 0 {
		return true
	}
	for _, c := range capabilities {
		if c == string(transport) {
			return true
		}
	}
	return false
}
