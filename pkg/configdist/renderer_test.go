package configdist

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/penguintechinc/marchproxy-control/pkg/certificate"
	"github.com/penguintechinc/marchproxy-control/pkg/cluster"
	"github.com/penguintechinc/marchproxy-control/pkg/mapping"
	"github.com/penguintechinc/marchproxy-control/pkg/service"
)

type fakeClusterStore struct{ cl cluster.Cluster }

func (f fakeClusterStore) Get(ctx context.Context, id uuid.UUID) (cluster.Cluster, error) {
	return f.cl, nil
}

type fakeServiceStore struct{ services []service.Service }

func (f fakeServiceStore) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]service.Service, error) {
	return f.services, nil
}

type fakeMappingStore struct{ mappings []mapping.Mapping }

func (f fakeMappingStore) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]mapping.Mapping, error) {
	return f.mappings, nil
}

type fakeCertificateStore struct{ certs []certificate.Certificate }

func (f fakeCertificateStore) ListActiveByCluster(ctx context.Context, clusterID uuid.UUID) ([]certificate.Certificate, error) {
	return f.certs, nil
}

func testCluster() cluster.Cluster {
	return cluster.Cluster{ID: uuid.New(), Name: "cluster-a", Active: true, MaxProxies: 10}
}

func TestRenderBasicSnapshot(t *testing.T) {
	cl := testCluster()
	svcs := []service.Service{
		{ID: 1, Name: "db", Host: "db.internal", Port: 5432, Transport: service.TransportTCP, AuthType: service.AuthNone, Active: true},
		{ID: 2, Name: "cache", Host: "cache.internal", Port: 6379, Transport: service.TransportTCP, AuthType: service.AuthSymmetricToken, TokenValue: "secret", Active: true},
	}
	maps := []mapping.Mapping{
		{ID: 1, Name: "edge-to-db", Sources: []int64{2}, Destinations: []int64{1}, Ports: []mapping.PortRange{{Low: 5432, High: 5432}}, Protocols: []mapping.Protocol{mapping.ProtocolTCP}, Priority: 10, Active: true},
	}
	r := NewRenderer(fakeClusterStore{cl}, fakeServiceStore{svcs}, fakeMappingStore{maps}, fakeCertificateStore{})

	snap, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(snap.Services))
	}
	if len(snap.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(snap.Mappings))
	}
	if len(snap.Mappings[0].Destinations) != 1 || snap.Mappings[0].Destinations[0].Host != "db.internal" {
		t.Fatalf("expected resolved destination, got %+v", snap.Mappings[0].Destinations)
	}
	if snap.Version == "" {
		t.Fatal("expected a non-empty version")
	}
	if len(snap.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", snap.Warnings)
	}
}

func TestRenderElidesMissingServiceReference(t *testing.T) {
	cl := testCluster()
	svcs := []service.Service{{ID: 1, Name: "db", Host: "db.internal", Port: 5432, Active: true}}
	maps := []mapping.Mapping{
		{ID: 1, Name: "edge-to-ghost", Sources: []int64{1}, Destinations: []int64{999}, Priority: 10, Active: true},
	}
	r := NewRenderer(fakeClusterStore{cl}, fakeServiceStore{svcs}, fakeMappingStore{maps}, fakeCertificateStore{})

	snap, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Mappings[0].Destinations) != 0 {
		t.Fatalf("expected missing destination to be elided, got %+v", snap.Mappings[0].Destinations)
	}
	if len(snap.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", snap.Warnings)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	cl := testCluster()
	svcs := []service.Service{{ID: 1, Name: "db", Host: "db.internal", Port: 5432, Active: true}}
	r := NewRenderer(fakeClusterStore{cl}, fakeServiceStore{svcs}, fakeMappingStore{}, fakeCertificateStore{})

	snap1, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap2, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap1.Version != snap2.Version {
		t.Fatalf("expected identical renders to produce identical versions, got %q vs %q", snap1.Version, snap2.Version)
	}
}

func TestRenderVersionChangesOnDeactivation(t *testing.T) {
	cl := testCluster()
	svcs := []service.Service{
		{ID: 1, Name: "s1", Host: "s1.internal", Port: 80, Active: true},
		{ID: 2, Name: "s2", Host: "s2.internal", Port: 81, Active: true},
	}
	r := NewRenderer(fakeClusterStore{cl}, fakeServiceStore{svcs}, fakeMappingStore{}, fakeCertificateStore{})
	v0, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r2 := NewRenderer(fakeClusterStore{cl}, fakeServiceStore{svcs[:1]}, fakeMappingStore{}, fakeCertificateStore{})
	v1, err := r2.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v0.Version == v1.Version {
		t.Fatal("expected version to change after deactivating a service")
	}

	v2, err := r.Render(context.Background(), cl.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2.Version != v0.Version {
		t.Fatalf("expected reactivated config to reproduce the original version, got %q vs %q", v2.Version, v0.Version)
	}
}

func TestCapabilityFiltersTransport(t *testing.T) {
	if !capabilityAllowsTransport(nil, service.TransportTCP) {
		t.Fatal("expected nil capability set to allow all transports")
	}
	if !capabilityAllowsTransport([]string{"tcp", "mtls"}, service.TransportTCP) {
		t.Fatal("expected tcp capability to allow tcp transport")
	}
	if capabilityAllowsTransport([]string{"udp"}, service.TransportTCP) {
		t.Fatal("expected udp-only capability set to exclude tcp transport")
	}
}
