package configdist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
	"github.com/penguintechinc/marchproxy-control/internal/telemetry"
	"github.com/penguintechinc/marchproxy-control/pkg/cluster"
)

// ClusterLookup is the subset of cluster.Store the service needs to
// authenticate an incoming cluster API key.
type ClusterLookup interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (cluster.Cluster, error)
}

// Service implements get_cluster_config, get_proxy_config, and poll_changes.
type Service struct {
	clusters ClusterLookup
	renderer *Renderer
	notifier *Notifier
}

// New creates a Service.
func New(clusters ClusterLookup, renderer *Renderer, notifier *Notifier) *Service {
	return &Service{clusters: clusters, renderer: renderer, notifier: notifier}
}

func (s *Service) authenticate(ctx context.Context, clusterAPIKey string) (cluster.Cluster, error) {
	cl, err := s.clusters.GetByAPIKeyHash(ctx, cluster.HashAPIKey(clusterAPIKey))
	if err != nil {
		return cluster.Cluster{}, kinderr.Wrap(kinderr.Auth, "invalid cluster API key", err)
	}
	if !cl.MatchesAPIKey(clusterAPIKey) || !cl.Active {
		return cluster.Cluster{}, kinderr.New(kinderr.Auth, "invalid or inactive cluster")
	}
	return cl, nil
}

// GetClusterConfig renders the unrestricted config for a cluster.
func (s *Service) GetClusterConfig(ctx context.Context, clusterAPIKey string) (ConfigSnapshot, error) {
	cl, err := s.authenticate(ctx, clusterAPIKey)
	if err != nil {
		return ConfigSnapshot{}, err
	}
	snap, err := s.renderer.Render(ctx, cl.ID, nil)
	if err != nil {
		return ConfigSnapshot{}, err
	}
	telemetry.ConfigVersionsServedTotal.WithLabelValues("boot").Inc()
	return snap, nil
}

// GetProxyConfig renders the config subset appropriate for a specific
// proxy's declared capability set.
func (s *Service) GetProxyConfig(ctx context.Context, clusterAPIKey string, capabilities []string) (ConfigSnapshot, error) {
	cl, err := s.authenticate(ctx, clusterAPIKey)
	if err != nil {
		return ConfigSnapshot{}, err
	}
	snap, err := s.renderer.Render(ctx, cl.ID, capabilities)
	if err != nil {
		return ConfigSnapshot{}, err
	}
	telemetry.ConfigVersionsServedTotal.WithLabelValues("boot").Inc()
	return snap, nil
}

// PollResult is the outcome of PollChanges.
type PollResult struct {
	Snapshot  ConfigSnapshot
	NoChange  bool
}

// PollChanges implements long-poll semantics: returns immediately if the
// current version differs from lastSeenVersion, otherwise blocks up to
// maxWait or until the version advances, whichever comes first.
func (s *Service) PollChanges(ctx context.Context, clusterAPIKey, lastSeenVersion string, maxWait time.Duration) (PollResult, error) {
	cl, err := s.authenticate(ctx, clusterAPIKey)
	if err != nil {
		return PollResult{}, err
	}

	snap, err := s.renderer.Render(ctx, cl.ID, nil)
	if err != nil {
		return PollResult{}, err
	}
	if snap.Version != lastSeenVersion {
		telemetry.ConfigVersionsServedTotal.WithLabelValues("poll_changed").Inc()
		return PollResult{Snapshot: snap}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	observed := s.notifier.WaitForChange(waitCtx, cl.ID, lastSeenVersion)
	if observed == lastSeenVersion {
		return PollResult{NoChange: true}, nil
	}

	snap, err = s.renderer.Render(ctx, cl.ID, nil)
	if err != nil {
		return PollResult{}, err
	}
	telemetry.ConfigVersionsServedTotal.WithLabelValues("poll_changed").Inc()
	return PollResult{Snapshot: snap}, nil
}

// NotifyMutated must be called by every operator-facing mutation to a
// cluster's services, mappings, certificates, or logging configuration, so
// blocked pollers observe the new version without waiting out max_wait.
func (s *Service) NotifyMutated(ctx context.Context, clusterID uuid.UUID) error {
	snap, err := s.renderer.Render(ctx, clusterID, nil)
	if err != nil {
		return err
	}
	s.notifier.Publish(ctx, clusterID, snap.Version)
	return nil
}
