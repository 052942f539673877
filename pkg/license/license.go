// Package license implements the License Enforcer: a cached validation
// record refreshed from an external issuer, consulted read-only by the
// Fleet Registrar for capacity decisions.
package license

import (
	"context"
	"sync"
	"time"

	"github.com/penguintechinc/marchproxy-control/internal/telemetry"
)

// Tier is the license tier.
type Tier string

const (
	TierCommunity  Tier = "community"
	TierEnterprise Tier = "enterprise"
)

// State is the license validation state machine value.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateValidating     State = "validating"
	StateValid          State = "valid"
	StateInvalid        State = "invalid"
	StateGrace          State = "grace"
)

// communityDefaultCapacity is the max_proxies ceiling applied while the
// license is invalid (no enterprise entitlement in effect).
const communityDefaultCapacity = 3

// Record is a validation record cached from the external issuer.
type Record struct {
	Tier           Tier
	Valid          bool
	MaxProxies     int
	Features       map[string]bool
	Expiry         time.Time
	LastKeepalive  time.Time
	Stale          bool
}

// HasFeature reports whether feature is enabled in the cached record.
func (r Record) HasFeature(feature string) bool {
	return r.Features[feature]
}

// IssuerClient contacts the external license issuer.
type IssuerClient interface {
	// Validate exchanges the license key for a freshly-issued record.
	Validate(ctx context.Context, licenseKey string) (Record, error)
	// Keepalive signals the issuer the license is in active use.
	Keepalive(ctx context.Context, licenseKey string) error
}

// Service implements the validate/check_feature/capacity/keepalive state
// machine for a single license key.
type Service struct {
	licenseKey string
	issuer     IssuerClient
	grace      time.Duration

	mu     sync.RWMutex
	state  State
	record Record

	backoff backoffSchedule
}

// New creates a Service for licenseKey. grace is how long a license record
// remains usable (with a stale warning) after its expiry timestamp passes.
func New(licenseKey string, issuer IssuerClient, grace time.Duration) *Service {
	if grace <= 0 {
		grace = time.Hour
	}
	s := &Service{
		licenseKey: licenseKey,
		issuer:     issuer,
		grace:      grace,
		state:      StateUninitialized,
		backoff:    newBackoffSchedule(time.Second, 5*time.Minute),
	}
	s.reportState()
	return s
}

// Validate returns the cached record unless it is expired or forceRefresh is
// set, in which case it contacts the issuer. On issuer failure within the
// grace window the cached record is returned with Stale=true.
func (s *Service) Validate(ctx context.Context, forceRefresh bool) (Record, error) {
	s.mu.RLock()
	rec := s.record
	state := s.state
	s.mu.RUnlock()

	now := nowFunc()
	needsRefresh := forceRefresh || state == StateUninitialized || ((state == StateValid || state == StateGrace) && now.After(rec.Expiry))
	if !needsRefresh {
		return rec, nil
	}

	s.setState(StateValidating)
	fresh, err := s.issuer.Validate(ctx, s.licenseKey)
	if err != nil {
		return s.handleValidateFailure(now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = fresh
	s.record.Stale = false
	if !fresh.Valid {
		s.state = StateInvalid
	} else if now.After(fresh.Expiry) {
		s.state = StateGrace
	} else {
		s.state = StateValid
	}
	s.reportStateLocked()
	return s.record, nil
}

func (s *Service) handleValidateFailure(now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateValid && now.Sub(s.record.Expiry) <= s.grace {
		s.state = StateGrace
	}
	if now.Sub(s.record.Expiry) > s.grace {
		s.state = StateInvalid
	}
	s.record.Stale = true
	s.reportStateLocked()
	return s.record, nil
}

// CheckFeature consults the cached record's feature set.
func (s *Service) CheckFeature(feature string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.HasFeature(feature)
}

// Capacity returns the max_proxies ceiling in effect right now. During
// StateInvalid it returns the community default regardless of the cached
// record's value.
func (s *Service) Capacity(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateInvalid {
		return communityDefaultCapacity, nil
	}
	if s.record.MaxProxies <= 0 {
		return communityDefaultCapacity, nil
	}
	return s.record.MaxProxies, nil
}

// Keepalive signals the issuer the license is in use. On failure it backs
// off exponentially (capped) before the next caller-scheduled attempt is
// worth retrying; state does not flip outside the grace window on a bare
// network failure.
func (s *Service) Keepalive(ctx context.Context) error {
	err := s.issuer.Keepalive(ctx, s.licenseKey)
	if err != nil {
		telemetry.LicenseKeepaliveFailuresTotal.Inc()
		s.backoff.recordFailure()
		return err
	}
	s.backoff.recordSuccess()

	s.mu.Lock()
	s.record.LastKeepalive = nowFunc()
	s.mu.Unlock()
	return nil
}

// NextKeepaliveDelay returns how long the caller's scheduler should wait
// before the next keepalive attempt, honoring the exponential backoff.
func (s *Service) NextKeepaliveDelay() time.Duration {
	return s.backoff.current()
}

// ReadyForKeepalive reports whether a keepalive attempt may proceed right
// now under the current backoff-derived rate limit. A fixed-interval caller
// (e.g. a cron schedule) must check this before every attempt, since a
// failing issuer backs the allowed rate off exponentially below that interval.
func (s *Service) ReadyForKeepalive() bool {
	return s.backoff.Allow()
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.reportStateLocked()
}

func (s *Service) reportState() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.reportStateLocked()
}

// reportStateLocked publishes the current state to Prometheus as a set of
// mutually exclusive gauge values; callers must hold s.mu.
func (s *Service) reportStateLocked() {
	for _, st := range []State{StateUninitialized, StateValidating, StateValid, StateInvalid, StateGrace} {
		v := 0.0
		if st == s.state {
			v = 1.0
		}
		telemetry.LicenseState.WithLabelValues(string(st)).Set(v)
	}
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now
