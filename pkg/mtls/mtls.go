// Package mtls implements the proxy-side mTLS Validator: peer-certificate
// checks layered on top of standard chain verification, a hot-reloadable
// server TLS configuration, and a revocation list.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
)

// Policy holds the peer-certificate checks applied after chain verification.
type Policy struct {
	AllowedCNs        []string
	AllowedOUs        []string
	MaxChainDepth     int
	ExpiredGrace      time.Duration
	CustomVerify      func(*x509.Certificate) error
}

// Revocation records why and when a certificate serial was revoked. The
// Validator keeps these keyed by the serial's decimal string form and rejects
// a revoked serial regardless of its validity window.
type Revocation struct {
	Reason string
	At     time.Time
}

// Validator applies Policy and a revocation list to each handshake's peer
// certificate, and holds a hot-swappable server *tls.Config.
type Validator struct {
	tlsConfig atomic.Pointer[tls.Config]

	mu         sync.RWMutex
	policy     Policy
	revoked    map[string]Revocation

	successTotal  prometheus.Counter
	failureTotal  *prometheus.CounterVec
	handshakeSecs prometheus.Histogram
}

// New creates a Validator with the given initial policy and TLS config.
func New(policy Policy, tlsConfig *tls.Config) *Validator {
	v := &Validator{
		policy:  policy,
		revoked: make(map[string]Revocation),
		successTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy",
			Subsystem: "mtls",
			Name:      "handshake_success_total",
			Help:      "Total successful mTLS peer validations.",
		}),
		failureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marchproxy",
			Subsystem: "mtls",
			Name:      "handshake_failure_total",
			Help:      "Total failed mTLS peer validations, by kind.",
		}, []string{"kind"}),
		handshakeSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marchproxy",
			Subsystem: "mtls",
			Name:      "handshake_duration_seconds",
			Help:      "Time spent validating a peer certificate after chain verification.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	v.tlsConfig.Store(tlsConfig)
	return v
}

// Describe implements prometheus.Collector.
func (v *Validator) Describe(ch chan<- *prometheus.Desc) {
	v.successTotal.Describe(ch)
	v.failureTotal.Describe(ch)
	v.handshakeSecs.Describe(ch)
}

// Collect implements prometheus.Collector.
func (v *Validator) Collect(ch chan<- prometheus.Metric) {
	v.successTotal.Collect(ch)
	v.failureTotal.Collect(ch)
	v.handshakeSecs.Collect(ch)
}

// TLSConfig returns the current server TLS configuration.
func (v *Validator) TLSConfig() *tls.Config {
	return v.tlsConfig.Load()
}

// Reload atomically replaces the server TLS configuration, e.g. after a
// certificate or CA bundle rotation. In-flight handshakes keep using the
// config snapshot they already started with.
func (v *Validator) Reload(cfg *tls.Config) {
	v.tlsConfig.Store(cfg)
}

// SetPolicy atomically replaces the peer-certificate policy.
func (v *Validator) SetPolicy(p Policy) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.policy = p
}

// Revoke adds a serial (decimal string) to the revocation list.
func (v *Validator) Revoke(serial, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[serial] = Revocation{Reason: reason, At: time.Now()}
}

// Unrevoke removes a serial from the revocation list.
func (v *Validator) Unrevoke(serial string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.revoked, serial)
}

// ValidatePeer applies the configured policy to a peer certificate chain that
// has already passed standard x509 chain verification. chain[0] is the leaf
// the peer presented.
func (v *Validator) ValidatePeer(chain []*x509.Certificate) error {
	start := time.Now()
	err := v.validatePeer(chain)
	v.handshakeSecs.Observe(time.Since(start).Seconds())

	if err == nil {
		v.successTotal.Inc()
		return nil
	}
	v.failureTotal.WithLabelValues(string(kinderr.KindOf(err))).Inc()
	return err
}

func (v *Validator) validatePeer(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return kinderr.New(kinderr.CertMissing, "no client certificate presented")
	}
	leaf := chain[0]

	v.mu.RLock()
	policy := v.policy
	revoked, isRevoked := v.revoked[leaf.SerialNumber.String()]
	v.mu.RUnlock()

	if isRevoked {
		return kinderr.Wrap(kinderr.CertRevoked, "certificate revoked", fmt.Errorf("serial %s revoked: %s at %s", leaf.SerialNumber, revoked.Reason, revoked.At))
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return kinderr.Wrap(kinderr.CertInvalid, "certificate not yet valid", fmt.Errorf("not_before=%s now=%s", leaf.NotBefore, now))
	}
	if now.After(leaf.NotAfter) {
		if policy.ExpiredGrace <= 0 || now.Sub(leaf.NotAfter) > policy.ExpiredGrace {
			return kinderr.Wrap(kinderr.CertExpired, "certificate expired", fmt.Errorf("not_after=%s now=%s", leaf.NotAfter, now))
		}
	}

	if len(policy.AllowedCNs) > 0 && !contains(policy.AllowedCNs, leaf.Subject.CommonName) {
		return kinderr.Wrap(kinderr.CertInvalid, "certificate subject not allowed", fmt.Errorf("cn=%q not in allowed_cns", leaf.Subject.CommonName))
	}

	if len(policy.AllowedOUs) > 0 && !anyContains(policy.AllowedOUs, leaf.Subject.OrganizationalUnit) {
		return kinderr.Wrap(kinderr.CertInvalid, "certificate OU not allowed", fmt.Errorf("ou=%v not in allowed_ous", leaf.Subject.OrganizationalUnit))
	}

	if policy.MaxChainDepth > 0 && len(chain) > policy.MaxChainDepth {
		return kinderr.Wrap(kinderr.ChainTooLong, "certificate chain too long", fmt.Errorf("chain depth %d exceeds max %d", len(chain), policy.MaxChainDepth))
	}

	if policy.CustomVerify != nil {
		if err := policy.CustomVerify(leaf); err != nil {
			return kinderr.Wrap(kinderr.CertInvalid, "custom verification failed", err)
		}
	}

	return nil
}

// ClassifyChainError maps a chain-verification failure from the standard
// library into the reserved ca_invalid kind when it is specifically a CA
// failure (a chain certificate expired or not yet valid, a CA not authorized
// for the name, or a certificate not authorized to sign), distinguishing it
// from a generic cert_invalid or chain_too_long rejection.
func ClassifyChainError(err error) error {
	var invalid x509.CertificateInvalidError
	if ok := asCertInvalidError(err, &invalid); ok {
		switch invalid.Reason {
		case x509.Expired, x509.CANotAuthorizedForThisName, x509.NotAuthorizedToSign:
			return kinderr.Wrap(kinderr.CAInvalid, "certificate authority rejected chain", err)
		}
	}
	var tooLong x509.CertificateInvalidError
	if ok := asCertInvalidError(err, &tooLong); ok && tooLong.Reason == x509.TooManyIntermediates {
		return kinderr.Wrap(kinderr.ChainTooLong, "certificate chain too long", err)
	}
	return kinderr.Wrap(kinderr.CertInvalid, "certificate chain invalid", err)
}

func asCertInvalidError(err error, target *x509.CertificateInvalidError) bool {
	if e, ok := err.(x509.CertificateInvalidError); ok {
		*target = e
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyContains(allowed, have []string) bool {
	for _, h := range have {
		if contains(allowed, h) {
			return true
		}
	}
	return false
}
