// Package certificate implements the Certificate entity: PEM-encoded
// cryptographic material tracked by the control plane, with revocation and
// auto-rotation bookkeeping.
package certificate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type is the role a Certificate plays in the mTLS trust chain.
type Type string

const (
	TypeCA     Type = "ca"
	TypeServer Type = "server"
	TypeClient Type = "client"
)

// Source records where the certificate's material came from.
type Source string

const (
	SourceUpload  Source = "upload"
	SourceIssuerA Source = "issuer_A"
	SourceIssuerB Source = "issuer_B"
)

var errUploadedCannotAutoRotate = errors.New("uploaded certificates cannot be auto-renewed")

// Revocation records that a certificate has been revoked.
type Revocation struct {
	Revoked bool
	Reason  string
	At      time.Time
}

// Certificate is PEM-encoded cryptographic material tracked by the control plane.
type Certificate struct {
	ID        int64
	ClusterID uuid.UUID
	Name      string
	Type      Type

	SubjectDN string
	IssuerDN  string
	Serial    string
	// Fingerprint is the SHA-256 hex digest of the DER-encoded certificate.
	Fingerprint string

	NotBefore time.Time
	NotAfter  time.Time

	Source             Source
	AutoRotate         bool
	RotationThresholdDays int
	LastRotationAttempt  time.Time
	RotationError        string

	Active     bool
	Revocation Revocation

	PEM string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fingerprint computes the SHA-256 hex digest of DER-encoded certificate bytes.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Validate enforces the invariant that uploaded certificates cannot be
// auto-renewed; only issuer-backed certificates may set AutoRotate.
func (c Certificate) Validate() error {
	if c.AutoRotate && c.Source == SourceUpload {
		return errUploadedCannotAutoRotate
	}
	return nil
}

// NeedsRotation reports whether the certificate is within its rotation
// threshold of expiry and eligible for auto-rotation.
func (c Certificate) NeedsRotation(now time.Time) bool {
	if !c.AutoRotate || c.Source == SourceUpload {
		return false
	}
	threshold := time.Duration(c.RotationThresholdDays) * 24 * time.Hour
	return now.Add(threshold).After(c.NotAfter)
}

// IsValid reports whether the certificate is currently usable: active,
// unrevoked, and within its validity window.
func (c Certificate) IsValid(now time.Time) bool {
	if !c.Active || c.Revocation.Revoked {
		return false
	}
	return !now.Before(c.NotBefore) && !now.After(c.NotAfter)
}
