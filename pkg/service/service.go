// Package service implements the Service entity: an addressable upstream
// target that the data plane proxies to, with auth material the Service
// Authenticator enforces.
package service

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the wire protocol a Service accepts.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// AuthType mirrors serviceauth.AuthType; kept as its own string type here so
// the store package has no dependency on the proxy-side auth package.
type AuthType string

const (
	AuthNone           AuthType = "none"
	AuthSymmetricToken AuthType = "symmetric_token"
	AuthSignedToken    AuthType = "signed_token"
)

// Service is an addressable upstream target.
type Service struct {
	ID        int64
	ClusterID uuid.UUID
	Name      string
	Host      string
	Port      int
	Transport Transport
	AuthType  AuthType

	// Present iff AuthType == AuthSymmetricToken.
	TokenValue string

	// Present iff AuthType == AuthSignedToken.
	SignedTokenSecret string
	SignedTokenExpiry  time.Duration
	SignedTokenAlg     string // always "HS256"; recorded for the rendered snapshot

	TLSEnabled bool
	TLSVerify  bool

	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the single-auth-type invariant: exactly one auth type's
// secret material is populated.
func (s Service) Validate() error {
	switch s.AuthType {
	case AuthNone:
		if s.TokenValue != "" || s.SignedTokenSecret != "" {
			return errInvalidAuthMaterial
		}
	case AuthSymmetricToken:
		if s.TokenValue == "" || s.SignedTokenSecret != "" {
			return errInvalidAuthMaterial
		}
	case AuthSignedToken:
		if s.SignedTokenSecret == "" || s.TokenValue != "" {
			return errInvalidAuthMaterial
		}
	default:
		return errUnknownAuthType
	}
	return nil
}
