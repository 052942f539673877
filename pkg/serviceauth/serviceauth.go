// Package serviceauth implements the proxy-side Service Authenticator: a
// single authenticate() operation per forwarded connection, guarding against
// timing side channels on every comparison.
package serviceauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
)

// AuthType enumerates the ways a Service can be protected.
type AuthType string

const (
	AuthNone          AuthType = "none"
	AuthSymmetricToken AuthType = "symmetric_token"
	AuthSignedToken    AuthType = "signed_token"
)

// Service is the subset of a service's configuration the authenticator needs.
type Service struct {
	ID         int64
	Name       string
	AuthType   AuthType
	TokenValue string // symmetric_token secret, or signed_token HMAC key
}

// SignedClaims are the claims carried by a signed_token credential. Only the
// registered numeric-date claims (iat/exp) and the custom service_id/
// service_name claims are used — there is no separate, non-standard pair of
// epoch fields alongside them, so a caller inspecting the token sees exactly
// one iat and one exp.
type SignedClaims struct {
	ServiceID   int64  `json:"service_id"`
	ServiceName string `json:"service_name"`
	IssuedAt    int64  `json:"iat"`
	Expiry      int64  `json:"exp"`
}

// Authenticator authenticates presented credentials against a Service's
// configured auth_type. macKey is a process-local fixed key used to normalize
// symmetric_token comparisons to a constant-length MAC before comparing, so
// that neither the length nor the content of token_value leaks through timing.
type Authenticator struct {
	macKey []byte
}

// New creates an Authenticator with a fresh random MAC normalization key.
func New() (*Authenticator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating mac key: %w", err)
	}
	return &Authenticator{macKey: key}, nil
}

// Authenticate validates presented against svc's configured auth_type. All
// failures are reported as a single kinderr.Auth-kind error; the concrete
// reason is attached for logging via kinderr.Reason, never surfaced to the
// caller through Error().
func (a *Authenticator) Authenticate(svc Service, presented string) error {
	switch svc.AuthType {
	case AuthNone, "":
		return nil
	case AuthSymmetricToken:
		if !a.macEqual(presented, svc.TokenValue) {
			return kinderr.Wrap(kinderr.Auth, "authentication failed", fmt.Errorf("symmetric token mismatch for service %d", svc.ID))
		}
		return nil
	case AuthSignedToken:
		_, err := a.validateSignedToken(svc, presented)
		if err != nil {
			return kinderr.Wrap(kinderr.Auth, "authentication failed", err)
		}
		return nil
	default:
		return kinderr.Wrap(kinderr.Auth, "authentication failed", fmt.Errorf("unknown auth_type %q for service %d", svc.AuthType, svc.ID))
	}
}

// macEqual reports whether presented equals want, after normalizing both to a
// fixed-length HMAC-SHA256 tag so comparison time does not depend on input length.
func (a *Authenticator) macEqual(presented, want string) bool {
	presentedMAC := hmac.New(sha256.New, a.macKey)
	presentedMAC.Write([]byte(presented))

	wantMAC := hmac.New(sha256.New, a.macKey)
	wantMAC.Write([]byte(want))

	return hmac.Equal(presentedMAC.Sum(nil), wantMAC.Sum(nil))
}

// validateSignedToken parses and validates a compact HMAC-SHA256 signed
// token in rejection order: parse failure, unsupported algorithm, signature
// mismatch, service_id mismatch, expiry. No clock-skew allowance is applied.
func (a *Authenticator) validateSignedToken(svc Service, raw string) (*SignedClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing signed token: %w", err)
	}

	for _, h := range tok.Headers {
		if h.Algorithm != string(jose.HS256) {
			return nil, fmt.Errorf("unsupported signing algorithm %q", h.Algorithm)
		}
	}

	var claims SignedClaims
	if err := tok.Claims([]byte(svc.TokenValue), &claims); err != nil {
		return nil, fmt.Errorf("signature mismatch: %w", err)
	}

	if claims.ServiceID != svc.ID {
		return nil, fmt.Errorf("service_id mismatch: token has %d, service is %d", claims.ServiceID, svc.ID)
	}

	if time.Now().Unix() > claims.Expiry {
		return nil, fmt.Errorf("token expired at %d", claims.Expiry)
	}

	return &claims, nil
}

// GenerateSignedToken is a dev/test helper that mints a signed_token in the
// same wire format validateSignedToken accepts.
func GenerateSignedToken(serviceID int64, serviceName, secret string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	claims := SignedClaims{
		ServiceID:   serviceID,
		ServiceName: serviceName,
		IssuedAt:    now.Unix(),
		Expiry:      now.Add(ttl).Unix(),
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
