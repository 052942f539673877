package serviceauth

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAuthenticateNone(t *testing.T) {
	a := newAuth(t)
	svc := Service{ID: 1, AuthType: AuthNone}
	if err := a.Authenticate(svc, "anything"); err != nil {
		t.Fatalf("expected none auth to always succeed, got %v", err)
	}
}

func TestAuthenticateSymmetricToken(t *testing.T) {
	a := newAuth(t)
	svc := Service{ID: 1, AuthType: AuthSymmetricToken, TokenValue: "shh-secret"}

	if err := a.Authenticate(svc, "shh-secret"); err != nil {
		t.Fatalf("expected match to succeed, got %v", err)
	}

	err := a.Authenticate(svc, "wrong")
	if err == nil {
		t.Fatal("expected mismatch to fail")
	}
	if !kinderr.Is(err, kinderr.Auth) {
		t.Errorf("expected kinderr.Auth, got %v", kinderr.KindOf(err))
	}

	// Different length presented value must also fail without panicking.
	if err := a.Authenticate(svc, "s"); err == nil {
		t.Fatal("expected short mismatch to fail")
	}
}

func TestAuthenticateSignedToken(t *testing.T) {
	a := newAuth(t)
	secret := "signing-secret-value"
	svc := Service{ID: 42, AuthType: AuthSignedToken, TokenValue: secret}

	token, err := GenerateSignedToken(42, "db", secret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateSignedToken: %v", err)
	}

	if err := a.Authenticate(svc, token); err != nil {
		t.Fatalf("expected valid token to authenticate, got %v", err)
	}
}

func TestAuthenticateSignedTokenExpired(t *testing.T) {
	a := newAuth(t)
	secret := "signing-secret-value"
	svc := Service{ID: 42, AuthType: AuthSignedToken, TokenValue: secret}

	token, err := GenerateSignedToken(42, "db", secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateSignedToken: %v", err)
	}

	err = a.Authenticate(svc, token)
	if err == nil {
		t.Fatal("expected expired token to fail")
	}
	if !kinderr.Is(err, kinderr.Auth) {
		t.Errorf("expected kinderr.Auth, got %v", kinderr.KindOf(err))
	}
}

func TestAuthenticateSignedTokenWrongService(t *testing.T) {
	a := newAuth(t)
	secret := "signing-secret-value"
	svc := Service{ID: 42, AuthType: AuthSignedToken, TokenValue: secret}

	token, err := GenerateSignedToken(99, "cache", secret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateSignedToken: %v", err)
	}

	if err := a.Authenticate(svc, token); err == nil {
		t.Fatal("expected service_id mismatch to fail")
	}
}

func TestAuthenticateSignedTokenBadSignature(t *testing.T) {
	a := newAuth(t)
	svc := Service{ID: 42, AuthType: AuthSignedToken, TokenValue: "real-secret"}

	token, err := GenerateSignedToken(42, "db", "wrong-secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateSignedToken: %v", err)
	}

	if err := a.Authenticate(svc, token); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestGenerateSignedTokenIncludesServiceName(t *testing.T) {
	token, err := GenerateSignedToken(42, "db", "topsecret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateSignedToken: %v", err)
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		t.Fatalf("ParseSigned: %v", err)
	}
	var claims SignedClaims
	if err := parsed.Claims([]byte("topsecret"), &claims); err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if claims.ServiceID != 42 || claims.ServiceName != "db" {
		t.Fatalf("claims = %+v, want service_id=42 service_name=db", claims)
	}
}

func TestAuthenticateUnknownType(t *testing.T) {
	a := newAuth(t)
	svc := Service{ID: 1, AuthType: "bogus"}
	if err := a.Authenticate(svc, "x"); err == nil {
		t.Fatal("expected unknown auth_type to fail")
	}
}
