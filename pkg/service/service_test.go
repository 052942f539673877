package service

import "testing"

func TestValidateNoneAuth(t *testing.T) {
	s := Service{AuthType: AuthNone}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected none auth with no material to validate, got %v", err)
	}
}

func TestValidateSymmetricTokenRequiresTokenValue(t *testing.T) {
	s := Service{AuthType: AuthSymmetricToken}
	if err := s.Validate(); err == nil {
		t.Fatal("expected missing token_value to be invalid")
	}
	s.TokenValue = "secret"
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateRejectsMixedMaterial(t *testing.T) {
	s := Service{AuthType: AuthSymmetricToken, TokenValue: "secret", SignedTokenSecret: "also-set"}
	if err := s.Validate(); err == nil {
		t.Fatal("expected mixed auth material to be invalid")
	}
}

func TestValidateUnknownAuthType(t *testing.T) {
	s := Service{AuthType: "bogus"}
	if err := s.Validate(); err == nil {
		t.Fatal("expected unknown auth_type to be invalid")
	}
}
