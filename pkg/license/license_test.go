package license

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeIssuer struct {
	record      Record
	validateErr error
	keepaliveErr error
}

func (f *fakeIssuer) Validate(ctx context.Context, licenseKey string) (Record, error) {
	if f.validateErr != nil {
		return Record{}, f.validateErr
	}
	return f.record, nil
}

func (f *fakeIssuer) Keepalive(ctx context.Context, licenseKey string) error {
	return f.keepaliveErr
}

func TestValidateFetchesOnFirstCall(t *testing.T) {
	issuer := &fakeIssuer{record: Record{Valid: true, MaxProxies: 10, Expiry: time.Now().Add(time.Hour)}}
	svc := New("key", issuer, time.Hour)

	rec, err := svc.Validate(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Valid || rec.MaxProxies != 10 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCapacityReturnsCommunityDefaultWhenInvalid(t *testing.T) {
	issuer := &fakeIssuer{record: Record{Valid: false, MaxProxies: 50}}
	svc := New("key", issuer, time.Hour)
	if _, err := svc.Validate(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cap, err := svc.Capacity(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap != communityDefaultCapacity {
		t.Fatalf("expected community default %d, got %d", communityDefaultCapacity, cap)
	}
}

func TestValidateFailureWithinGraceReturnsStale(t *testing.T) {
	issuer := &fakeIssuer{record: Record{Valid: true, MaxProxies: 10, Expiry: nowFunc().Add(time.Hour)}}
	svc := New("key", issuer, time.Hour)
	if _, err := svc.Validate(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	issuer.validateErr = errors.New("network down")
	rec, err := svc.Validate(context.Background(), true)
	if err != nil {
		t.Fatalf("expected stale cached record, not error: %v", err)
	}
	if !rec.Stale {
		t.Fatal("expected record to be marked stale after issuer failure")
	}
}

func TestKeepaliveBacksOffOnFailure(t *testing.T) {
	issuer := &fakeIssuer{keepaliveErr: errors.New("timeout")}
	svc := New("key", issuer, time.Hour)

	initial := svc.NextKeepaliveDelay()
	if err := svc.Keepalive(context.Background()); err == nil {
		t.Fatal("expected keepalive error")
	}
	if svc.NextKeepaliveDelay() <= initial {
		t.Fatalf("expected backoff to increase, got %v (was %v)", svc.NextKeepaliveDelay(), initial)
	}
}

func TestKeepaliveResetsBackoffOnSuccess(t *testing.T) {
	issuer := &fakeIssuer{keepaliveErr: errors.New("timeout")}
	svc := New("key", issuer, time.Hour)
	_ = svc.Keepalive(context.Background())
	backedOff := svc.NextKeepaliveDelay()

	issuer.keepaliveErr = nil
	if err := svc.Keepalive(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.NextKeepaliveDelay() >= backedOff {
		t.Fatalf("expected backoff to reset after success, got %v (was %v)", svc.NextKeepaliveDelay(), backedOff)
	}
}

func TestCheckFeature(t *testing.T) {
	issuer := &fakeIssuer{record: Record{Valid: true, Features: map[string]bool{"mtls": true}, Expiry: nowFunc().Add(time.Hour)}}
	svc := New("key", issuer, time.Hour)
	if _, err := svc.Validate(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.CheckFeature("mtls") {
		t.Fatal("expected mtls feature to be enabled")
	}
	if svc.CheckFeature("unknown") {
		t.Fatal("expected unknown feature to be disabled")
	}
}
