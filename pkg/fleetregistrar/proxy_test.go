package fleetregistrar

import "testing"

func TestIsRetired(t *testing.T) {
	if (Proxy{Status: StatusActive}).IsRetired() {
		t.Fatal("active proxy should not be retired")
	}
	if !(Proxy{Status: StatusRetired}).IsRetired() {
		t.Fatal("retired proxy should report retired")
	}
}

func TestIsActive(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusRegistering, true},
		{StatusActive, true},
		{StatusStale, true},
		{StatusRetired, false},
	}
	for _, c := range cases {
		if got := (Proxy{Status: c.status}).IsActive(); got != c.want {
			t.Errorf("status %s: IsActive() = %v, want %v", c.status, got, c.want)
		}
	}
}
