package featureflags

import "testing"

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", 1) || !m.Enabled("c", 1) || !m.Enabled("e", 1) {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", 1) || m.Enabled("d", 1) || m.Enabled("f", 1) {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
}

func TestEnabled_Rollout(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%")

	if !m.Enabled("always", 1) {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", 1) {
		t.Fatal("0% rollout should always be disabled")
	}

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", 42); got != first {
			t.Fatal("rollout evaluation must be deterministic per subject")
		}
	}
	if m.Enabled("canary", 0) {
		t.Fatal("percentage rollout requires a non-zero subject")
	}
}

func TestOtpResendRotationDefaultsOff(t *testing.T) {
	if NewManager("").Enabled(OtpResendRotation, 1) {
		t.Fatal("rotation must be off when unset")
	}
	var nilManager *Manager
	if nilManager.Enabled(OtpResendRotation, 1) {
		t.Fatal("nil manager must report every flag off")
	}
	if !NewManager(" OTP_RESEND_ROTATION = on ").Enabled(OtpResendRotation, 1) {
		t.Fatal("flag names are case-insensitive")
	}
}

func TestSnapshotSkipsMalformedPairs(t *testing.T) {
	snap := NewManager(" bad ,x=on, y = 20% ,z=off,=on,w= ").Snapshot(123)
	if len(snap) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d: %#v", len(snap), snap)
	}
	if !snap["x"] || snap["z"] {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}
