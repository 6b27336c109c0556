package credential

import (
	"context"
	"testing"
)

func TestMockGateValidKey(t *testing.T) {
	gate := NewMockGate()
	gate.AddKey("K", KeyInfo{Owner: "alice", RateLimit: 100})

	info, verdict, err := gate.Validate(context.Background(), "K")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != Valid {
		t.Errorf("verdict = %v, want Valid", verdict)
	}
	if info.Owner != "alice" {
		t.Errorf("owner = %q, want alice", info.Owner)
	}
}

func TestMockGateUnknownKey(t *testing.T) {
	gate := NewMockGate()
	_, verdict, _ := gate.Validate(context.Background(), "nope")
	if verdict != Unknown {
		t.Errorf("verdict = %v, want Unknown", verdict)
	}
}

func TestMockGateInactiveKey(t *testing.T) {
	gate := NewMockGate()
	gate.AddKey("K", KeyInfo{Owner: "alice"})
	gate.SetInactive("K")

	_, verdict, _ := gate.Validate(context.Background(), "K")
	if verdict != Unknown {
		t.Errorf("verdict = %v, want Unknown", verdict)
	}
}

func TestMockGateRateLimited(t *testing.T) {
	gate := NewMockGate()
	gate.AddKey("K", KeyInfo{Owner: "alice", RateLimit: 10})
	gate.SetRateLimited("K")

	_, verdict, _ := gate.Validate(context.Background(), "K")
	if verdict != RateLimited {
		t.Errorf("verdict = %v, want RateLimited", verdict)
	}
}

func TestMockGateErrorInjection(t *testing.T) {
	gate := NewMockGate()
	gate.SetError("K", "store unavailable")

	_, _, err := gate.Validate(context.Background(), "K")
	if err == nil || err.Error() != "store unavailable" {
		t.Errorf("err = %v, want \"store unavailable\"", err)
	}
}

func TestMockGateCallCount(t *testing.T) {
	gate := NewMockGate()
	gate.AddKey("K", KeyInfo{Owner: "alice"})

	gate.Validate(context.Background(), "K")
	gate.Validate(context.Background(), "K")

	if got := gate.CallCount("K"); got != 2 {
		t.Errorf("CallCount = %d, want 2", got)
	}
}
