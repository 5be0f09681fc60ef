package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestAllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("transfer") {
		t.Fatal("closed circuit must allow")
	}
}

func TestTripsAtThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("transfer")
	b.RecordFailure("transfer")
	if !b.Allow("transfer") {
		t.Fatal("should still allow below threshold")
	}

	b.RecordFailure("transfer")
	if b.Allow("transfer") {
		t.Fatal("should reject after threshold failures")
	}
	if b.State("transfer") != StateOpen {
		t.Fatalf("state = %v, want open", b.State("transfer"))
	}
}

func TestOpenAdmitsProbeAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("refund")
	b.RecordFailure("refund")
	if b.Allow("refund") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	if !b.Allow("refund") {
		t.Fatal("should admit a probe after the open duration")
	}
	if b.State("refund") != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State("refund"))
	}
	if b.Allow("refund") {
		t.Fatal("only one probe may be in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("payout")
	b.RecordFailure("payout")
	time.Sleep(60 * time.Millisecond)
	b.Allow("payout") // admit the probe

	b.RecordSuccess("payout")
	if b.State("payout") != StateClosed {
		t.Fatalf("state = %v, want closed after recovery", b.State("payout"))
	}
	if !b.Allow("payout") {
		t.Fatal("should allow after recovery")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("payout")
	b.RecordFailure("payout")
	time.Sleep(60 * time.Millisecond)
	b.Allow("payout")

	b.RecordFailure("payout")
	if b.State("payout") != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State("payout"))
	}
}

func TestSuccessResetsCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("intent")
	b.RecordFailure("intent")
	b.RecordSuccess("intent")

	b.RecordFailure("intent")
	if !b.Allow("intent") {
		t.Fatal("counter should have reset on success")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("transfer")
	b.RecordFailure("transfer")

	if b.Allow("transfer") {
		t.Fatal("transfer should be open")
	}
	if !b.Allow("refund") {
		t.Fatal("refund should be unaffected")
	}
}

func TestDo(t *testing.T) {
	b := New(2, time.Minute)
	boom := errors.New("processor down")

	for i := 0; i < 2; i++ {
		if err := b.Do("transfer", func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Do = %v, want wrapped failure", err)
		}
	}

	// Circuit is now open: fn must not run.
	called := false
	err := b.Do("transfer", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn ran while circuit was open")
	}

	if err := b.Do("refund", func() error { return nil }); err != nil {
		t.Fatalf("Do on healthy key: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
