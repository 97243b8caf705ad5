package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(threshold, time.Minute, WithClock(clk.Now)), clk
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if !b.Allow("https://a.example") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("k")
	b.RecordFailure("k")
	if !b.Allow("k") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("k")
	if b.Allow("k") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("k") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("k"))
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure("k")
	b.RecordFailure("k")

	clk.Advance(59 * time.Second)
	if b.Allow("k") {
		t.Fatal("should stay open during cooldown")
	}

	clk.Advance(time.Second)
	if !b.Allow("k") {
		t.Fatal("should allow one probe after cooldown")
	}
	if b.State("k") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("k"))
	}
	if b.Allow("k") {
		t.Fatal("should reject a second request while probing")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure("k")
	b.RecordFailure("k")
	clk.Advance(time.Minute)
	b.Allow("k")

	b.RecordSuccess("k")
	if b.State("k") != StateClosed || !b.Allow("k") {
		t.Fatalf("expected closed after probe success, got %v", b.State("k"))
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure("k")
	b.RecordFailure("k")
	clk.Advance(time.Minute)
	b.Allow("k")

	b.RecordFailure("k")
	if b.State("k") != StateOpen {
		t.Fatalf("expected StateOpen after failed probe, got %v", b.State("k"))
	}
	if b.Allow("k") {
		t.Fatal("cooldown should restart after a failed probe")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.RecordFailure("k")
	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")
	b.RecordFailure("k")
	if b.State("k") != StateClosed {
		t.Fatal("success should reset the consecutive count")
	}
}

func TestBreaker_KeysIndependentAndForget(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("a")
	if b.Allow("a") {
		t.Fatal("a should be open")
	}
	if !b.Allow("b") {
		t.Fatal("b should be unaffected")
	}
	b.Forget("a")
	if b.State("a") != StateClosed {
		t.Fatal("forgotten key should be closed")
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: got %q, want %q", s, s.String(), want)
		}
	}
}
