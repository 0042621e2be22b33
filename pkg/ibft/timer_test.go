package ibft

import (
	"context"
	"testing"
	"time"
)

func TestRoundTimerDurationDoublesPerRound(t *testing.T) {
	rt := NewRoundTimer(100*time.Millisecond, nil)
	d0 := rt.Duration(0)
	d1 := rt.Duration(1)
	d2 := rt.Duration(2)
	if d0 != 100*time.Millisecond {
		t.Fatalf("Duration(0) = %s, want 100ms", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("Duration(1) = %s, want 200ms", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Fatalf("Duration(2) = %s, want 400ms", d2)
	}
}

func TestRoundTimerFiresOnExpiry(t *testing.T) {
	fired := make(chan uint64, 1)
	rt := NewRoundTimer(10*time.Millisecond, func(round uint64) {
		fired <- round
	})
	ctx := context.Background()
	rt.Start(ctx, 3)
	defer rt.Stop()

	select {
	case r := <-fired:
		if r != 3 {
			t.Fatalf("fired round = %d, want 3", r)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timer did not fire within 500ms")
	}
}

func TestRoundTimerStopPreventsFire(t *testing.T) {
	fired := make(chan uint64, 1)
	rt := NewRoundTimer(50*time.Millisecond, func(round uint64) {
		fired <- round
	})
	ctx := context.Background()
	rt.Start(ctx, 0)
	rt.Stop()

	select {
	case r := <-fired:
		t.Fatalf("stopped timer fired anyway for round %d", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoundTimerCancelsOnContext(t *testing.T) {
	fired := make(chan uint64, 1)
	rt := NewRoundTimer(200*time.Millisecond, func(round uint64) {
		fired <- round
	})
	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx, 0)
	cancel()

	select {
	case r := <-fired:
		t.Fatalf("cancelled timer fired anyway for round %d", r)
	case <-time.After(300 * time.Millisecond):
	}
}
