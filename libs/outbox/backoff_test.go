package outbox

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialDelays(t *testing.T) {
	b := Backoff{Base: 1 * time.Second, Factor: 2.0, Max: 10 * time.Minute}

	want := []time.Duration{
		2 * time.Second, // after the 1st failure
		4 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		if got := b.Delay(i + 1); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", i+1, got, expected)
		}
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Factor: 2.0, Max: time.Hour}
	prev := time.Duration(0)
	for retry := 1; retry <= 10; retry++ {
		d := b.Delay(retry)
		if d <= prev {
			t.Fatalf("Delay(%d) = %s not after Delay(%d) = %s", retry, d, retry-1, prev)
		}
		prev = d
	}
}

func TestBackoff_Capped(t *testing.T) {
	b := Backoff{Base: 1 * time.Second, Factor: 2.0, Max: 30 * time.Second}
	if got := b.Delay(20); got != 30*time.Second {
		t.Fatalf("expected cap 30s, got %s", got)
	}
	// Large exponents overflow time.Duration; the cap must still hold.
	if got := b.Delay(500); got != 30*time.Second {
		t.Fatalf("expected cap 30s on overflow, got %s", got)
	}
}

func TestBackoff_NegativeRetryCount(t *testing.T) {
	b := DefaultBackoff()
	if got := b.Delay(-3); got != b.Base {
		t.Fatalf("expected base delay, got %s", got)
	}
}
