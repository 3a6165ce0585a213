package infra

import (
	"testing"
	"time"
)

func TestBackoff_Base(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.failures); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0.2)

	for n := 0; n < 8; n++ {
		lo, hi := b.Bounds(n)
		for i := 0; i < 200; i++ {
			d := b.Delay(n)
			if d < lo || d > hi {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", n, d, lo, hi)
			}
		}
	}
}

func TestBackoff_JitterExtremes(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0.5)

	b.rand = func() float64 { return 0 }
	if got := b.Delay(1); got != time.Second {
		t.Errorf("low extreme = %v, want 1s", got)
	}
	b.rand = func() float64 { return 0.5 }
	if got := b.Delay(1); got != 2*time.Second {
		t.Errorf("midpoint = %v, want 2s", got)
	}
}

func TestNewBackoff_Clamps(t *testing.T) {
	b := NewBackoff(2*time.Second, time.Second, 3)
	if b.ceiling != 2*time.Second {
		t.Errorf("ceiling should be raised to base, got %v", b.ceiling)
	}
	if b.jitter != 1 {
		t.Errorf("jitter should clamp to 1, got %v", b.jitter)
	}
}
