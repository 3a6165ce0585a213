package infra

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min(base*2^N, ceiling) scaled by a random
// factor in [1-jitter, 1+jitter]. Safe for concurrent use.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	jitter  float64
	rand    func() float64 // [0,1)
}

// NewBackoff creates a backoff policy. jitter is clamped to [0,1].
func NewBackoff(base, ceiling time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	jitter = math.Max(0, math.Min(1, jitter))
	return &Backoff{base: base, ceiling: ceiling, jitter: jitter, rand: rand.Float64}
}

// Base returns the undelayed exponential step for failures, without jitter.
func (b *Backoff) Base(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	// 2^62 overflows Duration.
	if failures > 62 {
		return b.ceiling
	}
	d := float64(b.base) * math.Pow(2, float64(failures))
	if d >= float64(b.ceiling) {
		return b.ceiling
	}
	return time.Duration(d)
}

// Delay returns the wait before the retry following failures consecutive failures.
func (b *Backoff) Delay(failures int) time.Duration {
	d := b.Base(failures)
	if b.jitter == 0 {
		return d
	}
	factor := 1 + b.jitter*(2*b.rand()-1)
	return time.Duration(float64(d) * factor)
}

// Bounds returns the inclusive range Delay(failures) falls in.
func (b *Backoff) Bounds(failures int) (lo, hi time.Duration) {
	d := float64(b.Base(failures))
	return time.Duration(d * (1 - b.jitter)), time.Duration(d * (1 + b.jitter))
}
