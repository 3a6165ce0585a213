package infra

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestPerfTracker_Observe(t *testing.T) {
	p := NewPerfTracker(100)

	p.Observe(1000)
	p.Observe(2000)
	p.Observe(3000)

	snap := p.Snapshot()

	if snap.Messages != 3 {
		t.Errorf("Expected 3 messages, got %d", snap.Messages)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatency != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatency)
	}
	if snap.MinLatency != 1000 || snap.MaxLatency != 3000 {
		t.Errorf("Expected min 1000 max 3000, got %d/%d", snap.MinLatency, snap.MaxLatency)
	}
}

func TestPerfTracker_Empty(t *testing.T) {
	snap := NewPerfTracker(10).Snapshot()
	if snap.Samples != 0 || snap.AvgLatency != 0 || snap.MinLatency != 0 || snap.MaxLatency != 0 {
		t.Errorf("Expected zero snapshot, got %+v", snap)
	}
}

func TestPerfTracker_WindowEvicts(t *testing.T) {
	p := NewPerfTracker(3)

	// The 9000 spike and the 1 dip leave the window.
	for _, ns := range []time.Duration{9000, 1, 500, 400, 600} {
		p.Observe(ns)
	}

	snap := p.Snapshot()
	if snap.Samples != 3 {
		t.Errorf("Expected 3 samples, got %d", snap.Samples)
	}
	if snap.AvgLatency != 500 {
		t.Errorf("Expected avg 500, got %d", snap.AvgLatency)
	}
	if snap.MinLatency != 400 || snap.MaxLatency != 600 {
		t.Errorf("Expected min 400 max 600, got %d/%d", snap.MinLatency, snap.MaxLatency)
	}
	if snap.Messages != 5 {
		t.Errorf("Lifetime messages should be 5, got %d", snap.Messages)
	}
}

// Matches a naive recomputation over the window for random input.
func TestPerfTracker_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const window = 17
	p := NewPerfTracker(window)
	var all []time.Duration

	for i := 0; i < 2000; i++ {
		d := time.Duration(rng.Intn(1_000_000))
		p.Observe(d)
		all = append(all, d)

		lo := 0
		if len(all) > window {
			lo = len(all) - window
		}
		win := all[lo:]
		var sum, mn, mx time.Duration
		mn = win[0]
		for _, v := range win {
			sum += v
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}

		snap := p.Snapshot()
		if snap.AvgLatency != sum/time.Duration(len(win)) || snap.MinLatency != mn || snap.MaxLatency != mx {
			t.Fatalf("step %d: got avg=%v min=%v max=%v, want %v/%v/%v",
				i, snap.AvgLatency, snap.MinLatency, snap.MaxLatency, sum/time.Duration(len(win)), mn, mx)
		}
	}
}

func TestPerfTracker_Counters(t *testing.T) {
	p := NewPerfTracker(10)

	p.RecordRejected()
	p.Observe(time.Microsecond)

	snap := p.Snapshot()
	if snap.Messages != 1 {
		t.Errorf("Expected 1 message, got %d", snap.Messages)
	}
	if snap.Rejected != 1 {
		t.Errorf("Expected 1 rejected, got %d", snap.Rejected)
	}
}

func TestPerfTracker_Concurrent(t *testing.T) {
	p := NewPerfTracker(50)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			p.Observe(time.Duration(i))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				snap := p.Snapshot()
				if snap.Samples > 0 && snap.MinLatency > snap.MaxLatency {
					t.Errorf("min %v > max %v", snap.MinLatency, snap.MaxLatency)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := p.Snapshot().Messages; got != 5000 {
		t.Errorf("Expected 5000 messages, got %d", got)
	}
}

func BenchmarkPerfTracker_Observe(b *testing.B) {
	p := NewPerfTracker(100)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Observe(time.Duration(i % 1000))
	}
}
