package infra

import (
	"sync"
	"sync/atomic"
	"time"
)

// PerfTracker records book processing latency over a rolling window of the
// most recent observations plus lifetime counters. Memory is bounded by the
// window size. Counters are atomic; the window is guarded by a mutex held
// only for O(1) amortized work.
type PerfTracker struct {
	// Counters
	messages atomic.Uint64
	rejected atomic.Uint64

	mu     sync.Mutex
	window int
	ring   []int64 // latency ns, indexed by seq % window
	seq    uint64  // observations so far
	sumNs  int64   // sum over the window
	minQ   deque   // increasing values
	maxQ   deque   // decreasing values
}

type sample struct {
	seq uint64
	ns  int64
}

// deque is a slice-backed double-ended queue of samples.
type deque struct {
	buf  []sample
	head int
}

func (d *deque) len() int { return len(d.buf) - d.head }
func (d *deque) front() sample { return d.buf[d.head] }
func (d *deque) back() sample { return d.buf[len(d.buf)-1] }
func (d *deque) popBack() { d.buf = d.buf[:len(d.buf)-1] }
func (d *deque) pushBack(s sample) {
	// Reclaim the consumed prefix once it dominates the buffer.
	if d.head > 0 && d.head >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.head:])
		d.buf = d.buf[:n]
		d.head = 0
	}
	d.buf = append(d.buf, s)
}
func (d *deque) popFront() {
	d.head++
	if d.head == len(d.buf) {
		d.buf = d.buf[:0]
		d.head = 0
	}
}

// NewPerfTracker creates a tracker over the last window observations.
func NewPerfTracker(window int) *PerfTracker {
	if window <= 0 {
		window = 100
	}
	return &PerfTracker{
		window: window,
		ring:   make([]int64, window),
	}
}

// Observe records the processing latency of one accepted or rejected message.
func (p *PerfTracker) Observe(d time.Duration) {
	p.messages.Add(1)
	ns := int64(d)

	p.mu.Lock()
	defer p.mu.Unlock()

	w := uint64(p.window)
	slot := p.seq % w
	if p.seq >= w {
		p.sumNs -= p.ring[slot]
	}
	p.ring[slot] = ns
	p.sumNs += ns

	for p.minQ.len() > 0 && p.minQ.back().ns >= ns {
		p.minQ.popBack()
	}
	p.minQ.pushBack(sample{p.seq, ns})
	for p.maxQ.len() > 0 && p.maxQ.back().ns <= ns {
		p.maxQ.popBack()
	}
	p.maxQ.pushBack(sample{p.seq, ns})

	p.seq++
	// Oldest sequence still inside the window.
	if p.seq > w {
		oldest := p.seq - w
		for p.minQ.front().seq < oldest {
			p.minQ.popFront()
		}
		for p.maxQ.front().seq < oldest {
			p.maxQ.popFront()
		}
	}
}

// RecordRejected counts a message the book refused.
func (p *PerfTracker) RecordRejected() {
	p.rejected.Add(1)
}

// PerfSnapshot is a point-in-time view of the tracker.
type PerfSnapshot struct {
	AvgLatency time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration
	Samples    int // observations currently in the window
	Messages   uint64
	Rejected   uint64
}

// Snapshot returns current metrics.
func (p *PerfTracker) Snapshot() PerfSnapshot {
	s := PerfSnapshot{
		Messages: p.messages.Load(),
		Rejected: p.rejected.Load(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.seq
	if n > uint64(p.window) {
		n = uint64(p.window)
	}
	if n == 0 {
		return s
	}
	s.Samples = int(n)
	s.AvgLatency = time.Duration(p.sumNs / int64(n))
	s.MinLatency = time.Duration(p.minQ.front().ns)
	s.MaxLatency = time.Duration(p.maxQ.front().ns)
	return s
}
