package book

import (
	"math"
	"time"
)

// PriceSample is one point of the rolling mid/spread history.
type PriceSample struct {
	Timestamp    time.Time
	Mid          float64
	Spread       float64
	NearDepthUSD float64 // price*qty within nearTouchBand of mid, both sides
}

const nearTouchBand = 0.001

// history is a fixed-capacity ring of PriceSamples owned by the writer.
//
// Samples are appended to a backing array of twice the capacity. When it
// fills, the newest capacity-1 samples move to a fresh array. A backing
// array is therefore only ever appended to, so views handed to published
// snapshots stay valid and immutable without locks.
type history struct {
	buf      []PriceSample
	capacity int
}

func newHistory(capacity int) *history {
	if capacity < 2 {
		capacity = 2
	}
	return &history{
		buf:      make([]PriceSample, 0, 2*capacity),
		capacity: capacity,
	}
}

func (h *history) push(s PriceSample) {
	if len(h.buf) == cap(h.buf) {
		nb := make([]PriceSample, 0, 2*h.capacity)
		h.buf = append(nb, h.buf[len(h.buf)-(h.capacity-1):]...)
	}
	h.buf = append(h.buf, s)
}

// view returns the newest min(len, capacity) samples, oldest first.
// The three-index slice stops readers from appending into the backing array.
func (h *history) view() []PriceSample {
	lo := 0
	if len(h.buf) > h.capacity {
		lo = len(h.buf) - h.capacity
	}
	return h.buf[lo:len(h.buf):len(h.buf)]
}

// volatility is the sample standard deviation of log mid returns over the
// newest window samples, via Welford's streaming mean/variance. It is
// defined from two samples on: a single return has no dispersion and
// yields 0, as do fewer than two samples.
func volatility(samples []PriceSample, window int) float64 {
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}
	samples = samples[len(samples)-window:]
	if len(samples) < 2 {
		return 0
	}

	var n int
	var mean, m2 float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1].Mid, samples[i].Mid
		if prev <= 0 || cur <= 0 {
			continue
		}
		r := math.Log(cur / prev)
		n++
		delta := r - mean
		mean += delta / float64(n)
		m2 += delta * (r - mean)
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(m2 / float64(n-1))
}
