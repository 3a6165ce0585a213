package book

import (
	"math"
	"testing"
	"time"

	"trade_sim/internal/domain"
)

func TestLiquidityAtLevel_Example(t *testing.T) {
	s := exampleStore(t)

	liq := s.LiquidityAtLevel(150, domain.SideBuy)

	// 1 unit @101 then 49 USD @102
	wantQty := 1 + 49.0/102
	if math.Abs(liq.FilledQuantity-wantQty) > 1e-9 {
		t.Errorf("Expected quantity %v, got %v", wantQty, liq.FilledQuantity)
	}
	if math.Abs(liq.VWAP-101.32) > 0.01 {
		t.Errorf("Expected VWAP ~101.32, got %v", liq.VWAP)
	}
	if liq.InsufficientDepth {
		t.Error("Depth should be sufficient")
	}
	if liq.LevelsConsumed != 2 {
		t.Errorf("Expected 2 levels consumed, got %d", liq.LevelsConsumed)
	}
}

func TestLiquidityAtLevel_Sell(t *testing.T) {
	s := exampleStore(t)

	liq := s.LiquidityAtLevel(100, domain.SideSell)
	if liq.VWAP != 100 || liq.LevelsConsumed != 1 {
		t.Errorf("Expected full fill at 100, got %+v", liq)
	}
}

func TestLiquidityAtLevel_InsufficientDepth(t *testing.T) {
	s := exampleStore(t)

	// Asks hold 101 + 408 = 509 USD.
	liq := s.LiquidityAtLevel(1000, domain.SideBuy)
	if !liq.InsufficientDepth {
		t.Error("Expected insufficient depth")
	}
	if math.Abs(liq.FilledUSD-509) > 1e-9 {
		t.Errorf("Expected partial fill of 509, got %v", liq.FilledUSD)
	}
	if math.Abs(liq.FilledQuantity-5) > 1e-9 {
		t.Errorf("Expected all 5 units, got %v", liq.FilledQuantity)
	}

	// Exactly the visible depth is sufficient.
	if s.LiquidityAtLevel(509, domain.SideBuy).InsufficientDepth {
		t.Error("Exact depth should be sufficient")
	}
}

// VWAP is non-decreasing for Buy and non-increasing for Sell as the amount grows.
func TestLiquidityAtLevel_Monotonic(t *testing.T) {
	snap := &Snapshot{
		Bids: []domain.PriceLevel{lv(100, 1), lv(99, 2), lv(97, 5), lv(90, 10)},
		Asks: []domain.PriceLevel{lv(101, 1), lv(102, 2), lv(105, 5), lv(110, 10)},
	}

	prevBuy, prevSell := 0.0, math.Inf(1)
	for usd := 10.0; usd <= 3000; usd += 10 {
		buy := snap.LiquidityAtLevel(usd, domain.SideBuy).VWAP
		sell := snap.LiquidityAtLevel(usd, domain.SideSell).VWAP
		if buy < prevBuy-1e-9 {
			t.Fatalf("Buy VWAP decreased at %v: %v -> %v", usd, prevBuy, buy)
		}
		if sell > prevSell+1e-9 {
			t.Fatalf("Sell VWAP increased at %v: %v -> %v", usd, prevSell, sell)
		}
		prevBuy, prevSell = buy, sell
	}
}

func TestVolatility(t *testing.T) {
	t.Run("fewer than two samples", func(t *testing.T) {
		if v := volatility([]PriceSample{{Mid: 100}}, 10); v != 0 {
			t.Errorf("Expected 0, got %v", v)
		}
		if v := volatility(nil, 10); v != 0 {
			t.Errorf("Expected 0, got %v", v)
		}
	})

	t.Run("two samples are defined", func(t *testing.T) {
		samples := []PriceSample{{Mid: 100}, {Mid: 101}}
		v := volatility(samples, 10)
		if v != 0 || math.IsNaN(v) {
			t.Errorf("Expected 0 for a single return, got %v", v)
		}
	})

	t.Run("constant price", func(t *testing.T) {
		samples := []PriceSample{{Mid: 100}, {Mid: 100}, {Mid: 100}, {Mid: 100}}
		if v := volatility(samples, 0); v != 0 {
			t.Errorf("Expected 0, got %v", v)
		}
	})

	t.Run("matches two-pass", func(t *testing.T) {
		mids := []float64{100, 101, 99.5, 100.2, 102, 101.1}
		samples := make([]PriceSample, len(mids))
		for i, m := range mids {
			samples[i] = PriceSample{Mid: m}
		}

		// window 4 uses the newest 4 samples -> 3 returns
		var rets []float64
		for i := 3; i < len(mids); i++ {
			rets = append(rets, math.Log(mids[i]/mids[i-1]))
		}
		var mean float64
		for _, r := range rets {
			mean += r
		}
		mean /= float64(len(rets))
		var ss float64
		for _, r := range rets {
			ss += (r - mean) * (r - mean)
		}
		want := math.Sqrt(ss / float64(len(rets)-1))

		if got := volatility(samples, 4); math.Abs(got-want) > 1e-12 {
			t.Errorf("volatility = %v, want %v", got, want)
		}
	})
}

func TestHistory_BoundedAndOrdered(t *testing.T) {
	h := newHistory(5)
	var views [][]PriceSample
	for i := 1; i <= 23; i++ {
		h.push(PriceSample{Mid: float64(i)})
		views = append(views, h.view())
	}

	last := h.view()
	if len(last) != 5 {
		t.Fatalf("Expected 5 samples, got %d", len(last))
	}
	for i, s := range last {
		if s.Mid != float64(19+i) {
			t.Errorf("view[%d] = %v, want %v", i, s.Mid, 19+i)
		}
	}
	if cap(h.buf) != 10 {
		t.Errorf("Backing array should stay at 2x capacity, got %d", cap(h.buf))
	}

	// Views captured earlier must not have been overwritten.
	for i, v := range views {
		if got := v[len(v)-1].Mid; got != float64(i+1) {
			t.Fatalf("view %d newest = %v, want %v", i, got, i+1)
		}
	}
}

func TestSnapshot_NearDepthAverage(t *testing.T) {
	s := NewStore("okx", "X", Options{HistorySize: 50})
	for i := int64(1); i <= 12; i++ {
		msg := snapshotMsg(i, []domain.PriceLevel{lv(100, 1), lv(50, 100)}, []domain.PriceLevel{lv(100.1, 2)})
		msg.TimestampMs = time.Date(2025, 1, 1, 0, 0, int(i), 0, time.UTC).UnixMilli()
		s.Apply(msg)
	}

	avg, ok := s.Snapshot().NearDepthAverage(10)
	if !ok {
		t.Fatal("Expected near depth average with 12 samples")
	}
	// The 50 bid is outside the 0.1% band.
	want := 100.0 + 200.2
	if math.Abs(avg-want) > 1e-9 {
		t.Errorf("NearDepthAverage = %v, want %v", avg, want)
	}

	if _, ok := s.Snapshot().NearDepthAverage(12); ok {
		t.Error("Expected not ok when samples <= n")
	}
}
