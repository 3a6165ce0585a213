package book

import (
	"time"

	"trade_sim/internal/domain"
)

// Snapshot is an immutable view of the book. Slices must not be modified.
type Snapshot struct {
	Exchange  string
	Symbol    string
	Bids      []domain.PriceLevel // descending
	Asks      []domain.PriceLevel // ascending
	Sequence  int64
	Timestamp time.Time

	history []PriceSample
}

// BestBid returns the head of the bid ladder.
func (s *Snapshot) BestBid() (domain.PriceLevel, bool) {
	if s == nil || len(s.Bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the head of the ask ladder.
func (s *Snapshot) BestAsk() (domain.PriceLevel, bool) {
	if s == nil || len(s.Asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Mid returns (bestBid+bestAsk)/2; ok is false for a one-sided book.
func (s *Snapshot) Mid() (float64, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns bestAsk-bestBid.
func (s *Snapshot) Spread() (float64, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// History returns the rolling price samples, oldest first. Read-only.
func (s *Snapshot) History() []PriceSample {
	if s == nil {
		return nil
	}
	return s.history
}

// Volatility is the standard deviation of log mid returns over the newest
// window samples (all retained samples when window <= 0). It is 0 with
// fewer than two samples, and also with exactly two (one return).
func (s *Snapshot) Volatility(window int) float64 {
	if s == nil {
		return 0
	}
	return volatility(s.history, window)
}

// NearDepthAverage is the mean near-touch USD depth of the newest n samples.
// ok is false unless more than n samples exist.
func (s *Snapshot) NearDepthAverage(n int) (float64, bool) {
	if s == nil || n <= 0 || len(s.history) <= n {
		return 0, false
	}
	var sum float64
	for _, smp := range s.history[len(s.history)-n:] {
		sum += smp.NearDepthUSD
	}
	return sum / float64(n), true
}

// Liquidity is the outcome of walking one side of the book for a USD amount.
type Liquidity struct {
	VWAP              float64
	FilledUSD         float64
	FilledQuantity    float64
	LevelsConsumed    int
	InsufficientDepth bool
}

// LiquidityAtLevel walks asks (Buy) or bids (Sell) from the best price,
// consuming price*quantity until usdAmount is filled. When the visible
// ladder runs out first, the partial fill is returned with
// InsufficientDepth set.
func (s *Snapshot) LiquidityAtLevel(usdAmount float64, side domain.Side) Liquidity {
	var ladder []domain.PriceLevel
	if s != nil {
		if side == domain.SideSell {
			ladder = s.Bids
		} else {
			ladder = s.Asks
		}
	}

	var liq Liquidity
	remaining := usdAmount
	for _, lvl := range ladder {
		if remaining <= 0 {
			break
		}
		take := lvl.Notional()
		if take > remaining {
			take = remaining
		}
		liq.FilledQuantity += take / lvl.Price
		liq.FilledUSD += take
		liq.LevelsConsumed++
		remaining -= take
	}

	if liq.FilledQuantity > 0 {
		liq.VWAP = liq.FilledUSD / liq.FilledQuantity
	}
	// Tolerate float residue from the subtraction chain.
	liq.InsufficientDepth = usdAmount > 0 && remaining > usdAmount*1e-12
	return liq
}
