// Package cost estimates the execution cost of a hypothetical order
// against an order book snapshot.
package cost

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trade_sim/internal/book"
	"trade_sim/internal/domain"
)

const secondsPerDay = 86400

// Params tune the estimation. They are fixed at construction.
type Params struct {
	// VolatilityWindow is the number of newest price samples used for sigma.
	VolatilityWindow int
	// NearDepthSamples is how many samples feed the daily volume estimate.
	NearDepthSamples int
	// DefaultDailyVolumeUSD is used until more than NearDepthSamples samples exist.
	DefaultDailyVolumeUSD float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		VolatilityWindow:      100,
		NearDepthSamples:      10,
		DefaultDailyVolumeUSD: 5e8,
	}
}

// Engine is a pure cost estimator. It holds only read-only configuration and
// is safe for concurrent use.
type Engine struct {
	fees   *domain.FeeSchedule
	params Params
}

// NewEngine binds a fee schedule and parameters. Zero-valued params fall back to defaults.
func NewEngine(fees *domain.FeeSchedule, params Params) *Engine {
	def := DefaultParams()
	if params.VolatilityWindow <= 0 {
		params.VolatilityWindow = def.VolatilityWindow
	}
	if params.NearDepthSamples <= 0 {
		params.NearDepthSamples = def.NearDepthSamples
	}
	if !(params.DefaultDailyVolumeUSD > 0) {
		params.DefaultDailyVolumeUSD = def.DefaultDailyVolumeUSD
	}
	return &Engine{fees: fees, params: params}
}

// Params returns the effective parameters.
func (e *Engine) Params() Params { return e.params }

// Estimate computes slippage, market impact, fees and net cost of req against
// snap. The result depends only on its inputs; now is stamped as ComputedAt.
func (e *Engine) Estimate(req domain.SimulationRequest, snap *book.Snapshot, now time.Time) (domain.SimulationResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SimulationResult{}, err
	}
	mid, ok := snap.Mid()
	if !ok || !(mid > 0) {
		return domain.SimulationResult{}, domain.ErrNoMarketData
	}
	rates, err := e.fees.Lookup(snap.Exchange, req.FeeTier)
	if err != nil {
		return domain.SimulationResult{}, err
	}

	liq := snap.LiquidityAtLevel(req.QuantityUSD, req.Side)
	if liq.FilledQuantity == 0 {
		return domain.SimulationResult{}, domain.ErrNoMarketData
	}

	res := domain.SimulationResult{
		ComputedAt:        now,
		MidPrice:          mid,
		ExecutionVWAP:     liq.VWAP,
		InsufficientDepth: liq.InsufficientDepth,
	}

	res.Slippage = Slippage(liq.VWAP, mid, req.Side)

	sigma, ok := e.sigma(req, snap)
	res.Volatility = sigma
	res.Degraded = !ok
	res.MarketImpact = MarketImpact(sigma, req.QuantityUSD, e.dailyVolume(snap))

	if req.OrderType == domain.OrderTypeLimit {
		res.MakerProportion = MakerProportion(nearSideBestUSD(snap, req.Side), req.QuantityUSD)
	}
	res.TakerProportion = 1 - res.MakerProportion

	res.Fee = Fee(req.QuantityUSD, res.MakerProportion, rates)
	res.NetCost = req.QuantityUSD*(res.Slippage+res.MarketImpact) + res.Fee
	return res, nil
}

// sigma returns the override when set, else realized volatility. ok is false
// when neither is available.
func (e *Engine) sigma(req domain.SimulationRequest, snap *book.Snapshot) (float64, bool) {
	if req.VolatilityOverride != nil {
		return *req.VolatilityOverride, true
	}
	// One return needs two samples.
	if len(snap.History()) < 2 {
		return 0, false
	}
	return snap.Volatility(e.params.VolatilityWindow), true
}

func (e *Engine) dailyVolume(snap *book.Snapshot) float64 {
	if avg, ok := snap.NearDepthAverage(e.params.NearDepthSamples); ok && avg > 0 {
		return avg * secondsPerDay
	}
	return e.params.DefaultDailyVolumeUSD
}

// nearSideBestUSD is the notional of the best level on the side a passive
// order would rest on: bids for Buy, asks for Sell.
func nearSideBestUSD(snap *book.Snapshot, side domain.Side) float64 {
	var lvl domain.PriceLevel
	var ok bool
	if side == domain.SideSell {
		lvl, ok = snap.BestAsk()
	} else {
		lvl, ok = snap.BestBid()
	}
	if !ok {
		return 0
	}
	return lvl.Notional()
}

// Slippage is the VWAP deviation from mid as a fraction, positive when it costs.
func Slippage(vwap, mid float64, side domain.Side) float64 {
	if side == domain.SideSell {
		return (mid - vwap) / mid
	}
	return (vwap - mid) / mid
}

// MarketImpact applies the square-root law with a one-day horizon.
func MarketImpact(sigma, quantityUSD, dailyVolumeUSD float64) float64 {
	if !(dailyVolumeUSD > 0) {
		return 0
	}
	return sigma * math.Sqrt(quantityUSD/dailyVolumeUSD)
}

// MakerProportion estimates the passively filled share of a limit order. It
// falls as the order grows relative to the near-side best level.
func MakerProportion(nearDepthUSD, quantityUSD float64) float64 {
	if !(quantityUSD > 0) {
		return 0
	}
	relative := nearDepthUSD / quantityUSD
	return 1 / (1 + math.Exp(-(relative - 1)))
}

// Fee is quantityUSD * (maker*makerRate + taker*takerRate), computed in decimal.
func Fee(quantityUSD, makerProportion float64, rates domain.FeeRates) float64 {
	q := decimal.NewFromFloat(quantityUSD)
	maker := decimal.NewFromFloat(makerProportion)
	taker := decimal.NewFromInt(1).Sub(maker)
	blended := maker.Mul(rates.Maker).Add(taker.Mul(rates.Taker))
	return q.Mul(blended).InexactFloat64()
}

