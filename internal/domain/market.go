package domain

import "time"

// PriceLevel is one rung of a ladder. Quantity 0 in a delta removes the level.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Notional returns price*quantity in quote currency.
func (l PriceLevel) Notional() float64 {
	return l.Price * l.Quantity
}

// ConnState is the feed connectivity state.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// SimulationResult is created per call and never cached by the core.
// Slippage and MarketImpact are fractions of notional; Fee and NetCost are in USD.
type SimulationResult struct {
	Slippage        float64   `json:"slippage"`
	MarketImpact    float64   `json:"market_impact"`
	Fee             float64   `json:"fee"`
	MakerProportion float64   `json:"maker_proportion"`
	TakerProportion float64   `json:"taker_proportion"`
	NetCost         float64   `json:"net_cost"`
	ComputedAt      time.Time `json:"computed_at"`
	Degraded        bool      `json:"degraded"`

	InsufficientDepth bool    `json:"insufficient_depth"`
	MidPrice          float64 `json:"mid_price"`
	ExecutionVWAP     float64 `json:"execution_vwap"`
	Volatility        float64 `json:"volatility"`
}

// NetCostPct returns NetCost as a percentage of the requested notional.
func (r SimulationResult) NetCostPct(quantityUSD float64) float64 {
	if quantityUSD <= 0 {
		return 0
	}
	return r.NetCost / quantityUSD * 100
}

// PerformanceStats is a point-in-time view of feed processing health.
type PerformanceStats struct {
	AvgProcessingTimeMs float64   `json:"avg_processing_time_ms"`
	MaxProcessingTimeMs float64   `json:"max_processing_time_ms"`
	MinProcessingTimeMs float64   `json:"min_processing_time_ms"`
	MessageCount        uint64    `json:"message_count"`
	RejectedCount       uint64    `json:"rejected_count"`
	DroppedMessageCount uint64    `json:"dropped_message_count"`
	ConnectionState     ConnState `json:"connection_state"`
	Exchange            string    `json:"exchange"`
	Symbol              string    `json:"symbol"`
}
