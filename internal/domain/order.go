package domain

import (
	"math"
	"strings"
)

// Side is the direction of a simulated order.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

// String returns the string representation of Side
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return 0, &ValidationError{Field: "side", Err: ErrInvalidSide}
}

// OrderType is Market or Limit.
type OrderType int

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderType accepts "market"/"limit" in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET":
		return OrderTypeMarket, nil
	case "LIMIT":
		return OrderTypeLimit, nil
	}
	return 0, &ValidationError{Field: "order_type", Err: ErrInvalidOrderType}
}

// SimulationRequest describes the hypothetical order whose cost is estimated.
type SimulationRequest struct {
	QuantityUSD float64
	Side        Side
	OrderType   OrderType
	FeeTier     string
	// VolatilityOverride replaces the book's realized volatility when set.
	VolatilityOverride *float64
}

// Validate checks the request shape. Fee tier existence is checked
// against the FeeSchedule by the cost engine.
func (r SimulationRequest) Validate() error {
	if !(r.QuantityUSD > 0) || math.IsInf(r.QuantityUSD, 0) {
		return &ValidationError{Field: "quantity_usd", Err: ErrInvalidQuantity}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Err: ErrInvalidSide}
	}
	if r.OrderType != OrderTypeMarket && r.OrderType != OrderTypeLimit {
		return &ValidationError{Field: "order_type", Err: ErrInvalidOrderType}
	}
	if strings.TrimSpace(r.FeeTier) == "" {
		return &ValidationError{Field: "fee_tier", Err: ErrInvalidFeeTier}
	}
	if v := r.VolatilityOverride; v != nil && (!(*v >= 0) || math.IsInf(*v, 0)) {
		return &ValidationError{Field: "volatility_override", Err: ErrInvalidVolatility}
	}
	return nil
}
