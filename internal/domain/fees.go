package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeRates are the maker and taker rates of one VIP tier, as fractions of notional.
type FeeRates struct {
	Maker decimal.Decimal `yaml:"maker" json:"maker"`
	Taker decimal.Decimal `yaml:"taker" json:"taker"`
}

// FeeSchedule maps (exchange, tier) to rates. Read-only after construction.
type FeeSchedule struct {
	rates map[string]map[string]FeeRates
}

// NewFeeSchedule copies the table so later mutation by the caller has no effect.
// Exchange and tier keys are case-insensitive.
func NewFeeSchedule(table map[string]map[string]FeeRates) (*FeeSchedule, error) {
	fs := &FeeSchedule{rates: make(map[string]map[string]FeeRates, len(table))}
	for exchange, tiers := range table {
		ex := normalizeKey(exchange)
		if _, dup := fs.rates[ex]; dup {
			return nil, &ConfigError{Field: "fees." + exchange, Err: fmt.Errorf("duplicate exchange")}
		}
		m := make(map[string]FeeRates, len(tiers))
		for tier, r := range tiers {
			if r.Maker.IsNegative() || r.Taker.IsNegative() || r.Maker.GreaterThan(decimal.NewFromInt(1)) || r.Taker.GreaterThan(decimal.NewFromInt(1)) {
				return nil, &ConfigError{Field: "fees." + exchange + "." + tier, Err: fmt.Errorf("rate out of range [0,1]")}
			}
			m[normalizeKey(tier)] = r
		}
		fs.rates[ex] = m
	}
	return fs, nil
}

// Lookup returns the rates for (exchange, tier) or ErrInvalidFeeTier.
func (fs *FeeSchedule) Lookup(exchange, tier string) (FeeRates, error) {
	if fs != nil {
		if tiers, ok := fs.rates[normalizeKey(exchange)]; ok {
			if r, ok := tiers[normalizeKey(tier)]; ok {
				return r, nil
			}
		}
	}
	return FeeRates{}, &ValidationError{Field: "fee_tier", Err: fmt.Errorf("%w: %s/%s", ErrInvalidFeeTier, exchange, tier)}
}

// Tiers lists the known tiers of an exchange, sorted.
func (fs *FeeSchedule) Tiers(exchange string) []string {
	if fs == nil {
		return nil
	}
	tiers := fs.rates[normalizeKey(exchange)]
	out := make([]string, 0, len(tiers))
	for t := range tiers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
