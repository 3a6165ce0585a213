package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func okxTable() map[string]map[string]FeeRates {
	return map[string]map[string]FeeRates{
		"OKX": {
			"VIP0": {Maker: decimal.RequireFromString("0.0008"), Taker: decimal.RequireFromString("0.0010")},
			"vip1": {Maker: decimal.RequireFromString("0.0007"), Taker: decimal.RequireFromString("0.0009")},
		},
	}
}

func TestFeeSchedule_Lookup(t *testing.T) {
	fs, err := NewFeeSchedule(okxTable())
	if err != nil {
		t.Fatalf("NewFeeSchedule failed: %v", err)
	}

	t.Run("case insensitive", func(t *testing.T) {
		r, err := fs.Lookup("okx", "vip0")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if !r.Taker.Equal(decimal.RequireFromString("0.001")) {
			t.Errorf("Expected taker 0.001, got %s", r.Taker)
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		_, err := fs.Lookup("okx", "vip9")
		if !errors.Is(err, ErrInvalidFeeTier) {
			t.Errorf("Expected ErrInvalidFeeTier, got %v", err)
		}
	})

	t.Run("unknown exchange", func(t *testing.T) {
		_, err := fs.Lookup("binance", "vip0")
		if !errors.Is(err, ErrInvalidFeeTier) {
			t.Errorf("Expected ErrInvalidFeeTier, got %v", err)
		}
	})

	t.Run("tiers sorted", func(t *testing.T) {
		tiers := fs.Tiers("OKX")
		if len(tiers) != 2 || tiers[0] != "vip0" || tiers[1] != "vip1" {
			t.Errorf("Tiers = %v", tiers)
		}
	})
}

func TestFeeSchedule_Immutable(t *testing.T) {
	table := okxTable()
	fs, _ := NewFeeSchedule(table)

	table["OKX"]["VIP0"] = FeeRates{Maker: decimal.NewFromInt(1), Taker: decimal.NewFromInt(1)}

	r, _ := fs.Lookup("okx", "vip0")
	if !r.Maker.Equal(decimal.RequireFromString("0.0008")) {
		t.Error("FeeSchedule should not observe caller mutation")
	}
}

func TestFeeSchedule_RejectsOutOfRange(t *testing.T) {
	_, err := NewFeeSchedule(map[string]map[string]FeeRates{
		"okx": {"vip0": {Maker: decimal.NewFromInt(-1), Taker: decimal.Zero}},
	})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
}
