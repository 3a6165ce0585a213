package domain

import (
	"errors"
	"math"
	"testing"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"buy", SideBuy, false},
		{"SELL", SideSell, false},
		{" Buy ", SideBuy, false},
		{"hold", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSide(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSide(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSimulationRequest_Validate(t *testing.T) {
	valid := SimulationRequest{QuantityUSD: 100, Side: SideBuy, OrderType: OrderTypeMarket, FeeTier: "vip0"}

	tests := []struct {
		name    string
		mutate  func(r *SimulationRequest)
		wantErr error
	}{
		{"valid", func(r *SimulationRequest) {}, nil},
		{"zero quantity", func(r *SimulationRequest) { r.QuantityUSD = 0 }, ErrInvalidQuantity},
		{"negative quantity", func(r *SimulationRequest) { r.QuantityUSD = -5 }, ErrInvalidQuantity},
		{"NaN quantity", func(r *SimulationRequest) { r.QuantityUSD = math.NaN() }, ErrInvalidQuantity},
		{"infinite quantity", func(r *SimulationRequest) { r.QuantityUSD = math.Inf(1) }, ErrInvalidQuantity},
		{"bad side", func(r *SimulationRequest) { r.Side = 0 }, ErrInvalidSide},
		{"bad order type", func(r *SimulationRequest) { r.OrderType = 7 }, ErrInvalidOrderType},
		{"empty tier", func(r *SimulationRequest) { r.FeeTier = "" }, ErrInvalidFeeTier},
		{"negative volatility", func(r *SimulationRequest) { v := -0.1; r.VolatilityOverride = &v }, ErrInvalidVolatility},
		{"zero volatility", func(r *SimulationRequest) { v := 0.0; r.VolatilityOverride = &v }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}
