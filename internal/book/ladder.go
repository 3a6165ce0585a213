package book

import (
	"fmt"
	"sort"

	"trade_sim/internal/domain"
)

// A ladder is a slice of levels ordered best-first: bids descending, asks
// ascending. Prices are unique. Ladders reachable from a published Snapshot
// are never mutated; writers clone before editing.

// search returns the index of price in ladder, or the insertion point.
func search(ladder []domain.PriceLevel, price float64, desc bool) (int, bool) {
	i := sort.Search(len(ladder), func(i int) bool {
		if desc {
			return ladder[i].Price <= price
		}
		return ladder[i].Price >= price
	})
	return i, i < len(ladder) && ladder[i].Price == price
}

// buildLadder sorts a full-snapshot side and rejects duplicate prices.
func buildLadder(levels []domain.PriceLevel, desc bool, maxLevels int) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	for i := 1; i < len(out); i++ {
		if out[i].Price == out[i-1].Price {
			return nil, domain.NewProtocolError(fmt.Sprintf("duplicate price %v in snapshot", out[i].Price), nil)
		}
	}
	return trim(out, maxLevels), nil
}

// applyLevel edits ladder in place (it must be a private clone).
// Quantity 0 removes; absent removal and identical level are no-ops.
func applyLevel(ladder []domain.PriceLevel, lvl domain.PriceLevel, desc bool) ([]domain.PriceLevel, bool) {
	i, found := search(ladder, lvl.Price, desc)
	switch {
	case lvl.Quantity == 0 && !found:
		return ladder, false
	case lvl.Quantity == 0:
		return append(ladder[:i], ladder[i+1:]...), true
	case found && ladder[i].Quantity == lvl.Quantity:
		return ladder, false
	case found:
		ladder[i].Quantity = lvl.Quantity
		return ladder, true
	}
	ladder = append(ladder, domain.PriceLevel{})
	copy(ladder[i+1:], ladder[i:])
	ladder[i] = lvl
	return ladder, true
}

func cloneLadder(ladder []domain.PriceLevel, extra int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(ladder), len(ladder)+extra)
	copy(out, ladder)
	return out
}

func trim(ladder []domain.PriceLevel, maxLevels int) []domain.PriceLevel {
	if maxLevels > 0 && len(ladder) > maxLevels {
		return ladder[:maxLevels:maxLevels]
	}
	return ladder
}
