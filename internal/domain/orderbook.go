package domain

import "sort"

// BookLevel is one normalized price level: probability and resting contracts.
type BookLevel struct {
	Price     float64
	Contracts int64
}

// Orderbook is the two-sided book for a market, normalized at the gateway
// boundary.
type Orderbook struct {
	Ticker string
	Yes    []BookLevel
	No     []BookLevel
}

func (ob Orderbook) side(s TradeSide) []BookLevel {
	if s == SideNo {
		return ob.No
	}
	return ob.Yes
}

// BestBid returns the highest-priced level on the given side. ok is false
// when that side is empty.
func (ob Orderbook) BestBid(s TradeSide) (BookLevel, bool) {
	levels := ob.side(s)
	if len(levels) == 0 {
		return BookLevel{}, false
	}
	best := levels[0]
	for _, lvl := range levels[1:] {
		if lvl.Price > best.Price {
			best = lvl
		}
	}
	return best, true
}

// Depth returns the total contracts resting on the given side.
func (ob Orderbook) Depth(s TradeSide) int64 {
	var total int64
	for _, lvl := range ob.side(s) {
		total += lvl.Contracts
	}
	return total
}

// SlippageFor estimates the fractional price slippage of a market order for
// the given number of contracts against the book side. It walks levels from
// the best bid down; an order larger than the whole book returns the worst
// observed slippage plus a penalty proportional to the unfilled remainder.
func (ob Orderbook) SlippageFor(s TradeSide, contracts int64) float64 {
	levels := ob.side(s)
	if len(levels) == 0 || contracts <= 0 {
		return 1
	}

	// Sort a copy best-first without mutating the book.
	sorted := make([]BookLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })

	best := sorted[0].Price
	if best <= 0 {
		return 1
	}

	remaining := contracts
	var cost float64
	for _, lvl := range sorted {
		take := lvl.Contracts
		if take > remaining {
			take = remaining
		}
		cost += float64(take) * lvl.Price
		remaining -= take
		if remaining == 0 {
			break
		}
	}

	filled := contracts - remaining
	if filled == 0 {
		return 1
	}
	avg := cost / float64(filled)
	slip := (best - avg) / best
	if slip < 0 {
		slip = 0
	}
	if remaining > 0 {
		slip += float64(remaining) / float64(contracts)
	}
	return slip
}
