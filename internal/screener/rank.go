package screener

import (
	"sort"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// volumeWeight and openInterestWeight blend the two normalized inputs of the
// composite liquidity score.
const (
	volumeWeight       = 0.6
	openInterestWeight = 0.4
)

type scored struct {
	market domain.Market
	score  float64
	rank   int // dense rank, 1 = best
}

// rank computes a composite liquidity score per market, sorts descending
// (stable, so equal scores keep listing order), and assigns dense ranks.
func rank(markets []domain.Market, c Criteria) []scored {
	if len(markets) == 0 {
		return nil
	}

	var maxVolume, maxOI int64
	for _, m := range markets {
		if m.Volume24H > maxVolume {
			maxVolume = m.Volume24H
		}
		if m.OpenInterest > maxOI {
			maxOI = m.OpenInterest
		}
	}

	out := make([]scored, 0, len(markets))
	for _, m := range markets {
		out = append(out, scored{market: m, score: liquidityScore(m, maxVolume, maxOI, c)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})

	// Dense ranks: equal scores share a rank, the next distinct score gets
	// the next integer.
	denseRank := 0
	prev := -1.0
	for i := range out {
		if out[i].score != prev {
			denseRank++
			prev = out[i].score
		}
		out[i].rank = denseRank
	}

	return out
}

// liquidityScore blends normalized 24h volume and open interest, optionally
// penalized by the bid/ask spread when a spread cap is configured.
func liquidityScore(m domain.Market, maxVolume, maxOI int64, c Criteria) float64 {
	var nv, noi float64
	if maxVolume > 0 {
		nv = float64(m.Volume24H) / float64(maxVolume)
	}
	if maxOI > 0 {
		noi = float64(m.OpenInterest) / float64(maxOI)
	}

	score := volumeWeight*nv + openInterestWeight*noi

	if c.MaxSpread > 0 {
		penalty := m.Spread() / c.MaxSpread
		if penalty > 1 {
			penalty = 1
		}
		score *= 1 - penalty
	}

	return score
}
