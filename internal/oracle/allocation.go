package oracle

import "math"

// AllocationBounds is the per-trade sizing band and per-cycle budget the
// pipeline enforces on oracle output regardless of what the service asked for.
type AllocationBounds struct {
	Min    float64 // per-selection floor, dollars
	Max    float64 // per-selection ceiling, dollars
	Budget float64 // cap on the sum across selections
}

// NormalizeAllocations clamps each allocation into [Min, Max], then if the
// clamped sum still exceeds the budget scales everything down proportionally
// and re-clamps. The last allocation absorbs the rounding remainder so the
// sum never lands above the budget by a cent. Allocations are rounded to
// cents. The input slice is not modified.
func NormalizeAllocations(allocations []float64, bounds AllocationBounds) []float64 {
	if len(allocations) == 0 {
		return nil
	}

	out := make([]float64, len(allocations))
	sum := 0.0
	for i, a := range allocations {
		out[i] = clamp(a, bounds.Min, bounds.Max)
		sum += out[i]
	}

	if bounds.Budget > 0 && sum > bounds.Budget {
		scale := bounds.Budget / sum
		sum = 0
		for i := range out {
			// Scaling can push a value below the floor; the floor wins, and
			// the overshoot comes out of the last item below.
			out[i] = clamp(out[i]*scale, bounds.Min, bounds.Max)
			sum += out[i]
		}

	}

	sum = 0
	for i := range out {
		out[i] = roundCents(out[i])
		sum += out[i]
	}

	// The deliberate last-item adjustment: rounding and floor re-clamping can
	// leave the sum a hair over budget, and the final slot eats the excess.
	if bounds.Budget > 0 && sum > bounds.Budget {
		last := len(out) - 1
		out[last] = roundCents(out[last] - (sum - bounds.Budget))
		if out[last] < 0 {
			out[last] = 0
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if lo > 0 && v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
