// Package allocation converts performance scores into normalized capital
// allocation percentages.
package allocation

import "math"

// Allocate maps each strategy's score to its share of a 100% budget,
// rounded to two decimals. The per-strategy rounding can leave the sum
// off 100 by up to 0.01 per strategy; callers treat that residue as
// acceptable rather than renormalizing. A zero total score falls back to
// an equal split.
func Allocate(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total <= 0 {
		equal := round2(100 / float64(len(scores)))
		for id := range scores {
			out[id] = equal
		}
		return out
	}

	for id, s := range scores {
		pct := 100 * s / total
		if pct < 0 {
			pct = 0
		}
		out[id] = round2(pct)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
