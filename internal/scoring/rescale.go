package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrTotalTooSmall indicates an effective total that cannot give every criterion a positive max.
var ErrTotalTooSmall = errors.New("effective total too small for the template criteria")

// rescaleUnit is 1 for integral totals and 0.01 otherwise.
func rescaleUnit(effectiveTotal float64) float64 {
	if math.Abs(effectiveTotal-math.Round(effectiveTotal)) <= scoreTolerance {
		return 1
	}
	return 0.01
}

// CheckEffectiveTotal rejects totals that would round a criterion down to a max of zero.
func CheckEffectiveTotal(tmpl Template, effectiveTotal float64) error {
	if math.Abs(tmpl.DefaultTotal-effectiveTotal) <= scoreTolerance {
		return nil
	}
	unit := rescaleUnit(effectiveTotal)
	if int64(math.Round(effectiveTotal/unit)) < int64(len(tmpl.Criteria)) {
		return fmt.Errorf("%w: %s points across %d criteria", ErrTotalTooSmall, formatPoints(effectiveTotal), len(tmpl.Criteria))
	}
	return nil
}

// RescaleCriteria linearly rescales criterion maxes so they sum to effectiveTotal exactly.
// Integral totals rescale to whole points, other totals to hundredths. Every criterion keeps at
// least one unit when the total allows it; the rounding remainder goes to the largest criteria first.
func RescaleCriteria(criteria []Criterion, defaultTotal, effectiveTotal float64) []Criterion {
	out := make([]Criterion, len(criteria))
	copy(out, criteria)
	if len(out) == 0 || defaultTotal <= 0 || effectiveTotal <= 0 {
		return out
	}
	if math.Abs(defaultTotal-effectiveTotal) <= scoreTolerance {
		return out
	}

	unit := rescaleUnit(effectiveTotal)
	totalUnits := int64(math.Round(effectiveTotal / unit))
	minUnits := int64(0)
	if totalUnits >= int64(len(out)) {
		minUnits = 1
	}

	factor := effectiveTotal / defaultTotal
	units := make([]int64, len(out))
	var assigned int64
	for i, criterion := range out {
		exact := criterion.MaxScore * factor / unit
		units[i] = max(minUnits, int64(math.Floor(exact+scoreTolerance)))
		assigned += units[i]
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]].MaxScore > out[order[b]].MaxScore
	})

	// Raising small criteria to the minimum can overshoot; take it back from the largest.
	for assigned > totalUnits {
		for _, idx := range order {
			if assigned == totalUnits {
				break
			}
			if units[idx] > minUnits {
				units[idx]--
				assigned--
			}
		}
	}

	for remainder := totalUnits - assigned; remainder > 0; {
		for _, idx := range order {
			if remainder == 0 {
				break
			}
			units[idx]++
			remainder--
		}
	}

	for i := range out {
		out[i].MaxScore = round2(float64(units[i]) * unit)
	}
	return out
}

// EffectiveCriteria returns the template criteria rescaled to the effective total.
func EffectiveCriteria(tmpl Template, effectiveTotal float64) []Criterion {
	return RescaleCriteria(tmpl.Criteria, tmpl.DefaultTotal, effectiveTotal)
}
