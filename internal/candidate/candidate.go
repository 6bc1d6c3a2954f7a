// Package candidate ranks scored obligations into a priority-ordered
// liquidation worklist (component G).
package candidate

import (
	"math"
	"sort"

	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/score"
)

// Options configures the ranking pass (spec §4.G).
type Options struct {
	// EVMode switches from the default urgency*size priority to EV-ranked
	// selection. Off by default.
	EVMode bool

	HazardAlpha float64
	EVParams    score.EVParams
	MinBorrowUsd float64

	// NearThreshold flags obligations approaching liquidation even though
	// they're not eligible yet.
	NearThreshold float64
}

const defaultMinSizeFloor = 10

// Rank scores and sorts obligations into candidates, per spec §4.G.
// In default mode every obligation becomes a candidate, sorted by
// priorityScore descending. In EV mode, candidates below MinBorrowUsd are
// dropped unless already liquidation-eligible, and results are sorted by EV
// descending.
func Rank(obligations []domain.ScoredObligation, opts Options) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, len(obligations))

	for _, ob := range obligations {
		distance := math.Max(0, ob.HealthRatio-1)
		c := domain.Candidate{
			ScoredObligation:          ob,
			DistanceToLiquidation:     distance,
			PredictedLiquidatableSoon: !ob.LiquidationEligible && ob.HealthRatio <= opts.NearThreshold,
		}

		if opts.EVMode {
			hrForHazard := ob.HealthRatioRaw
			if hrForHazard == 0 {
				hrForHazard = ob.HealthRatio
			}
			hazard := score.Hazard(hrForHazard, opts.HazardAlpha)
			ev := score.EV(ob.BorrowValueUsd, hazard, opts.EVParams)
			c.Hazard = &hazard
			c.EV = &ev
			c.PriorityScore = ev

			if !ob.LiquidationEligible && ob.BorrowValueUsd < opts.MinBorrowUsd {
				continue
			}
		} else {
			urgency := urgencyFor(ob.LiquidationEligible, distance)
			size := math.Log10(math.Max(defaultMinSizeFloor, ob.BorrowValueUsd))
			c.PriorityScore = urgency * size
		}

		candidates = append(candidates, c)
	}

	if opts.EVMode {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].EV != nil && candidates[j].EV != nil && *candidates[i].EV > *candidates[j].EV
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return rankLess(candidates[i], candidates[j])
		})
	}

	return candidates
}

func urgencyFor(liquidationEligible bool, distance float64) float64 {
	if liquidationEligible {
		return 1e6
	}
	return 1 / (distance + 0.001)
}

// rankLess reports whether a ranks strictly before b in default-mode order:
// liquidation-eligible candidates first regardless of priority score, then
// by priorityScore descending (spec §8 property 5).
func rankLess(a, b domain.Candidate) bool {
	if a.LiquidationEligible != b.LiquidationEligible {
		return a.LiquidationEligible
	}
	return a.PriorityScore > b.PriorityScore
}
