// Package forecast evaluates queued plans for staleness and re-scoring
// need (component I).
package forecast

import "strings"

// Params bundles the evaluation thresholds from spec §4.I.
type Params struct {
	ForecastMaxAgeMs    int64
	TTLGraceMs          int64
	TTLUnknownPasses    bool
	EVDropPct           float64
	MinEV               float64
	MinRefreshIntervalMs int64
}

// Entry is one queued plan's forecast state at evaluation time.
type Entry struct {
	Key                      string
	ForecastUpdatedAtMs      int64
	TTLMin                   *float64
	PredictedLiquidationAtMs *int64
	EV                       float64
	PrevEV                   *float64
}

// Result is the outcome of evaluating one Entry.
type Result struct {
	Key            string
	Expired        bool
	NeedsRecompute bool
	Reason         string
}

// Evaluate implements spec §4.I's per-entry flag logic, given the current
// time in epoch milliseconds; the prior-round EV comes from Entry.PrevEV.
func Evaluate(e Entry, p Params, nowMs int64) Result {
	var reasons []string

	if nowMs-e.ForecastUpdatedAtMs > p.ForecastMaxAgeMs {
		reasons = append(reasons, "age")
	}
	if e.TTLMin != nil && *e.TTLMin < 0 {
		reasons = append(reasons, "ttl_negative")
	}
	if e.TTLMin == nil && !p.TTLUnknownPasses {
		reasons = append(reasons, "ttl_unknown")
	}
	if e.PredictedLiquidationAtMs != nil && nowMs > *e.PredictedLiquidationAtMs+p.TTLGraceMs {
		reasons = append(reasons, "ttl_grace_exceeded")
	}

	expired := len(reasons) > 0

	needsRecompute := e.EV <= p.MinEV
	if e.PrevEV != nil && *e.PrevEV != 0 {
		drop := (*e.PrevEV - e.EV) / *e.PrevEV
		if drop >= p.EVDropPct {
			needsRecompute = true
		}
	}
	if needsRecompute && !expired {
		reasons = append(reasons, "needs_recompute")
	}

	age := nowMs - e.ForecastUpdatedAtMs
	if !expired && age < p.MinRefreshIntervalMs {
		needsRecompute = false
		reasons = append(reasons, "throttle")
	}

	return Result{
		Key:            e.Key,
		Expired:        expired,
		NeedsRecompute: needsRecompute,
		Reason:         strings.Join(reasons, ","),
	}
}
