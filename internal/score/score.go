// Package score implements the hazard, EV, and TTL-string estimators
// (component F).
package score

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Hazard computes a monotone-decreasing pseudo-probability of liquidation
// in the near future from the health-ratio margin above 1.0 (spec §4.F).
func Hazard(healthRatio, alpha float64) float64 {
	margin := math.Max(0, healthRatio-1)
	return 1 / (1 + alpha*margin)
}

// EVParams holds the fee/gas constants from spec §6's scoring env vars.
type EVParams struct {
	CloseFactor        float64
	LiquidationBonusPct float64
	FlashloanFeePct     float64
	SlippageBufferPct   float64
	FixedGasUsd         float64
}

// EV computes the expected profit in USD of attempting a liquidation, net
// of fees and gas (spec §4.F).
func EV(borrowUsd, hazard float64, p EVParams) float64 {
	gross := hazard * p.CloseFactor * p.LiquidationBonusPct * borrowUsd
	cost := (p.FlashloanFeePct + p.SlippageBufferPct) * borrowUsd
	return gross - cost - p.FixedGasUsd
}

// EstimateTTLString implements spec §4.F's estimateTtlString: "now" when
// the margin is non-positive, "unknown" on any failure, otherwise a
// formatted MmSSs duration clamped to maxDropPct.
func EstimateTTLString(healthRatio, solDropPctPerMin, maxDropPct float64) string {
	if solDropPctPerMin <= 0 || maxDropPct <= 0 {
		return "unknown"
	}
	margin := math.Max(0, healthRatio-1)
	if margin <= 0 {
		return "now"
	}
	minutes := math.Min(maxDropPct, margin*100) / solDropPctPerMin
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes < 0 {
		return "unknown"
	}
	return formatMinutes(minutes)
}

func formatMinutes(minutes float64) string {
	totalSeconds := int64(math.Round(minutes * 60))
	m := totalSeconds / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%dm%02ds", m, s)
}

// ParseTTLMinutes parses the MmSSs form back to minutes, and the literals
// "now" (-> 0) and "unknown" (-> nil).
func ParseTTLMinutes(s string) (*float64, error) {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "now":
		zero := 0.0
		return &zero, nil
	case "unknown":
		return nil, nil
	}

	idx := strings.IndexByte(trimmed, 'm')
	if idx < 0 || !strings.HasSuffix(trimmed, "s") {
		return nil, fmt.Errorf("bad_input: unrecognized ttl string %q", s)
	}
	minutesPart := trimmed[:idx]
	secondsPart := trimmed[idx+1 : len(trimmed)-1]

	minutes, err := strconv.ParseInt(minutesPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad_input: unrecognized ttl string %q: %w", s, err)
	}
	seconds, err := strconv.ParseInt(secondsPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad_input: unrecognized ttl string %q: %w", s, err)
	}

	total := float64(minutes) + float64(seconds)/60
	return &total, nil
}
