// Package health computes the threshold-weighted health ratio of an
// obligation from its decoded deposits/borrows and the reserve/oracle
// caches (component D).
package health

import (
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/bigmath"
	"github.com/kamino-liq/liqengine/internal/cache"
)

// Deposit is one active collateral slot feeding the health computation.
type Deposit struct {
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
}

// Borrow is one active debt slot feeding the health computation.
type Borrow struct {
	BorrowReserve    solana.PublicKey
	BorrowedAmountSf *big.Int // 1e18-scaled liquidity base units
}

// Leg is one valued, weighted deposit or borrow used in the breakdown.
type Leg struct {
	ReservePubkey solana.PublicKey
	Mint          solana.PublicKey
	UsdValue      float64
	Weight        float64
	WeightedUsd   float64
}

// Breakdown is the optional per-leg detail requested via
// Options.IncludeBreakdown.
type Breakdown struct {
	CollateralLegs          []Leg
	BorrowLegs              []Leg
	TotalCollateralWeighted float64
	TotalBorrowWeighted     float64
}

// Reason tags why an obligation could not be scored.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMissingCache       Reason = "missing_cache"
	ReasonMissingOracle      Reason = "missing_oracle"
	ReasonNoCaches           Reason = "no_caches"
	ReasonEmptyObligation    Reason = "empty_obligation"
	ReasonOtherMarket        Reason = "OTHER_MARKET"
)

// Options tunes what Compute returns.
type Options struct {
	IncludeBreakdown bool
	ExposeRawHR      bool
}

// Result is the tagged-variant outcome of Compute: either Scored (Reason ==
// ReasonNone) or unscored with Reason set, never an exception (spec §4.D).
type Result struct {
	Scored         bool
	Reason         Reason
	HealthRatio    float64 // clamped [0,2]
	HealthRatioRaw float64 // unclamped, only set when Options.ExposeRawHR
	BorrowValueUsd float64
	CollateralValueUsd float64
	Breakdown      *Breakdown
}

// Compute implements spec §4.D: per-deposit collateral valuation weighted
// by liquidation threshold, per-borrow debt valuation weighted by borrow
// factor, clamped ratio, optional raw ratio and breakdown.
func Compute(deposits []Deposit, borrows []Borrow, reserves *cache.ReserveCache, oracles *cache.OracleCache, opts Options) Result {
	if reserves == nil || oracles == nil {
		return Result{Reason: ReasonNoCaches}
	}
	if len(deposits) == 0 && len(borrows) == 0 {
		return Result{Reason: ReasonEmptyObligation}
	}

	var breakdown *Breakdown
	if opts.IncludeBreakdown {
		breakdown = &Breakdown{}
	}

	var totalCollateralWeighted, totalCollateralUsd float64
	for _, d := range deposits {
		reserve, ok := reserves.ByReserve(d.DepositReserve)
		if !ok {
			return Result{Reason: ReasonMissingCache}
		}
		price, ok := oracles.ByMint(reserve.LiquidityMint)
		if !ok {
			return Result{Reason: ReasonMissingOracle}
		}

		liquidityUnits := float64(d.DepositedAmount) * exchangeRateOrOne(reserve.CollateralExchangeRate)
		uiAmount := liquidityUnits / pow10(reserve.LiquidityDecimals)
		confidenceUI := scaleConfidence(price)
		effectivePrice := math.Max(0, price.UIPrice()-confidenceUI)
		usdValue := uiAmount * effectivePrice
		weight := float64(reserve.LiquidationThresholdPct) / 100
		weightedUsd := usdValue * weight

		totalCollateralUsd += usdValue
		totalCollateralWeighted += weightedUsd

		if breakdown != nil {
			breakdown.CollateralLegs = append(breakdown.CollateralLegs, Leg{
				ReservePubkey: d.DepositReserve,
				Mint:          reserve.LiquidityMint,
				UsdValue:      usdValue,
				Weight:        weight,
				WeightedUsd:   weightedUsd,
			})
		}
	}

	var totalBorrowWeighted, totalBorrowUsd float64
	for _, b := range borrows {
		reserve, ok := reserves.ByReserve(b.BorrowReserve)
		if !ok {
			return Result{Reason: ReasonMissingCache}
		}
		price, ok := oracles.ByMint(reserve.LiquidityMint)
		if !ok {
			return Result{Reason: ReasonMissingOracle}
		}

		baseUnits := bigmath.SafeDivBigIntToNumber(b.BorrowedAmountSf, sfDenominator, 18, 0)
		uiAmount := baseUnits / pow10(reserve.LiquidityDecimals)
		confidenceUI := scaleConfidence(price)
		effectivePrice := price.UIPrice() + confidenceUI
		usdValue := uiAmount * effectivePrice
		weight := float64(reserve.BorrowFactorPct) / 100
		weightedUsd := usdValue * weight

		totalBorrowUsd += usdValue
		totalBorrowWeighted += weightedUsd

		if breakdown != nil {
			breakdown.BorrowLegs = append(breakdown.BorrowLegs, Leg{
				ReservePubkey: b.BorrowReserve,
				Mint:          reserve.LiquidityMint,
				UsdValue:      usdValue,
				Weight:        weight,
				WeightedUsd:   weightedUsd,
			})
		}
	}

	if breakdown != nil {
		breakdown.TotalCollateralWeighted = totalCollateralWeighted
		breakdown.TotalBorrowWeighted = totalBorrowWeighted
	}

	var raw float64
	if totalBorrowWeighted > 0 {
		raw = totalCollateralWeighted / totalBorrowWeighted
	} else if totalCollateralWeighted > 0 {
		raw = math.Inf(1)
	}

	result := Result{
		Scored:              true,
		HealthRatio:         clamp(raw, 0, 2),
		BorrowValueUsd:      totalBorrowUsd,
		CollateralValueUsd:  totalCollateralUsd,
		Breakdown:           breakdown,
	}
	if opts.ExposeRawHR {
		result.HealthRatioRaw = raw
	}
	return result
}

// IsLiquidatable implements spec §4.D's isLiquidatable rule: weighting
// already includes the liquidation threshold, so hr < 1.0 means liquidatable.
func IsLiquidatable(healthRatio float64) bool {
	return healthRatio < 1.0
}

var sfDenominator = bigIntPow10(18)

func bigIntPow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func exchangeRateOrOne(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}

func pow10(decimals int) float64 {
	if decimals <= 0 {
		return 1
	}
	return math.Pow(10, float64(decimals))
}

func scaleConfidence(p cache.Price) float64 {
	mantissa := float64(p.Confidence)
	if p.Exponent == 0 {
		return mantissa
	}
	if p.Exponent > 0 {
		return mantissa * math.Pow(10, float64(p.Exponent))
	}
	return mantissa / math.Pow(10, float64(-p.Exponent))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
