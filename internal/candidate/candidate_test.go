package candidate

import (
	"testing"

	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/score"
)

func TestRankLiquidatableAlwaysFirst(t *testing.T) {
	obligations := []domain.ScoredObligation{
		{ObligationPubkey: "big-healthy", HealthRatio: 1.5, BorrowValueUsd: 1_000_000, LiquidationEligible: false},
		{ObligationPubkey: "small-liquidatable", HealthRatio: 0.8, BorrowValueUsd: 5, LiquidationEligible: true},
	}

	ranked := Rank(obligations, Options{})
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].ObligationPubkey != "small-liquidatable" {
		t.Fatalf("expected liquidation-eligible candidate first regardless of EV, got %q", ranked[0].ObligationPubkey)
	}
}

func TestRankNonLiquidatableTierOrdersByBorrowSize(t *testing.T) {
	obligations := []domain.ScoredObligation{
		{ObligationPubkey: "small", HealthRatio: 1.2, BorrowValueUsd: 100, LiquidationEligible: false},
		{ObligationPubkey: "large", HealthRatio: 1.2, BorrowValueUsd: 100_000, LiquidationEligible: false},
	}

	ranked := Rank(obligations, Options{})
	if ranked[0].ObligationPubkey != "large" {
		t.Fatalf("expected larger borrow USD to rank first at equal health ratio, got %q", ranked[0].ObligationPubkey)
	}
}

func TestRankPredictedLiquidatableSoonFlag(t *testing.T) {
	obligations := []domain.ScoredObligation{
		{ObligationPubkey: "near", HealthRatio: 1.02, LiquidationEligible: false},
		{ObligationPubkey: "far", HealthRatio: 1.5, LiquidationEligible: false},
	}

	ranked := Rank(obligations, Options{NearThreshold: 1.05})
	var near, far domain.Candidate
	for _, c := range ranked {
		switch c.ObligationPubkey {
		case "near":
			near = c
		case "far":
			far = c
		}
	}
	if !near.PredictedLiquidatableSoon {
		t.Fatal("expected near-threshold obligation to be flagged predicted-liquidatable-soon")
	}
	if far.PredictedLiquidatableSoon {
		t.Fatal("did not expect far-from-threshold obligation to be flagged")
	}
}

func TestRankEVModeDropsSmallNonLiquidatable(t *testing.T) {
	obligations := []domain.ScoredObligation{
		{ObligationPubkey: "tiny", HealthRatio: 1.1, HealthRatioRaw: 1.1, BorrowValueUsd: 1, LiquidationEligible: false},
		{ObligationPubkey: "liquidatable-tiny", HealthRatio: 0.9, HealthRatioRaw: 0.9, BorrowValueUsd: 1, LiquidationEligible: true},
	}

	ranked := Rank(obligations, Options{
		EVMode:       true,
		HazardAlpha:  25,
		MinBorrowUsd: 50,
		EVParams: score.EVParams{
			CloseFactor:         0.5,
			LiquidationBonusPct: 0.05,
			FlashloanFeePct:     0.001,
			SlippageBufferPct:   0.005,
			FixedGasUsd:         0.01,
		},
	})

	if len(ranked) != 1 {
		t.Fatalf("expected only the liquidation-eligible candidate to survive the MinBorrowUsd filter, got %d", len(ranked))
	}
	if ranked[0].ObligationPubkey != "liquidatable-tiny" {
		t.Fatalf("unexpected survivor %q", ranked[0].ObligationPubkey)
	}
}
