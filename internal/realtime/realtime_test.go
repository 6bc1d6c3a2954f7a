package realtime

import (
	"testing"

	"github.com/kamino-liq/liqengine/internal/domain"
)

func TestOnAccountUpdateDedupesStaleSlot(t *testing.T) {
	o := NewOrchestrator(Thresholds{})

	if !o.OnAccountUpdate(AccountUpdate{Pubkey: "p", Slot: 10}, 0) {
		t.Fatal("expected first update at slot 10 to pass dedupe")
	}
	if o.OnAccountUpdate(AccountUpdate{Pubkey: "p", Slot: 10}, 0) {
		t.Fatal("expected repeated slot 10 to be deduped")
	}
	if o.OnAccountUpdate(AccountUpdate{Pubkey: "p", Slot: 5}, 0) {
		t.Fatal("expected stale slot 5 to be deduped")
	}
	if !o.OnAccountUpdate(AccountUpdate{Pubkey: "p", Slot: 11}, 0) {
		t.Fatal("expected newer slot 11 to pass dedupe")
	}
}

func TestOnPriceUpdateRequiresMinPctChange(t *testing.T) {
	o := NewOrchestrator(Thresholds{MinPricePctChange: 0.01})

	small := PriceUpdate{AssetMint: "SOL", Slot: 1, Price: 100.1, PrevPrice: 100}
	if o.OnPriceUpdate(small, 0) {
		t.Fatal("expected sub-threshold price change to be rejected")
	}

	big := PriceUpdate{AssetMint: "SOL", Slot: 2, Price: 105, PrevPrice: 100}
	if !o.OnPriceUpdate(big, 0) {
		t.Fatal("expected above-threshold price change to pass")
	}
}

func TestShouldRecomputeRespectsDebounceThenRefreshInterval(t *testing.T) {
	o := NewOrchestrator(Thresholds{DebounceMs: 100, MinRefreshIntervalMs: 1000, MinHealthDelta: 0})

	if o.ShouldRecompute("obl-1", 0.5, 1000) {
		t.Fatal("expected first call to start the debounce window, not fire immediately")
	}
	if !o.ShouldRecompute("obl-1", 0.5, 1150) {
		t.Fatal("expected recompute to fire once debounce window elapses")
	}
	if o.ShouldRecompute("obl-1", 0.5, 1200) {
		t.Fatal("expected refresh-interval rate limit to suppress immediate repeat")
	}
}

func TestRecomputePlanFieldsPreservesWhenCandidateAbsent(t *testing.T) {
	plan := domain.FlashloanPlan{Key: "a", EV: 42, Hazard: 0.5, TTLStr: "5m00s"}
	got := RecomputePlanFields(plan, nil, 123)
	if got != plan {
		t.Fatalf("expected plan unchanged when candidate is nil, got %+v", got)
	}
}

func TestRecomputePlanFieldsUpdatesFromCandidate(t *testing.T) {
	ev := 99.0
	hazard := 0.8
	plan := domain.FlashloanPlan{Key: "a", EV: 1, Hazard: 0.1}
	candidate := &domain.Candidate{
		ScoredObligation: domain.ScoredObligation{
			RepayReservePubkey:      "r1",
			CollateralReservePubkey: "c1",
			PrimaryBorrowMint:       "USDC",
			PrimaryCollateralMint:   "SOL",
			LiquidationEligible:     true,
		},
		EV:     &ev,
		Hazard: &hazard,
	}

	got := RecomputePlanFields(plan, candidate, 456)
	if got.EV != 99 || got.PrevEV == nil || *got.PrevEV != 1 {
		t.Fatalf("expected EV updated with PrevEV preserved, got %+v", got)
	}
	if got.Hazard != 0.8 {
		t.Fatalf("expected hazard updated, got %v", got.Hazard)
	}
	if !got.LiquidationEligible || got.RepayMint != "USDC" || got.CollateralMint != "SOL" {
		t.Fatalf("expected candidate fields applied, got %+v", got)
	}
}
