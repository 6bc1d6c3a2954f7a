package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/solanaio"
)

func completePlan(key string) domain.FlashloanPlan {
	return domain.FlashloanPlan{
		Key:                     key,
		RepayReservePubkey:      "repay-" + key,
		CollateralReservePubkey: "coll-" + key,
		CollateralMint:          "collmint-" + key,
		RepayMint:               "repaymint-" + key,
	}
}

func TestEnqueueDropsIncompleteIncomingPlan(t *testing.T) {
	q, err := NewQueue(filepath.Join(t.TempDir(), "tx_queue.json"))
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	incomplete := completePlan("a")
	incomplete.RepayReservePubkey = ""

	var skipped []string
	q.SkipLogger = func(line string) { skipped = append(skipped, line) }

	q.EnqueuePlans([]domain.FlashloanPlan{incomplete})

	if q.Len() != 0 {
		t.Fatalf("expected incomplete incoming plan to be dropped, queue len=%d", q.Len())
	}
	if len(skipped) == 0 {
		t.Fatal("expected a skip_incomplete_plan log line")
	}
}

func TestEnqueuePurgesPreexistingLegacyIncompletePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx_queue.json")

	legacy := completePlan("legacy")
	legacy.CollateralMint = ""
	if err := solanaio.WriteJSONAtomic(path, []domain.FlashloanPlan{legacy}); err != nil {
		t.Fatalf("seed queue file: %v", err)
	}

	q, err := NewQueue(path)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected legacy incomplete plan to be purged on load, got len=%d", q.Len())
	}

	good := completePlan("good")
	q.EnqueuePlans([]domain.FlashloanPlan{good})
	if q.Len() != 1 {
		t.Fatalf("expected complete plan to survive enqueue, got len=%d", q.Len())
	}
}

func TestEnqueueMergesByKeyKeepingNewer(t *testing.T) {
	q, _ := NewQueue(filepath.Join(t.TempDir(), "tx_queue.json"))

	first := completePlan("x")
	first.EV = 1
	q.EnqueuePlans([]domain.FlashloanPlan{first})

	second := completePlan("x")
	second.EV = 99
	q.EnqueuePlans([]domain.FlashloanPlan{second})

	if q.Len() != 1 {
		t.Fatalf("expected merge by key, got len=%d", q.Len())
	}
	got, _ := q.Get("x")
	if got.EV != 99 {
		t.Fatalf("expected newer record to win, got EV=%v", got.EV)
	}
}

func TestSortedOrdersLiquidatableFirstThenEVThenTTLThenHazard(t *testing.T) {
	q, _ := NewQueue(filepath.Join(t.TempDir(), "tx_queue.json"))

	lowTTL, highTTL := 1.0, 5.0
	a := completePlan("a")
	a.LiquidationEligible = true
	a.EV = 1
	b := completePlan("b")
	b.LiquidationEligible = false
	b.EV = 1000
	c := completePlan("c")
	c.LiquidationEligible = true
	c.EV = 5
	c.TTLMin = &highTTL
	d := completePlan("d")
	d.LiquidationEligible = true
	d.EV = 5
	d.TTLMin = &lowTTL

	q.EnqueuePlans([]domain.FlashloanPlan{a, b, c, d})
	sorted := q.Sorted()

	if !sorted[0].LiquidationEligible {
		t.Fatalf("expected a liquidation-eligible plan first, got %q", sorted[0].Key)
	}
	lastEligibleIdx := 0
	for i, p := range sorted {
		if p.LiquidationEligible {
			lastEligibleIdx = i
		}
	}
	if sorted[lastEligibleIdx+1:][0].Key != "b" {
		t.Fatalf("expected non-liquidatable plan b to sort after all eligible plans")
	}
	if sorted[0].Key != "d" {
		t.Fatalf("expected d (EV=5,ttl=1) before c (EV=5,ttl=5), got order starting with %q", sorted[0].Key)
	}
}

func TestDowngradeBlockedPlan(t *testing.T) {
	q, _ := NewQueue(filepath.Join(t.TempDir(), "tx_queue.json"))
	q.EnqueuePlans([]domain.FlashloanPlan{completePlan("a")})

	if ok := q.DowngradeBlockedPlan("a", "blocked-setup"); !ok {
		t.Fatal("expected downgrade to find the plan")
	}
	got, _ := q.Get("a")
	if got.TTLMin == nil || *got.TTLMin != 999999 {
		t.Fatalf("expected ttlMin=999999, got %v", got.TTLMin)
	}
	if got.TTLStr != "blocked-setup" {
		t.Fatalf("expected ttlStr=blocked-setup, got %q", got.TTLStr)
	}
	if got.LiquidationEligible {
		t.Fatal("expected liquidationEligible to be cleared")
	}
}
