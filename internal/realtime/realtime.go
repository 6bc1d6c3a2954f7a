// Package realtime debounces and dedupes account/price update events and
// decides which plans need recomputation (component J).
package realtime

import (
	"math"
	"sync"
	"time"

	"github.com/kamino-liq/liqengine/internal/domain"
)

// AccountUpdate is one account-update stream event (spec §4.J).
type AccountUpdate struct {
	Pubkey string
	Slot   uint64
	Before []byte
	After  []byte
}

// PriceUpdate is one price-update stream event. Exactly one of
// OraclePubkey/AssetMint is expected to be set.
type PriceUpdate struct {
	OraclePubkey string
	AssetMint    string
	Slot         uint64
	Price        float64
	PrevPrice    float64
}

// Thresholds gates when an update triggers a recompute (spec §4.J).
type Thresholds struct {
	MinPricePctChange    float64
	MinHealthDelta       float64
	MinRefreshIntervalMs int64
	DebounceMs           int64
}

// Orchestrator tracks per-key dedupe/rate-limit state across the two event
// streams and decides which keys need a recompute pass.
type Orchestrator struct {
	mu sync.Mutex

	thresholds Thresholds

	lastSlotByKey    map[string]uint64
	lastRefreshMs    map[string]int64
	pendingSince     map[string]int64
}

// NewOrchestrator builds an Orchestrator with the given thresholds.
func NewOrchestrator(t Thresholds) *Orchestrator {
	return &Orchestrator{
		thresholds:    t,
		lastSlotByKey: make(map[string]uint64),
		lastRefreshMs: make(map[string]int64),
		pendingSince:  make(map[string]int64),
	}
}

// OnAccountUpdate records an account-update event and reports whether it
// passes dedupe (new slot for this pubkey).
func (o *Orchestrator) OnAccountUpdate(u AccountUpdate, nowMs int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.observeSlot(u.Pubkey, u.Slot)
}

// OnPriceUpdate records a price-update event and reports whether it passes
// dedupe and exceeds MinPricePctChange.
func (o *Orchestrator) OnPriceUpdate(u PriceUpdate, nowMs int64) bool {
	key := u.OraclePubkey
	if key == "" {
		key = u.AssetMint
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.observeSlot(key, u.Slot) {
		return false
	}
	if u.PrevPrice == 0 {
		return true
	}
	pctChange := math.Abs(u.Price-u.PrevPrice) / math.Abs(u.PrevPrice)
	return pctChange >= o.thresholds.MinPricePctChange
}

// observeSlot dedupes (key, slot): stale or repeated slots are rejected.
// Caller must hold o.mu.
func (o *Orchestrator) observeSlot(key string, slot uint64) bool {
	last, ok := o.lastSlotByKey[key]
	if ok && slot <= last {
		return false
	}
	o.lastSlotByKey[key] = slot
	return true
}

// ShouldRecompute applies the debounce window and per-key refresh-interval
// rate limit, given a health-ratio delta observed for key (0 if unknown).
func (o *Orchestrator) ShouldRecompute(key string, healthDelta float64, nowMs int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if last, ok := o.lastRefreshMs[key]; ok && nowMs-last < o.thresholds.MinRefreshIntervalMs {
		return false
	}

	since, pending := o.pendingSince[key]
	if !pending {
		o.pendingSince[key] = nowMs
		since = nowMs
	}
	if nowMs-since < o.thresholds.DebounceMs {
		return false
	}

	if math.Abs(healthDelta) < o.thresholds.MinHealthDelta && healthDelta != 0 {
		return false
	}

	delete(o.pendingSince, key)
	o.lastRefreshMs[key] = nowMs
	return true
}

// NowMs is a small helper for callers that don't otherwise track wall-clock
// time; it exists so production call sites have one canonical source.
func NowMs() int64 { return time.Now().UnixMilli() }

// RecomputePlanFields rederives hazard/EV/TTL for plan from candidate. When
// candidate is nil, the plan's previous hazard/EV/TTL/asset fields are
// preserved unchanged (spec §4.J).
func RecomputePlanFields(plan domain.FlashloanPlan, candidate *domain.Candidate, nowMs int64) domain.FlashloanPlan {
	if candidate == nil {
		return plan
	}

	updated := plan
	if candidate.EV != nil {
		prev := plan.EV
		updated.PrevEV = &prev
		updated.EV = *candidate.EV
	}
	if candidate.Hazard != nil {
		updated.Hazard = *candidate.Hazard
	}
	updated.LiquidationEligible = candidate.LiquidationEligible
	updated.RepayMint = candidate.PrimaryBorrowMint
	updated.CollateralMint = candidate.PrimaryCollateralMint
	updated.RepayReservePubkey = candidate.RepayReservePubkey
	updated.CollateralReservePubkey = candidate.CollateralReservePubkey
	updated.CreatedAtMs = nowMs
	return updated
}
