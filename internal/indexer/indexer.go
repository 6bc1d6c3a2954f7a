// Package indexer maintains the in-memory scored-obligation map fed by
// snapshot load and streaming account updates (component E).
package indexer

import (
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/bigmath"
	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/health"
	"github.com/kamino-liq/liqengine/internal/klend"
)

// Stats tracks the counters spec §4.E requires.
type Stats struct {
	CacheSize                int
	ScoredCount              int
	UnscoredCount            int
	LiquidatableCount        int
	EmptyObligations         int
	SkippedOtherMarketsCount int
	SkippedAllowlistCount    int
	TouchesKnownReserveCount int
	UnscoredReasons          map[health.Reason]int
}

// Indexer holds the decoded obligation map and derived scoring.
type Indexer struct {
	mu sync.RWMutex

	reserves *cache.ReserveCache
	oracles  *cache.OracleCache

	obligations map[solana.PublicKey]*klend.Obligation
	scored      map[solana.PublicKey]domain.ScoredObligation
	stats       Stats

	allowlist map[solana.PublicKey]bool // allowed borrow/collateral mints, empty = allow all
}

// New builds an Indexer against the given reserve/oracle caches.
func New(reserves *cache.ReserveCache, oracles *cache.OracleCache, allowlistMints []solana.PublicKey) *Indexer {
	allow := make(map[solana.PublicKey]bool, len(allowlistMints))
	for _, m := range allowlistMints {
		allow[m] = true
	}
	return &Indexer{
		reserves:    reserves,
		oracles:     oracles,
		obligations: make(map[solana.PublicKey]*klend.Obligation),
		scored:      make(map[solana.PublicKey]domain.ScoredObligation),
		allowlist:   allow,
		stats:       Stats{UnscoredReasons: make(map[health.Reason]int)},
	}
}

// Ingest decodes and (re)scores one obligation account update, per
// spec §4.E's per-update pipeline.
func (idx *Indexer) Ingest(pubkey solana.PublicKey, ob *klend.Obligation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.obligations[pubkey] = ob
	idx.recomputeLocked(pubkey, ob)
}

// recomputeLocked applies the reserve-membership precheck, allowlist
// filter, and health scoring. Caller must hold idx.mu.
func (idx *Indexer) recomputeLocked(pubkey solana.PublicKey, ob *klend.Obligation) {
	idx.stats.CacheSize = len(idx.obligations)

	if len(ob.Deposits) == 0 && len(ob.Borrows) == 0 {
		idx.stats.EmptyObligations++
		idx.dropScoredLocked(pubkey)
		return
	}

	if idx.reserves != nil && idx.reserves.Len() > 0 {
		touchesKnown := false
		for _, d := range ob.Deposits {
			if _, ok := idx.reserves.ByReserve(d.DepositReserve); ok {
				touchesKnown = true
				break
			}
		}
		if !touchesKnown {
			for _, b := range ob.Borrows {
				if _, ok := idx.reserves.ByReserve(b.BorrowReserve); ok {
					touchesKnown = true
					break
				}
			}
		}
		if !touchesKnown {
			idx.stats.SkippedOtherMarketsCount++
			idx.dropScoredLocked(pubkey)
			return
		}
		idx.stats.TouchesKnownReserveCount++
	}

	if len(idx.allowlist) > 0 && !idx.passesAllowlistLocked(ob) {
		idx.stats.SkippedAllowlistCount++
		idx.dropScoredLocked(pubkey)
		return
	}

	deposits := make([]health.Deposit, 0, len(ob.Deposits))
	for _, d := range ob.Deposits {
		deposits = append(deposits, health.Deposit{DepositReserve: d.DepositReserve, DepositedAmount: d.DepositedAmount})
	}
	borrows := make([]health.Borrow, 0, len(ob.Borrows))
	for _, b := range ob.Borrows {
		borrows = append(borrows, health.Borrow{BorrowReserve: b.BorrowReserve, BorrowedAmountSf: bigmath.BigFractionBytesToBigInt(bigmath.BigFractionBytes{Value: b.BorrowedAmountSf.Value})})
	}

	result := health.Compute(deposits, borrows, idx.reserves, idx.oracles, health.Options{})
	if !result.Scored {
		idx.stats.UnscoredCount++
		idx.stats.UnscoredReasons[result.Reason]++
		idx.dropScoredLocked(pubkey)
		return
	}

	so := domain.ScoredObligation{
		ObligationPubkey:   pubkey.String(),
		OwnerPubkey:        ob.Owner.String(),
		HealthRatio:        result.HealthRatio,
		HealthRatioRaw:      result.HealthRatioRaw,
		LiquidationEligible: health.IsLiquidatable(result.HealthRatio),
		BorrowValueUsd:      result.BorrowValueUsd,
		CollateralValueUsd:  result.CollateralValueUsd,
		DepositsCount:       len(ob.Deposits),
		BorrowsCount:        len(ob.Borrows),
	}
	if len(ob.Borrows) > 0 {
		so.RepayReservePubkey = ob.Borrows[0].BorrowReserve.String()
	}
	if len(ob.Deposits) > 0 {
		so.CollateralReservePubkey = ob.Deposits[0].DepositReserve.String()
	}

	if _, existed := idx.scored[pubkey]; !existed {
		idx.stats.ScoredCount++
	}
	if so.LiquidationEligible {
		idx.stats.LiquidatableCount++
	}
	idx.scored[pubkey] = so
}

func (idx *Indexer) passesAllowlistLocked(ob *klend.Obligation) bool {
	for _, d := range ob.Deposits {
		if r, ok := idx.reserves.ByReserve(d.DepositReserve); ok && idx.allowlist[r.LiquidityMint] {
			return true
		}
	}
	for _, b := range ob.Borrows {
		if r, ok := idx.reserves.ByReserve(b.BorrowReserve); ok && idx.allowlist[r.LiquidityMint] {
			return true
		}
	}
	return false
}

func (idx *Indexer) dropScoredLocked(pubkey solana.PublicKey) {
	if _, ok := idx.scored[pubkey]; ok {
		delete(idx.scored, pubkey)
	}
}

// GetScoredObligations returns the top-n scored obligations by ascending
// health ratio (spec §4.E).
func (idx *Indexer) GetScoredObligations(n int) []domain.ScoredObligation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]domain.ScoredObligation, 0, len(idx.scored))
	for _, so := range idx.scored {
		out = append(out, so)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HealthRatio < out[j].HealthRatio })

	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Stats returns a snapshot of the current counters.
func (idx *Indexer) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	reasons := make(map[health.Reason]int, len(idx.stats.UnscoredReasons))
	for k, v := range idx.stats.UnscoredReasons {
		reasons[k] = v
	}
	s := idx.stats
	s.UnscoredReasons = reasons
	return s
}
