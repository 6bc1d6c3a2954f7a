// Package cache holds the engine's leaf singleton state: reserve lookups
// and oracle prices (component C). Caches are refreshed atomically by
// swapping the whole map, so readers always observe a consistent snapshot
// within a tick (spec §5).
package cache

import (
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

// Price is an oracle price quote (spec §3): UI price = Mantissa * 10^Exponent.
type Price struct {
	Mantissa   int64
	Exponent   int32
	Confidence uint64
	Slot       uint64
	OracleType string
}

// UIPrice returns the human-readable price as a float64.
func (p Price) UIPrice() float64 {
	return scaleByExponent(float64(p.Mantissa), p.Exponent)
}

func scaleByExponent(v float64, exponent int32) float64 {
	if exponent == 0 {
		return v
	}
	result := v
	if exponent > 0 {
		for i := int32(0); i < exponent; i++ {
			result *= 10
		}
		return result
	}
	for i := int32(0); i < -exponent; i++ {
		result /= 10
	}
	return result
}

// Reserve is the subset of klend.Reserve the cache and health math need,
// kept decoupled from the wire struct so callers can populate it from test
// fixtures without going through the binary decoder.
type Reserve struct {
	ReservePubkey           solana.PublicKey
	MarketPubkey            solana.PublicKey
	LiquidityMint           solana.PublicKey
	CollateralMint          solana.PublicKey
	LiquidityDecimals       int
	CollateralDecimals      int
	LoanToValuePct          uint8
	LiquidationThresholdPct uint8
	LiquidationBonusBps     uint16
	BorrowFactorPct         uint16
	CollateralExchangeRate  float64
}

type reserveSnapshot struct {
	byReserve map[solana.PublicKey]*Reserve
	byMint    map[solana.PublicKey]*Reserve
}

// ReserveCache is the byReserve/byMint dual-map cache from spec §4.C.
// Lookups by reserve pubkey are authoritative; byMint is a convenience.
type ReserveCache struct {
	snapshot atomic.Pointer[reserveSnapshot]
}

// NewReserveCache returns an empty cache.
func NewReserveCache() *ReserveCache {
	c := &ReserveCache{}
	c.snapshot.Store(&reserveSnapshot{
		byReserve: map[solana.PublicKey]*Reserve{},
		byMint:    map[solana.PublicKey]*Reserve{},
	})
	return c
}

// Load atomically swaps in a new full set of reserves.
func (c *ReserveCache) Load(reserves []*Reserve) {
	byReserve := make(map[solana.PublicKey]*Reserve, len(reserves))
	byMint := make(map[solana.PublicKey]*Reserve, len(reserves))
	for _, r := range reserves {
		byReserve[r.ReservePubkey] = r
		byMint[r.LiquidityMint] = r
	}
	c.snapshot.Store(&reserveSnapshot{byReserve: byReserve, byMint: byMint})
}

// ByReserve looks up a reserve by its own pubkey (authoritative).
func (c *ReserveCache) ByReserve(reservePubkey solana.PublicKey) (*Reserve, bool) {
	snap := c.snapshot.Load()
	r, ok := snap.byReserve[reservePubkey]
	return r, ok
}

// ByMint looks up a reserve by its liquidity mint (convenience only).
func (c *ReserveCache) ByMint(mint solana.PublicKey) (*Reserve, bool) {
	snap := c.snapshot.Load()
	r, ok := snap.byMint[mint]
	return r, ok
}

// Len reports the number of reserves currently cached.
func (c *ReserveCache) Len() int {
	return len(c.snapshot.Load().byReserve)
}

type oracleSnapshot struct {
	byMint map[solana.PublicKey]Price
}

// OracleCache is the mint→Price cache from spec §4.C. The loader accepts an
// optional mint allow-list; absent mints are not loaded or priced.
type OracleCache struct {
	snapshot atomic.Pointer[oracleSnapshot]
}

// NewOracleCache returns an empty cache.
func NewOracleCache() *OracleCache {
	c := &OracleCache{}
	c.snapshot.Store(&oracleSnapshot{byMint: map[solana.PublicKey]Price{}})
	return c
}

// Load atomically swaps in a new full set of prices, filtered to the
// allowlist when non-empty.
func (c *OracleCache) Load(prices map[solana.PublicKey]Price, allowlist []solana.PublicKey) {
	byMint := make(map[solana.PublicKey]Price, len(prices))
	if len(allowlist) == 0 {
		for mint, price := range prices {
			byMint[mint] = price
		}
	} else {
		allowed := make(map[solana.PublicKey]struct{}, len(allowlist))
		for _, mint := range allowlist {
			allowed[mint] = struct{}{}
		}
		for mint, price := range prices {
			if _, ok := allowed[mint]; ok {
				byMint[mint] = price
			}
		}
	}
	c.snapshot.Store(&oracleSnapshot{byMint: byMint})
}

// ByMint looks up the current price for a mint.
func (c *OracleCache) ByMint(mint solana.PublicKey) (Price, bool) {
	snap := c.snapshot.Load()
	p, ok := snap.byMint[mint]
	return p, ok
}

// Len reports the number of prices currently cached.
func (c *OracleCache) Len() int {
	return len(c.snapshot.Load().byMint)
}
