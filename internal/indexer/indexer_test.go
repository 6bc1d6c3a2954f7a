package indexer

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/klend"
)

func TestIngestRejectsObligationTouchingNoKnownReserve(t *testing.T) {
	knownReserve := solana.NewWallet().PublicKey()
	otherReserve := solana.NewWallet().PublicKey()

	reserves := cache.NewReserveCache()
	reserves.Load([]*cache.Reserve{{ReservePubkey: knownReserve, LiquidityMint: solana.NewWallet().PublicKey()}})
	oracles := cache.NewOracleCache()

	idx := New(reserves, oracles, nil)

	ob := &klend.Obligation{
		Owner:    solana.NewWallet().PublicKey(),
		Deposits: []klend.ObligationCollateral{{DepositReserve: otherReserve, DepositedAmount: 100}},
	}

	pubkey := solana.NewWallet().PublicKey()
	idx.Ingest(pubkey, ob)

	stats := idx.Stats()
	if stats.SkippedOtherMarketsCount != 1 {
		t.Fatalf("expected SkippedOtherMarketsCount=1, got %d", stats.SkippedOtherMarketsCount)
	}
	if stats.TouchesKnownReserveCount != 0 {
		t.Fatalf("expected TouchesKnownReserveCount to stay 0 for a skipped obligation, got %d", stats.TouchesKnownReserveCount)
	}
	if got := idx.GetScoredObligations(10); len(got) != 0 {
		t.Fatalf("expected no scored obligations, got %d", len(got))
	}
}

func TestIngestEmptyObligationCounted(t *testing.T) {
	idx := New(cache.NewReserveCache(), cache.NewOracleCache(), nil)
	idx.Ingest(solana.NewWallet().PublicKey(), &klend.Obligation{Owner: solana.NewWallet().PublicKey()})

	if stats := idx.Stats(); stats.EmptyObligations != 1 {
		t.Fatalf("expected EmptyObligations=1, got %d", stats.EmptyObligations)
	}
}

func TestGetScoredObligationsOrdersByAscendingHealthRatio(t *testing.T) {
	knownReserve := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	reserves := cache.NewReserveCache()
	reserves.Load([]*cache.Reserve{{
		ReservePubkey:           knownReserve,
		LiquidityMint:           mint,
		CollateralMint:          mint,
		LiquidationThresholdPct: 85,
		BorrowFactorPct:         100,
		CollateralExchangeRate:  1,
		LiquidityDecimals:       0,
	}})
	oracles := cache.NewOracleCache()
	oracles.Load(map[solana.PublicKey]cache.Price{mint: {Mantissa: 100, Exponent: 0}}, nil)

	idx := New(reserves, oracles, nil)

	healthyObligation := &klend.Obligation{
		Owner:    solana.NewWallet().PublicKey(),
		Deposits: []klend.ObligationCollateral{{DepositReserve: knownReserve, DepositedAmount: 1000}},
	}
	idx.Ingest(solana.NewWallet().PublicKey(), healthyObligation)

	// 10 units at $100 weighted 0.85 = 850 against 5 units (5e18 sf) of debt
	// at $100 weighted 1.0 = 500: health ratio 1.7, below the healthy one's 2.
	riskyPubkey := solana.NewWallet().PublicKey()
	riskyObligation := &klend.Obligation{
		Owner:    solana.NewWallet().PublicKey(),
		Deposits: []klend.ObligationCollateral{{DepositReserve: knownReserve, DepositedAmount: 10}},
		Borrows: []klend.ObligationLiquidity{{
			BorrowReserve:    knownReserve,
			BorrowedAmountSf: klend.BigFraction{Value: [4]uint64{5_000_000_000_000_000_000, 0, 0, 0}},
		}},
	}
	idx.Ingest(riskyPubkey, riskyObligation)

	got := idx.GetScoredObligations(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 scored obligations, got %d", len(got))
	}
	if got[0].ObligationPubkey != riskyPubkey.String() {
		t.Fatalf("expected the lower-health obligation first, got %+v", got)
	}
	if got[0].HealthRatio >= got[1].HealthRatio {
		t.Fatalf("expected ascending health ratio, got %v then %v", got[0].HealthRatio, got[1].HealthRatio)
	}
}
