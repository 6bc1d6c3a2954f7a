package marketdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/klend"
)

func TestToCacheReserves(t *testing.T) {
	market := solana.NewWallet().PublicKey()
	liquidityMint := solana.NewWallet().PublicKey()
	collateralMint := solana.NewWallet().PublicKey()
	reservePubkey := solana.NewWallet().PublicKey()

	byPubkey := map[solana.PublicKey]*klend.Reserve{
		reservePubkey: {
			LendingMarket:      market,
			LiquidityMint:      liquidityMint,
			CollateralMint:     collateralMint,
			LiquidityDecimals:  9,
			CollateralDecimals: 6,
			Config: klend.ReserveConfig{
				LoanToValuePct:          80,
				LiquidationThresholdPct: 85,
				LiquidationBonusBps:     500,
				BorrowFactorPct:         100,
			},
		},
	}

	out := ToCacheReserves(byPubkey)
	if len(out) != 1 {
		t.Fatalf("expected 1 reserve, got %d", len(out))
	}
	r := out[0]
	if !r.ReservePubkey.Equals(reservePubkey) {
		t.Fatalf("reserve pubkey mismatch: %s", r.ReservePubkey)
	}
	if !r.MarketPubkey.Equals(market) || !r.LiquidityMint.Equals(liquidityMint) || !r.CollateralMint.Equals(collateralMint) {
		t.Fatalf("pubkey fields mismatch: %+v", r)
	}
	if r.LiquidityDecimals != 9 || r.CollateralDecimals != 6 {
		t.Fatalf("decimals mismatch: %+v", r)
	}
	if r.LoanToValuePct != 80 || r.LiquidationThresholdPct != 85 || r.LiquidationBonusBps != 500 || r.BorrowFactorPct != 100 {
		t.Fatalf("config fields mismatch: %+v", r)
	}
	if r.CollateralExchangeRate != 1.0 {
		t.Fatalf("expected CollateralExchangeRate default of 1.0, got %f", r.CollateralExchangeRate)
	}
}

func TestLoadOraclePrices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.json")
	mint := solana.NewWallet().PublicKey()

	content := `{"prices":[{"mint":"` + mint.String() + `","mantissa":123456,"exponent":-6,"confidence":10,"slot":999,"oracleType":"pyth"}]}`
	if err := writeFile(path, content); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	prices, err := LoadOraclePrices(path)
	if err != nil {
		t.Fatalf("LoadOraclePrices: %v", err)
	}
	price, ok := prices[mint]
	if !ok {
		t.Fatalf("expected price entry for mint %s", mint)
	}
	if price.Mantissa != 123456 || price.Exponent != -6 || price.Confidence != 10 || price.Slot != 999 || price.OracleType != "pyth" {
		t.Fatalf("price fields mismatch: %+v", price)
	}
}

func TestLoadOraclePricesRejectsInvalidMint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.json")
	content := `{"prices":[{"mint":"not-a-valid-base58-mint","mantissa":1,"exponent":0,"confidence":0,"slot":0,"oracleType":"pyth"}]}`
	if err := writeFile(path, content); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if _, err := LoadOraclePrices(path); err == nil {
		t.Fatal("expected error for invalid mint string")
	}
}

func TestLoadOraclePricesMissingFile(t *testing.T) {
	if _, err := LoadOraclePrices("/nonexistent/path/prices.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSymbolRegistryReserveBySymbol(t *testing.T) {
	solMint := solana.MustPublicKeyFromBase58(WellKnownMints["SOL"])
	usdcMint := solana.MustPublicKeyFromBase58(WellKnownMints["USDC"])
	solReservePubkey := solana.NewWallet().PublicKey()
	usdcReservePubkey := solana.NewWallet().PublicKey()
	unrelatedReservePubkey := solana.NewWallet().PublicKey()

	reserves := map[solana.PublicKey]*klend.Reserve{
		solReservePubkey:       {LiquidityMint: solMint},
		usdcReservePubkey:      {LiquidityMint: usdcMint},
		unrelatedReservePubkey: {LiquidityMint: solana.NewWallet().PublicKey()},
	}

	reg := NewSymbolRegistry(reserves)

	pubkey, reserve, ok := reg.ReserveBySymbol("SOL")
	if !ok || !pubkey.Equals(solReservePubkey) || reserve == nil || !reserve.LiquidityMint.Equals(solMint) {
		t.Fatalf("expected SOL to resolve to %s, got pubkey=%s ok=%v", solReservePubkey, pubkey, ok)
	}

	pubkey, reserve, ok = reg.ReserveBySymbol("USDC")
	if !ok || !pubkey.Equals(usdcReservePubkey) || reserve == nil || !reserve.LiquidityMint.Equals(usdcMint) {
		t.Fatalf("expected USDC to resolve to %s, got pubkey=%s ok=%v", usdcReservePubkey, pubkey, ok)
	}

	if _, _, ok := reg.ReserveBySymbol("DOESNOTEXIST"); ok {
		t.Fatal("expected unknown symbol to resolve false")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
