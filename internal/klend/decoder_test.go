package klend

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func appendPubkey(buf *bytes.Buffer, pk solana.PublicKey) {
	buf.Write(pk.Bytes())
}

func appendU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func appendU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func buildReserveBytes(t *testing.T, liquidityDecimals, collateralDecimals uint8, ltv, liqThreshold uint8, liqBonusBps, borrowFactorPct uint16) []byte {
	return buildReserveBytesWithFarms(t, liquidityDecimals, collateralDecimals, ltv, liqThreshold, liqBonusBps, borrowFactorPct, solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{})
}

func buildReserveBytesWithFarms(t *testing.T, liquidityDecimals, collateralDecimals uint8, ltv, liqThreshold uint8, liqBonusBps, borrowFactorPct uint16, tokenProgram, farmCollateral, farmDebt solana.PublicKey) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.Write(ReserveDiscriminator[:])
	appendPubkey(buf, solana.NewWallet().PublicKey()) // lendingMarket
	appendPubkey(buf, solana.NewWallet().PublicKey()) // liquidityMint
	appendPubkey(buf, tokenProgram)                   // liquidityTokenProgram
	appendPubkey(buf, solana.NewWallet().PublicKey()) // collateralMint
	buf.WriteByte(liquidityDecimals)
	buf.WriteByte(collateralDecimals)
	buf.WriteByte(ltv)
	buf.WriteByte(liqThreshold)
	appendU16(buf, liqBonusBps)
	appendU16(buf, borrowFactorPct)
	appendPubkey(buf, solana.NewWallet().PublicKey()) // pyth
	appendPubkey(buf, solana.PublicKey{})             // switchboard (zero)
	appendPubkey(buf, solana.PublicKey{})             // switchboard twap (zero)
	appendPubkey(buf, solana.PublicKey{})             // scope (zero)
	appendU16(buf, 0)                                 // scope price chain
	for i := 0; i < 4; i++ {
		appendU64(buf, uint64(i+1)) // totalBorrowedSf limbs
	}
	appendU64(buf, 123456) // availableLiquidity
	for i := 0; i < 4; i++ {
		appendU64(buf, uint64(i+100)) // cumulativeBorrowRateBsf limbs
	}
	appendPubkey(buf, farmCollateral)
	appendPubkey(buf, farmDebt)
	return buf.Bytes()
}

func TestDecodeReserveRoundTrip(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	data := buildReserveBytes(t, 9, 6, 80, 85, 500, 100)

	reserve, err := DecodeReserve(data, pk)
	if err != nil {
		t.Fatalf("DecodeReserve: %v", err)
	}
	if reserve.LiquidityDecimals != 9 || reserve.CollateralDecimals != 6 {
		t.Fatalf("decimals mismatch: %+v", reserve)
	}
	if reserve.Config.LoanToValuePct != 80 || reserve.Config.LiquidationThresholdPct != 85 {
		t.Fatalf("ltv/threshold mismatch: %+v", reserve.Config)
	}
	if reserve.Config.LiquidationBonusBps != 500 || reserve.Config.BorrowFactorPct != 100 {
		t.Fatalf("bonus/borrowFactor mismatch: %+v", reserve.Config)
	}
	if reserve.AvailableLiquidity != 123456 {
		t.Fatalf("availableLiquidity mismatch: %d", reserve.AvailableLiquidity)
	}
	oracles := reserve.OraclePubkeys()
	if len(oracles) != 1 {
		t.Fatalf("expected exactly the pyth oracle to be non-zero, got %d: %+v", len(oracles), oracles)
	}
	if reserve.FarmEnabled() {
		t.Fatalf("expected no farms configured, got %+v", reserve)
	}
	fallback := solana.NewWallet().PublicKey()
	if got := reserve.TokenProgramOrDefault(fallback); !got.Equals(fallback) {
		t.Fatalf("expected zero LiquidityTokenProgram to fall back to %s, got %s", fallback, got)
	}
}

func TestDecodeReserveFarmsAndTokenProgram(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	tokenProgram := solana.NewWallet().PublicKey()
	farmCollateral := solana.NewWallet().PublicKey()
	data := buildReserveBytesWithFarms(t, 9, 6, 80, 85, 500, 100, tokenProgram, farmCollateral, solana.PublicKey{})

	reserve, err := DecodeReserve(data, pk)
	if err != nil {
		t.Fatalf("DecodeReserve: %v", err)
	}
	if !reserve.FarmEnabled() {
		t.Fatalf("expected farm collateral handle to mark the reserve farm-enabled: %+v", reserve)
	}
	if got := reserve.TokenProgramOrDefault(solana.PublicKey{}); !got.Equals(tokenProgram) {
		t.Fatalf("expected configured token program %s, got %s", tokenProgram, got)
	}
}

func TestDecodeReserveDecimalsSentinel(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	data := buildReserveBytes(t, 255, 255, 80, 85, 500, 100)
	reserve, err := DecodeReserve(data, pk)
	if err != nil {
		t.Fatalf("DecodeReserve: %v", err)
	}
	if reserve.LiquidityDecimals != -1 || reserve.CollateralDecimals != -1 {
		t.Fatalf("expected sentinel -1 decimals, got %+v", reserve)
	}
}

func TestDecodeReserveBadDiscriminator(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	data := buildReserveBytes(t, 9, 6, 80, 85, 500, 100)
	data[0] ^= 0xFF

	_, err := DecodeReserve(data, pk)
	if err == nil {
		t.Fatal("expected bad_discriminator error")
	}
}

func buildObligationBytes(t *testing.T, activeDeposits, activeBorrows int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.Write(ObligationDiscriminator[:])
	appendPubkey(buf, solana.NewWallet().PublicKey()) // owner
	appendPubkey(buf, solana.NewWallet().PublicKey()) // lendingMarket
	appendU64(buf, 42)                                // lastUpdateSlot

	for i := 0; i < MaxObligationReserves; i++ {
		appendPubkey(buf, solana.NewWallet().PublicKey())
		if i < activeDeposits {
			appendU64(buf, uint64(1000+i))
		} else {
			appendU64(buf, 0)
		}
	}
	for i := 0; i < MaxObligationReserves; i++ {
		appendPubkey(buf, solana.NewWallet().PublicKey())
		if i < activeBorrows {
			appendU64(buf, uint64(1))
			appendU64(buf, 0)
			appendU64(buf, 0)
			appendU64(buf, 0)
		} else {
			appendU64(buf, 0)
			appendU64(buf, 0)
			appendU64(buf, 0)
			appendU64(buf, 0)
		}
	}
	return buf.Bytes()
}

func TestDecodeObligationFiltersZeroSlotsPreservesSlotCount(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	data := buildObligationBytes(t, 2, 1)

	obligation, err := DecodeObligation(data, pk)
	if err != nil {
		t.Fatalf("DecodeObligation: %v", err)
	}
	if len(obligation.Deposits) != 2 {
		t.Fatalf("expected 2 active deposits, got %d", len(obligation.Deposits))
	}
	if obligation.DepositSlotCount != MaxObligationReserves {
		t.Fatalf("expected slot count %d, got %d", MaxObligationReserves, obligation.DepositSlotCount)
	}
	if len(obligation.Borrows) != 1 {
		t.Fatalf("expected 1 active borrow, got %d", len(obligation.Borrows))
	}
	if obligation.BorrowSlotCount != MaxObligationReserves {
		t.Fatalf("expected borrow slot count %d, got %d", MaxObligationReserves, obligation.BorrowSlotCount)
	}
	if obligation.LastUpdateSlot != 42 {
		t.Fatalf("lastUpdateSlot mismatch: %d", obligation.LastUpdateSlot)
	}
}
