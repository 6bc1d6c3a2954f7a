package validate

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/klend"
)

func ixData(disc [8]byte) []byte {
	return append(append([]byte{}, disc[:]...), 0, 0, 0, 0)
}

func TestValidateLiquidationWindowAcceptsCanonicalLayout(t *testing.T) {
	decoded := []DecodedInstruction{
		{Kind: KindComputeBudgetLimit},
		{Kind: KindFlashBorrowReserveLiquidity},
		{Kind: KindRefreshReserve},
		{Kind: KindRefreshReserve},
		{Kind: KindRefreshObligation},
		{Kind: KindRefreshObligationFarmsForReserve},
		{Kind: KindLiquidateObligation},
		{Kind: KindRefreshObligationFarmsForReserve},
		{Kind: KindFlashRepayReserveLiquidity},
	}

	result := ValidateLiquidationWindow(decoded, true, true)
	if !result.Valid {
		t.Fatalf("expected canonical window to validate, got: %s", result.Diagnostics)
	}
	if result.LiquidationIndex != 6 {
		t.Fatalf("expected liquidation index 6, got %d", result.LiquidationIndex)
	}
}

func TestValidateLiquidationWindowRejectsMissingRefreshObligation(t *testing.T) {
	decoded := []DecodedInstruction{
		{Kind: KindRefreshReserve},
		{Kind: KindRefreshReserve},
		{Kind: KindLiquidateObligation},
	}
	result := ValidateLiquidationWindow(decoded, true, false)
	if result.Valid {
		t.Fatal("expected invalid window when refreshObligation is missing before liquidate")
	}
}

func TestValidateLiquidationWindowRejectsPostFarmMismatch(t *testing.T) {
	decoded := []DecodedInstruction{
		{Kind: KindRefreshReserve},
		{Kind: KindRefreshReserve},
		{Kind: KindRefreshObligation},
		{Kind: KindRefreshObligationFarmsForReserve},
		{Kind: KindLiquidateObligation},
	}
	result := ValidateLiquidationWindow(decoded, true, true)
	if result.Valid {
		t.Fatal("expected invalid window when postFarmCount does not match preFarmCount")
	}
}

func TestFindLiquidationIndexAbsent(t *testing.T) {
	decoded := []DecodedInstruction{{Kind: KindRefreshReserve}}
	if idx := FindLiquidationIndex(decoded); idx != -1 {
		t.Fatalf("expected -1, got %d", idx)
	}
}

func TestProgramClassifierDecodesKlendAndUnknown(t *testing.T) {
	klendProgram := solana.NewWallet().PublicKey()
	otherProgram := solana.NewWallet().PublicKey()

	c := NewProgramClassifier(klendProgram)
	decoded := c.Decode([]CompiledInstruction{
		{ProgramID: klendProgram, Data: ixData(klend.RefreshReserveDiscriminator)},
		{ProgramID: otherProgram, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	})

	if decoded[0].Kind != KindRefreshReserve {
		t.Fatalf("expected refreshReserve, got %s", decoded[0].Kind)
	}
	if decoded[1].Kind != KindUnknown {
		t.Fatalf("expected unknown for unregistered program, got %s", decoded[1].Kind)
	}
}
