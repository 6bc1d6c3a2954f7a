package txbuild

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/klend"
	"github.com/kamino-liq/liqengine/internal/liquidation"
)

func buildArtifactFixture(t *testing.T, farmsEnabled bool) *liquidation.Artifact {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	market := solana.NewWallet().PublicKey()
	liquidator := solana.NewWallet().PublicKey()
	obligation := solana.NewWallet().PublicKey()

	repayReserve := solana.NewWallet().PublicKey()
	collateralReserve := solana.NewWallet().PublicKey()
	repayMint := solana.NewWallet().PublicKey()
	collateralMint := solana.NewWallet().PublicKey()

	ob := &klend.Obligation{
		Deposits: []klend.ObligationCollateral{{DepositReserve: collateralReserve, DepositedAmount: 100}},
		Borrows:  []klend.ObligationLiquidity{{BorrowReserve: repayReserve}},
	}

	farms := map[solana.PublicKey]bool{}
	if farmsEnabled {
		farms[collateralReserve] = true
		farms[repayReserve] = true
	}

	in := liquidation.Inputs{
		Market:                          market,
		ProgramID:                       programID,
		Liquidator:                      liquidator,
		Obligation:                      obligation,
		ObligationData:                  ob,
		ExpectedRepayReservePubkey:      repayReserve,
		ExpectedCollateralReservePubkey: collateralReserve,
		ReservesByPubkey: map[solana.PublicKey]*klend.Reserve{
			repayReserve:      {LiquidityMint: repayMint},
			collateralReserve: {CollateralMint: collateralMint},
		},
		FarmsEnabledReserves: farms,
		DestinationATAsExist: map[solana.PublicKey]bool{repayMint: true, collateralMint: true},
		LiquidityAmount:      1000,
	}

	artifact, err := liquidation.Build(in)
	if err != nil {
		t.Fatalf("liquidation.Build: %v", err)
	}
	return artifact
}

func TestSplitRefreshIxsWithoutFarms(t *testing.T) {
	artifact := buildArtifactFixture(t, false)

	pre, obligationIx, core := splitRefreshIxs(artifact)
	if len(pre) != 2 {
		t.Fatalf("expected 2 pre-reserve refresh ixs, got %d", len(pre))
	}
	if obligationIx == nil {
		t.Fatal("expected a non-nil obligation refresh instruction")
	}
	if len(core) != 0 {
		t.Fatalf("expected no core farm ixs without farms enabled, got %d", len(core))
	}
}

func TestSplitRefreshIxsWithFarms(t *testing.T) {
	artifact := buildArtifactFixture(t, true)

	pre, obligationIx, core := splitRefreshIxs(artifact)
	if len(pre) != 2 {
		t.Fatalf("expected 2 pre-reserve refresh ixs, got %d", len(pre))
	}
	if obligationIx == nil {
		t.Fatal("expected a non-nil obligation refresh instruction")
	}
	if len(core) != len(artifact.FarmRequiredModes) {
		t.Fatalf("expected %d core farm ixs, got %d", len(artifact.FarmRequiredModes), len(core))
	}
}

func TestCompiledInstructions(t *testing.T) {
	artifact := buildArtifactFixture(t, false)
	compiled := compiledInstructions(artifact.RefreshIxs)
	if len(compiled) != len(artifact.RefreshIxs) {
		t.Fatalf("expected %d compiled instructions, got %d", len(artifact.RefreshIxs), len(compiled))
	}
	for i, c := range compiled {
		if c.ProgramID.IsZero() {
			t.Fatalf("instruction %d: expected non-zero program id", i)
		}
		if len(c.Data) < 8 {
			t.Fatalf("instruction %d: expected at least an 8-byte discriminator, got %d bytes", i, len(c.Data))
		}
	}
}
