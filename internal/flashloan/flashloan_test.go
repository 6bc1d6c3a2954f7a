package flashloan

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/klend"
)

type stubReserves struct {
	pubkey  solana.PublicKey
	reserve *klend.Reserve
}

func (s stubReserves) ReserveBySymbol(symbol string) (solana.PublicKey, *klend.Reserve, bool) {
	if symbol != "USDC" {
		return solana.PublicKey{}, nil, false
	}
	return s.pubkey, s.reserve, true
}

func TestBuildFlashLoanProducesMatchingBorrowRepayAmounts(t *testing.T) {
	reserves := stubReserves{
		pubkey: solana.NewWallet().PublicKey(),
		reserve: &klend.Reserve{
			LiquidityMint:     solana.NewWallet().PublicKey(),
			LiquidityDecimals: 6,
		},
	}

	plan, err := BuildFlashLoan(Inputs{
		MarketPubkey:  solana.NewWallet().PublicKey(),
		ProgramID:     solana.NewWallet().PublicKey(),
		Signer:        solana.NewWallet().PublicKey(),
		MintSymbol:    "USDC",
		UIAmount:      "1000.5",
		BorrowIxIndex: 0,
	}, reserves)
	if err != nil {
		t.Fatalf("BuildFlashLoan: %v", err)
	}

	borrowData, err := plan.FlashBorrowIx.Data()
	if err != nil {
		t.Fatalf("borrow data: %v", err)
	}
	repayData, err := plan.FlashRepayIx.Data()
	if err != nil {
		t.Fatalf("repay data: %v", err)
	}

	if len(borrowData) != 16 || len(repayData) != 17 {
		t.Fatalf("expected borrow = 8-byte discriminator + 8-byte amount and repay = same + 1-byte borrow index, got borrow=%d repay=%d", len(borrowData), len(repayData))
	}
	if string(borrowData[8:]) != string(repayData[8:16]) {
		t.Fatal("expected identical borrow/repay amounts")
	}
	if repayData[16] != 0 {
		t.Fatalf("expected repay borrow index 0, got %d", repayData[16])
	}

	foundSysvar := false
	for _, acc := range plan.FlashBorrowIx.Accounts() {
		if acc.PublicKey.Equals(InstructionsSysvarID) {
			foundSysvar = true
		}
	}
	if !foundSysvar {
		t.Fatal("expected instructions sysvar account on the borrow instruction")
	}
}

func TestBuildFlashLoanUnknownSymbol(t *testing.T) {
	reserves := stubReserves{}
	_, err := BuildFlashLoan(Inputs{MintSymbol: "NOPE", UIAmount: "1"}, reserves)
	if err == nil {
		t.Fatal("expected error for unknown mint symbol")
	}
}
