// Package flashloan builds the borrow/repay instruction pair for a
// KLend flash loan (component K).
package flashloan

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/bigmath"
	"github.com/kamino-liq/liqengine/internal/klend"
)

var (
	// TokenProgramID is the classic SPL Token program.
	TokenProgramID = solana.TokenProgramID
	// Token2022ProgramID is the Token-2022 program, used by reserves whose
	// liquidity mint opted into the extensions program.
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	// AssociatedTokenProgramID derives associated token accounts.
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	// InstructionsSysvarID is the sysvar KLend validates the borrow
	// instruction's position against (spec §4.K).
	InstructionsSysvarID = solana.MustPublicKeyFromBase58("Sysvar1nstructions1111111111111111111111111")
)

// ReserveLookup resolves a mint symbol to its on-chain reserve, the minimal
// interface flashloan needs from the reserve cache.
type ReserveLookup interface {
	ReserveBySymbol(symbol string) (pubkey solana.PublicKey, reserve *klend.Reserve, ok bool)
}

// Inputs are the parameters for building a flash loan instruction pair
// (spec §4.K).
type Inputs struct {
	MarketPubkey  solana.PublicKey
	ProgramID     solana.PublicKey
	Signer        solana.PublicKey
	MintSymbol    string
	UIAmount      string
	BorrowIxIndex uint8
}

// Plan is the output of BuildFlashLoan (spec §4.K).
type Plan struct {
	DestinationATA solana.PublicKey
	TokenProgramID solana.PublicKey
	FlashBorrowIx  solana.Instruction
	FlashRepayIx   solana.Instruction
}

// BuildFlashLoan derives the accounts and constructs the borrow/repay
// instruction pair. Both instructions carry the instructions sysvar
// account, which KLend's flash-loan instructions read at runtime to verify
// borrowIxIndex.
func BuildFlashLoan(in Inputs, reserves ReserveLookup) (*Plan, error) {
	reservePubkey, reserve, ok := reserves.ReserveBySymbol(in.MintSymbol)
	if !ok {
		return nil, fmt.Errorf("flashloan: unknown mint symbol %q", in.MintSymbol)
	}

	decimals := int(reserve.LiquidityDecimals)
	if decimals < 0 {
		return nil, fmt.Errorf("flashloan: reserve %s has unresolved decimals", reservePubkey)
	}

	amountBaseUnits, err := bigmath.DecimalStringToBaseUnits(in.UIAmount, decimals)
	if err != nil {
		return nil, fmt.Errorf("flashloan: %w", err)
	}
	if !amountBaseUnits.IsUint64() {
		return nil, fmt.Errorf("flashloan: amount %s exceeds u64 range", in.UIAmount)
	}
	amount := amountBaseUnits.Uint64()

	tokenProgramID := reserve.TokenProgramOrDefault(TokenProgramID)

	ata, _, err := solana.FindProgramAddress(
		[][]byte{in.Signer.Bytes(), tokenProgramID.Bytes(), reserve.LiquidityMint.Bytes()},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return nil, fmt.Errorf("flashloan: derive destination ata: %w", err)
	}

	lendingMarketAuthority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("lma"), in.MarketPubkey.Bytes()},
		in.ProgramID,
	)
	if err != nil {
		return nil, fmt.Errorf("flashloan: derive lending market authority: %w", err)
	}

	borrowIx := newFlashLoanInstruction(
		klend.InstructionDiscriminator("flash_borrow_reserve_liquidity"),
		in.ProgramID, amount,
		[]*solana.AccountMeta{
			solana.NewAccountMeta(in.Signer, true, true),
			solana.NewAccountMeta(lendingMarketAuthority, false, false),
			solana.NewAccountMeta(in.MarketPubkey, false, false),
			solana.NewAccountMeta(reservePubkey, true, false),
			solana.NewAccountMeta(reserve.LiquidityMint, false, false),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(tokenProgramID, false, false),
			solana.NewAccountMeta(InstructionsSysvarID, false, false),
		},
	)

	repayIx := newFlashLoanInstruction(
		klend.InstructionDiscriminator("flash_repay_reserve_liquidity"),
		in.ProgramID, amount,
		[]*solana.AccountMeta{
			solana.NewAccountMeta(in.Signer, true, true),
			solana.NewAccountMeta(lendingMarketAuthority, false, false),
			solana.NewAccountMeta(in.MarketPubkey, false, false),
			solana.NewAccountMeta(reservePubkey, true, false),
			solana.NewAccountMeta(reserve.LiquidityMint, false, false),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(tokenProgramID, false, false),
			solana.NewAccountMeta(InstructionsSysvarID, false, false),
		},
	)
	repayIx.data = append(repayIx.data, in.BorrowIxIndex)

	return &Plan{
		DestinationATA: ata,
		TokenProgramID: tokenProgramID,
		FlashBorrowIx:  borrowIx,
		FlashRepayIx:   repayIx,
	}, nil
}

type flashLoanInstruction struct {
	programID solana.PublicKey
	accounts  []*solana.AccountMeta
	data      []byte
}

func newFlashLoanInstruction(discriminator [8]byte, programID solana.PublicKey, amount uint64, accounts []*solana.AccountMeta) *flashLoanInstruction {
	data := make([]byte, 0, 16)
	data = append(data, discriminator[:]...)
	data = append(data, uint64LE(amount)...)
	return &flashLoanInstruction{programID: programID, accounts: accounts, data: data}
}

func (f *flashLoanInstruction) ProgramID() solana.PublicKey       { return f.programID }
func (f *flashLoanInstruction) Accounts() []*solana.AccountMeta   { return f.accounts }
func (f *flashLoanInstruction) Data() ([]byte, error)             { return f.data, nil }

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
