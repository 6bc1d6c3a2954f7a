// Package txbuild assembles the full canonical liquidation transaction
// (compute budget, flash borrow, setup, pre/core/post refreshes, liquidate,
// flash repay) from a scheduled plan and a downgrade profile, implementing
// executor.TxBuilder (spec §4.L/§4.O's two-pass build).
package txbuild

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kamino-liq/liqengine/internal/bigmath"
	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/executor"
	"github.com/kamino-liq/liqengine/internal/flashloan"
	"github.com/kamino-liq/liqengine/internal/klend"
	"github.com/kamino-liq/liqengine/internal/liquidation"
	"github.com/kamino-liq/liqengine/internal/lut"
	"github.com/kamino-liq/liqengine/internal/rpcx"
	"github.com/kamino-liq/liqengine/internal/validate"
)

// AccountExistenceChecker narrows *rpc.Client to the one call Build needs to
// decide whether an ATA create instruction belongs in setupIxs.
type AccountExistenceChecker interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// Builder wires components K (flashloan), L (liquidation), and N (validate)
// together into one signed candidate transaction per downgrade profile.
// The swap-aggregator leg named in spec §4.L's canonical order is omitted:
// the aggregator is an explicit non-goal external collaborator (spec §1),
// so this builder only ever assembles the repay/collateral flash-loan
// liquidation itself.
type Builder struct {
	ProgramID solana.PublicKey
	Market    solana.PublicKey
	Signer    solana.PrivateKey

	Reserves             map[solana.PublicKey]*klend.Reserve
	Obligations          map[solana.PublicKey]*klend.Obligation
	FarmsEnabledReserves map[solana.PublicKey]bool

	SymbolRegistry flashloan.ReserveLookup
	Classifier     *validate.ProgramClassifier
	AccountChecker AccountExistenceChecker
	Blockhash      *rpcx.BlockhashManager
	Commitment     rpc.CommitmentType

	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64

	// LUT and CurrentSlotFn are both optional. When set, every Build call
	// keeps the executor's address lookup table extended to cover the
	// candidate transaction's accounts (component Q, spec §4.Q). Nil
	// CurrentSlotFn (no live slot feed wired) disables LUT maintenance for
	// that build without failing it.
	LUT           *lut.Maintainer
	CurrentSlotFn func() uint64
}

// lutInstructionKeys narrows a built instruction list down to the shape
// lut.CollectLutCandidateAddresses needs.
func lutInstructionKeys(ixs []solana.Instruction) []lut.InstructionKeys {
	out := make([]lut.InstructionKeys, 0, len(ixs))
	for _, ix := range ixs {
		metas := ix.Accounts()
		keys := make([]solana.AccountMeta, 0, len(metas))
		for _, m := range metas {
			keys = append(keys, *m)
		}
		out = append(out, lut.InstructionKeys{ProgramID: ix.ProgramID(), Keys: keys})
	}
	return out
}

// Build assembles a fully signed candidate transaction for plan under
// profile, per the canonical instruction order in spec §4.L.
func (b *Builder) Build(ctx context.Context, plan domain.FlashloanPlan, profile executor.DowngradeProfile) (*executor.BuiltTx, error) {
	obligationPubkey, err := solana.PublicKeyFromBase58(plan.Key)
	if err != nil {
		return nil, fmt.Errorf("txbuild: invalid obligation pubkey %q: %w", plan.Key, err)
	}
	obligation, ok := b.Obligations[obligationPubkey]
	if !ok {
		return nil, fmt.Errorf("txbuild: obligation %s not present in cache", obligationPubkey)
	}
	repayReservePubkey, err := solana.PublicKeyFromBase58(plan.RepayReservePubkey)
	if err != nil {
		return nil, fmt.Errorf("txbuild: invalid repay reserve pubkey %q: %w", plan.RepayReservePubkey, err)
	}
	collateralReservePubkey, err := solana.PublicKeyFromBase58(plan.CollateralReservePubkey)
	if err != nil {
		return nil, fmt.Errorf("txbuild: invalid collateral reserve pubkey %q: %w", plan.CollateralReservePubkey, err)
	}
	repayReserve, ok := b.Reserves[repayReservePubkey]
	if !ok {
		return nil, fmt.Errorf("txbuild: repay reserve %s not cached", repayReservePubkey)
	}
	collateralReserve, ok := b.Reserves[collateralReservePubkey]
	if !ok {
		return nil, fmt.Errorf("txbuild: collateral reserve %s not cached", collateralReservePubkey)
	}

	liquidityDecimals := int(repayReserve.LiquidityDecimals)
	if liquidityDecimals < 0 {
		return nil, fmt.Errorf("txbuild: repay reserve %s has unresolved decimals", repayReservePubkey)
	}
	liquidityAmount, err := bigmath.DecimalStringToBaseUnits(fmt.Sprintf("%g", plan.AmountUi), liquidityDecimals)
	if err != nil {
		return nil, fmt.Errorf("txbuild: convert plan amount to base units: %w", err)
	}
	if !liquidityAmount.IsUint64() {
		return nil, fmt.Errorf("txbuild: plan amount %s exceeds u64 range", plan.AmountUi)
	}

	ataMints := []solana.PublicKey{repayReserve.LiquidityMint, collateralReserve.LiquidityMint, collateralReserve.CollateralMint}
	ataExists := make(map[solana.PublicKey]bool, len(ataMints))
	for _, mint := range ataMints {
		if _, checked := ataExists[mint]; checked {
			continue
		}
		exists, err := b.destinationATAExists(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("txbuild: check destination ata for mint %s: %w", mint, err)
		}
		ataExists[mint] = exists
	}

	liqInputs := liquidation.Inputs{
		Market:                          b.Market,
		ProgramID:                       b.ProgramID,
		Liquidator:                      b.Signer.PublicKey(),
		Obligation:                      obligationPubkey,
		ObligationData:                  obligation,
		ReservesByPubkey:                b.Reserves,
		FarmsEnabledReserves:            b.FarmsEnabledReserves,
		ExpectedRepayReservePubkey:      repayReservePubkey,
		ExpectedCollateralReservePubkey: collateralReservePubkey,
		LiquidityAmount:                 liquidityAmount.Uint64(),
		DestinationATAsExist:            ataExists,
	}
	artifact, err := liquidation.Build(liqInputs)
	if err != nil {
		return nil, fmt.Errorf("txbuild: build liquidation artifact: %w", err)
	}

	var computeBudgetIxs []solana.Instruction
	if !profile.OmitComputeBudgetIxs {
		computeBudgetIxs = liquidation.ComputeBudgetInstructions(b.ComputeUnitLimit, b.ComputeUnitPriceMicroLamports)
	}
	borrowIxIndex := uint8(len(computeBudgetIxs))

	flashInputs := flashloan.Inputs{
		MarketPubkey:  b.Market,
		ProgramID:     b.ProgramID,
		Signer:        b.Signer.PublicKey(),
		MintSymbol:    plan.Mint,
		UIAmount:      fmt.Sprintf("%g", plan.AmountUi),
		BorrowIxIndex: borrowIxIndex,
	}
	flashPlan, err := flashloan.BuildFlashLoan(flashInputs, b.SymbolRegistry)
	if err != nil {
		return nil, fmt.Errorf("txbuild: build flash loan: %w", err)
	}

	preReserveIxs, obligationIx, coreFarmIxs := splitRefreshIxs(artifact)
	if profile.PreReserveRefreshMode == "minimal" && len(preReserveIxs) > 2 {
		preReserveIxs = preReserveIxs[len(preReserveIxs)-2:]
	}
	if profile.DisableFarmsRefresh {
		coreFarmIxs = nil
	}
	postFarmIxs := artifact.PostFarmIxs
	if profile.DisableFarmsRefresh || profile.DisablePostFarmsRefresh {
		postFarmIxs = nil
	}

	var ixs []solana.Instruction
	ixs = append(ixs, computeBudgetIxs...)
	ixs = append(ixs, flashPlan.FlashBorrowIx)
	ixs = append(ixs, artifact.SetupIxs...)
	ixs = append(ixs, preReserveIxs...)
	ixs = append(ixs, obligationIx)
	ixs = append(ixs, coreFarmIxs...)
	ixs = append(ixs, artifact.LiquidationIxs...)
	ixs = append(ixs, postFarmIxs...)
	ixs = append(ixs, flashPlan.FlashRepayIx)

	if b.LUT != nil && b.CurrentSlotFn != nil {
		if slot := b.CurrentSlotFn(); slot > 0 {
			if _, err := b.LUT.EnsureTable(ctx, slot); err != nil {
				return nil, fmt.Errorf("txbuild: ensure executor lut: %w", err)
			}
			if err := b.LUT.Sync(ctx, lutInstructionKeys(ixs)); err != nil {
				return nil, fmt.Errorf("txbuild: sync executor lut: %w", err)
			}
		}
	}

	blockhash, _, err := b.Blockhash.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("txbuild: get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(b.Signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("txbuild: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if b.Signer.PublicKey().Equals(key) {
			return &b.Signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("txbuild: sign transaction: %w", err)
	}

	return &executor.BuiltTx{
		Transaction:   tx,
		Decoded:       b.Classifier.Decode(compiledInstructions(ixs)),
		FarmsRequired: len(artifact.FarmRequiredModes) > 0,
		HasSetupIxs:   len(artifact.SetupIxs) > 0,
	}, nil
}

// splitRefreshIxs recovers the preReserveIxs/obligationIx/coreFarmIxs split
// from the artifact's flattened RefreshIxs slice: N refreshReserve, then
// one refreshObligation, then len(FarmRequiredModes) core farm refreshes.
func splitRefreshIxs(artifact *liquidation.Artifact) ([]solana.Instruction, solana.Instruction, []solana.Instruction) {
	coreFarmCount := len(artifact.FarmRequiredModes)
	preCount := len(artifact.RefreshIxs) - 1 - coreFarmCount
	return artifact.RefreshIxs[:preCount], artifact.RefreshIxs[preCount], artifact.RefreshIxs[preCount+1:]
}

func compiledInstructions(ixs []solana.Instruction) []validate.CompiledInstruction {
	out := make([]validate.CompiledInstruction, 0, len(ixs))
	for _, ix := range ixs {
		data, err := ix.Data()
		if err != nil {
			data = nil
		}
		out = append(out, validate.CompiledInstruction{ProgramID: ix.ProgramID(), Data: data})
	}
	return out
}

func (b *Builder) destinationATAExists(ctx context.Context, mint solana.PublicKey) (bool, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{b.Signer.PublicKey().Bytes(), flashloan.TokenProgramID.Bytes(), mint.Bytes()},
		flashloan.AssociatedTokenProgramID,
	)
	if err != nil {
		return false, fmt.Errorf("derive destination ata: %w", err)
	}
	info, err := b.AccountChecker.GetAccountInfoWithOpts(ctx, ata, &rpc.GetAccountInfoOpts{Commitment: b.Commitment})
	if err != nil {
		if err == rpc.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return info != nil && info.Value != nil, nil
}
