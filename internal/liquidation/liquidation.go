// Package liquidation assembles the canonical liquidation instruction
// window for an obligation (component L).
package liquidation

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/kamino-liq/liqengine/internal/errkind"
	"github.com/kamino-liq/liqengine/internal/klend"
)

// Inputs are the parameters the builder needs to assemble the canonical
// instruction set (spec §4.L).
type Inputs struct {
	Market              solana.PublicKey
	ProgramID           solana.PublicKey
	Liquidator          solana.PublicKey
	Obligation          solana.PublicKey
	ObligationData      *klend.Obligation
	ReservesByPubkey     map[solana.PublicKey]*klend.Reserve
	FarmsEnabledReserves map[solana.PublicKey]bool // reserves with an enabled farm program

	// ExpectedRepayReservePubkey/ExpectedCollateralReservePubkey are the
	// plan-provided preferred reserves; validated against the obligation.
	ExpectedRepayReservePubkey      solana.PublicKey
	ExpectedCollateralReservePubkey solana.PublicKey

	LiquidityAmount uint64
	MinAcceptableCollateral uint64

	DestinationATAsExist map[solana.PublicKey]bool // keyed by mint, every mint the liquidator may need an ATA for
}

// Artifact is the builder's structured output (spec §4.L).
type Artifact struct {
	SetupIxs    []solana.Instruction
	RefreshIxs  []solana.Instruction // preReserveIxs + coreIxs + coreFarmIxs
	LiquidationIxs []solana.Instruction
	PostFarmIxs []solana.Instruction

	RepayMint               solana.PublicKey
	CollateralMint          solana.PublicKey
	RepayReservePubkey      solana.PublicKey
	CollateralReservePubkey solana.PublicKey

	ATACount             int
	FarmRequiredModes    []int // 0=collateral, 1=debt
	PostFarmRefreshCount int
}

// Build assembles the liquidation artifact per spec §4.L's canonical order.
func Build(in Inputs) (*Artifact, error) {
	repayReserve, collateralReserve, err := selectReserves(in)
	if err != nil {
		return nil, err
	}

	repay := in.ReservesByPubkey[repayReserve]
	collateral := in.ReservesByPubkey[collateralReserve]
	if repay == nil || collateral == nil {
		return nil, errkind.New(errkind.ReserveMismatch, "chosen reserve absent from cache")
	}

	artifact := &Artifact{
		RepayMint:               repay.LiquidityMint,
		CollateralMint:          collateral.CollateralMint,
		RepayReservePubkey:      repayReserve,
		CollateralReservePubkey: collateralReserve,
	}

	for _, mint := range requiredATAMints(repay, collateral) {
		if in.DestinationATAsExist[mint] {
			continue
		}
		artifact.SetupIxs = append(artifact.SetupIxs, newATACreateIdempotentIx(in.Liquidator, mint))
		artifact.ATACount++
	}

	obligationReserves := allObligationReserves(in.ObligationData)
	if len(obligationReserves) < 2 {
		return nil, errkind.New(errkind.AdjacencyInvalid, "obligation references fewer than 2 reserves")
	}

	for _, r := range obligationReserves {
		artifact.RefreshIxs = append(artifact.RefreshIxs, newRefreshReserveIx(in.ProgramID, r))
	}

	artifact.RefreshIxs = append(artifact.RefreshIxs, newRefreshObligationIx(in.ProgramID, in.Obligation, obligationReserves))

	if in.FarmsEnabledReserves[collateral.LiquidityMint] || in.FarmsEnabledReserves[collateralReserve] {
		artifact.FarmRequiredModes = append(artifact.FarmRequiredModes, 0)
	}
	if in.FarmsEnabledReserves[repay.LiquidityMint] || in.FarmsEnabledReserves[repayReserve] {
		artifact.FarmRequiredModes = append(artifact.FarmRequiredModes, 1)
	}

	for _, mode := range artifact.FarmRequiredModes {
		reserve := repayReserve
		if mode == 0 {
			reserve = collateralReserve
		}
		artifact.RefreshIxs = append(artifact.RefreshIxs, newRefreshObligationFarmsIx(in.ProgramID, in.Obligation, reserve, mode))
	}

	artifact.LiquidationIxs = append(artifact.LiquidationIxs, newLiquidateIx(in, repayReserve, collateralReserve))

	for _, mode := range artifact.FarmRequiredModes {
		reserve := repayReserve
		if mode == 0 {
			reserve = collateralReserve
		}
		artifact.PostFarmIxs = append(artifact.PostFarmIxs, newRefreshObligationFarmsIx(in.ProgramID, in.Obligation, reserve, mode))
	}
	artifact.PostFarmRefreshCount = len(artifact.PostFarmIxs)

	return artifact, nil
}

// requiredATAMints returns, in canonical order, every mint the liquidator
// needs an associated token account for: the repay reserve's liquidity
// mint (to fund the repay leg), the collateral reserve's liquidity mint
// (credited by redeemReserveCollateral), and the collateral reserve's
// collateral (cToken) mint (spec §8 scenario E3). Duplicates collapse to
// one ATA-create each.
func requiredATAMints(repay, collateral *klend.Reserve) []solana.PublicKey {
	candidates := []solana.PublicKey{repay.LiquidityMint, collateral.LiquidityMint, collateral.CollateralMint}
	seen := make(map[solana.PublicKey]bool, len(candidates))
	out := make([]solana.PublicKey, 0, len(candidates))
	for _, mint := range candidates {
		if seen[mint] {
			continue
		}
		seen[mint] = true
		out = append(out, mint)
	}
	return out
}

func selectReserves(in Inputs) (repay, collateral solana.PublicKey, err error) {
	obligationBorrows := make(map[solana.PublicKey]bool)
	for _, b := range in.ObligationData.Borrows {
		obligationBorrows[b.BorrowReserve] = true
	}
	obligationDeposits := make(map[solana.PublicKey]bool)
	for _, d := range in.ObligationData.Deposits {
		obligationDeposits[d.DepositReserve] = true
	}

	repay = in.ExpectedRepayReservePubkey
	if repay.IsZero() || !obligationBorrows[repay] {
		return solana.PublicKey{}, solana.PublicKey{}, errkind.New(errkind.ReserveMismatch, "expected repay reserve not found on obligation")
	}
	collateral = in.ExpectedCollateralReservePubkey
	if collateral.IsZero() || !obligationDeposits[collateral] {
		return solana.PublicKey{}, solana.PublicKey{}, errkind.New(errkind.ReserveMismatch, "expected collateral reserve not found on obligation")
	}
	return repay, collateral, nil
}

func allObligationReserves(ob *klend.Obligation) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, d := range ob.Deposits {
		if !seen[d.DepositReserve] {
			seen[d.DepositReserve] = true
			out = append(out, d.DepositReserve)
		}
	}
	for _, b := range ob.Borrows {
		if !seen[b.BorrowReserve] {
			seen[b.BorrowReserve] = true
			out = append(out, b.BorrowReserve)
		}
	}
	return out
}

// ComputeBudgetInstructions builds the optional leading
// [ComputeBudget limit (+ price)] pair (spec's canonical transaction
// layout).
func ComputeBudgetInstructions(unitLimit uint32, microLamportsPrice uint64) []solana.Instruction {
	ixs := []solana.Instruction{computebudget.NewSetComputeUnitLimitInstruction(unitLimit).Build()}
	if microLamportsPrice > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(microLamportsPrice).Build())
	}
	return ixs
}

type genericInstruction struct {
	programID solana.PublicKey
	accounts  []*solana.AccountMeta
	data      []byte
}

func (g *genericInstruction) ProgramID() solana.PublicKey     { return g.programID }
func (g *genericInstruction) Accounts() []*solana.AccountMeta { return g.accounts }
func (g *genericInstruction) Data() ([]byte, error)           { return g.data, nil }

func newRefreshReserveIx(programID, reserve solana.PublicKey) solana.Instruction {
	disc := klend.RefreshReserveDiscriminator
	return &genericInstruction{
		programID: programID,
		data:      disc[:],
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(reserve, true, false),
		},
	}
}

func newRefreshObligationIx(programID, obligation solana.PublicKey, reserves []solana.PublicKey) solana.Instruction {
	disc := klend.RefreshObligationDiscriminator
	accounts := []*solana.AccountMeta{solana.NewAccountMeta(obligation, true, false)}
	for _, r := range reserves {
		accounts = append(accounts, solana.NewAccountMeta(r, false, false))
	}
	return &genericInstruction{programID: programID, data: disc[:], accounts: accounts}
}

func newRefreshObligationFarmsIx(programID, obligation, reserve solana.PublicKey, mode int) solana.Instruction {
	disc := klend.RefreshObligationFarmsForReserveDiscriminator
	data := append(append([]byte{}, disc[:]...), byte(mode))
	return &genericInstruction{
		programID: programID,
		data:      data,
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(obligation, true, false),
			solana.NewAccountMeta(reserve, true, false),
		},
	}
}

func newLiquidateIx(in Inputs, repayReserve, collateralReserve solana.PublicKey) solana.Instruction {
	disc := klend.LiquidateObligationAndRedeemReserveCollateralDiscriminator
	data := make([]byte, 0, 24)
	data = append(data, disc[:]...)
	data = append(data, uint64LE(in.LiquidityAmount)...)
	data = append(data, uint64LE(in.MinAcceptableCollateral)...)
	return &genericInstruction{
		programID: in.ProgramID,
		data:      data,
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(in.Liquidator, true, true),
			solana.NewAccountMeta(in.Obligation, true, false),
			solana.NewAccountMeta(in.Market, false, false),
			solana.NewAccountMeta(repayReserve, true, false),
			solana.NewAccountMeta(collateralReserve, true, false),
		},
	}
}

func newATACreateIdempotentIx(owner, mint solana.PublicKey) solana.Instruction {
	return &genericInstruction{
		programID: solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"),
		data:      []byte{1}, // CreateIdempotent discriminant
		accounts: []*solana.AccountMeta{
			solana.NewAccountMeta(owner, true, true),
			solana.NewAccountMeta(mint, false, false),
		},
	}
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
