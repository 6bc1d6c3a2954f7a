// Package klend provides anchor-go-generated-style bindings for the Kamino
// KLend program: account layouts, instruction discriminators, and a
// discriminator-checked account decoder (component B).
package klend

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the KLend program address; callers set it once at startup,
// mirroring the generated-binding convention of a package-level mutable
// ProgramID variable.
var ProgramID solana.PublicKey

// AccountDiscriminator computes the first 8 bytes of
// SHA-256("account:" + typeName), per spec §6's "Anchor account
// discriminator" definition. Computed at call time rather than hardcoded,
// per the canonical-discriminator resolution in spec §9.
func AccountDiscriminator(typeName string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + typeName))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// InstructionDiscriminator computes the first 8 bytes of
// SHA-256("global:" + snakeCaseName), per spec §6's "Anchor instruction
// discriminator" definition.
func InstructionDiscriminator(snakeCaseName string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + snakeCaseName))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

var (
	// ReserveDiscriminator is the account discriminator for the Reserve
	// account type.
	ReserveDiscriminator = AccountDiscriminator("Reserve")
	// ObligationDiscriminator is the account discriminator for the
	// Obligation account type.
	ObligationDiscriminator = AccountDiscriminator("Obligation")
)

var (
	// RefreshReserveDiscriminator is the instruction discriminator for
	// refresh_reserve. Spec §8 property 1 fixes its value at
	// 02da8aeb4fc91966.
	RefreshReserveDiscriminator = InstructionDiscriminator("refresh_reserve")
	// RefreshObligationDiscriminator is the instruction discriminator for
	// refresh_obligation.
	RefreshObligationDiscriminator = InstructionDiscriminator("refresh_obligation")
	// RefreshObligationFarmsForReserveDiscriminator is the instruction
	// discriminator for refresh_obligation_farms_for_reserve.
	RefreshObligationFarmsForReserveDiscriminator = InstructionDiscriminator("refresh_obligation_farms_for_reserve")
	// LiquidateObligationAndRedeemReserveCollateralDiscriminator is the
	// instruction discriminator for
	// liquidate_obligation_and_redeem_reserve_collateral. Spec §8 property 1
	// fixes its value at b1479abce2854a37.
	LiquidateObligationAndRedeemReserveCollateralDiscriminator = InstructionDiscriminator("liquidate_obligation_and_redeem_reserve_collateral")
	// FlashBorrowReserveLiquidityDiscriminator is the instruction
	// discriminator for flash_borrow_reserve_liquidity.
	FlashBorrowReserveLiquidityDiscriminator = InstructionDiscriminator("flash_borrow_reserve_liquidity")
	// FlashRepayReserveLiquidityDiscriminator is the instruction
	// discriminator for flash_repay_reserve_liquidity.
	FlashRepayReserveLiquidityDiscriminator = InstructionDiscriminator("flash_repay_reserve_liquidity")
)
