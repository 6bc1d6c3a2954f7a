// Package validate decodes a compiled transaction message's instructions
// into known kinds and checks the canonical liquidation instruction window
// (component N).
package validate

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/klend"
)

// Kind identifies a decoded instruction's role in the canonical liquidation
// transaction (spec §4.N).
type Kind string

const (
	KindRefreshReserve                   Kind = "refreshReserve"
	KindRefreshObligation                 Kind = "refreshObligation"
	KindRefreshObligationFarmsForReserve  Kind = "refreshObligationFarmsForReserve"
	KindLiquidateObligation               Kind = "liquidateObligationAndRedeemReserveCollateral"
	KindFlashBorrowReserveLiquidity       Kind = "flashBorrowReserveLiquidity"
	KindFlashRepayReserveLiquidity        Kind = "flashRepayReserveLiquidity"
	KindComputeBudgetLimit                Kind = "computeBudgetLimit"
	KindComputeBudgetPrice                Kind = "computeBudgetPrice"
	KindSwapAggregator                    Kind = "swapAggregator"
	KindToken                             Kind = "token"
	KindToken2022                         Kind = "token2022"
	KindAssociatedTokenAccount            Kind = "associatedTokenAccount"
	KindKaminoUnknown                     Kind = "kamino:unknown"
	KindUnknown                           Kind = "unknown"
)

var klendDiscriminatorKinds = map[[8]byte]Kind{
	klend.RefreshReserveDiscriminator:                               KindRefreshReserve,
	klend.RefreshObligationDiscriminator:                             KindRefreshObligation,
	klend.RefreshObligationFarmsForReserveDiscriminator:               KindRefreshObligationFarmsForReserve,
	klend.LiquidateObligationAndRedeemReserveCollateralDiscriminator: KindLiquidateObligation,
	klend.FlashBorrowReserveLiquidityDiscriminator:                   KindFlashBorrowReserveLiquidity,
	klend.FlashRepayReserveLiquidityDiscriminator:                    KindFlashRepayReserveLiquidity,
}

// ProgramClassifier maps a non-KLend program id to its instruction Kind.
// Callers register well-known program ids (compute budget, token, token
//2022, ATA, swap aggregator) before decoding.
type ProgramClassifier struct {
	byProgramID map[solana.PublicKey]Kind
	klendProgramID solana.PublicKey
}

// NewProgramClassifier builds a classifier. klendProgramID identifies
// instructions that should be looked up by KLend discriminator.
func NewProgramClassifier(klendProgramID solana.PublicKey) *ProgramClassifier {
	return &ProgramClassifier{byProgramID: make(map[solana.PublicKey]Kind), klendProgramID: klendProgramID}
}

// Register associates a program id with a fixed Kind (used for
// single-purpose programs like compute-budget or token programs).
func (c *ProgramClassifier) Register(programID solana.PublicKey, kind Kind) {
	c.byProgramID[programID] = kind
}

// DecodedInstruction is one compiled instruction's classification
// (spec §4.N).
type DecodedInstruction struct {
	ProgramID     solana.PublicKey
	Discriminator string // hex, first 8 data bytes
	Kind          Kind
}

// Decode classifies every instruction in a compiled v0 message.
func (c *ProgramClassifier) Decode(instructions []CompiledInstruction) []DecodedInstruction {
	out := make([]DecodedInstruction, 0, len(instructions))
	for _, ix := range instructions {
		out = append(out, c.decodeOne(ix))
	}
	return out
}

// CompiledInstruction is the minimal shape validate needs from a decoded
// solana.CompiledInstruction plus its resolved program id.
type CompiledInstruction struct {
	ProgramID solana.PublicKey
	Data      []byte
}

func (c *ProgramClassifier) decodeOne(ix CompiledInstruction) DecodedInstruction {
	disc := ""
	if len(ix.Data) >= 8 {
		disc = hex.EncodeToString(ix.Data[:8])
	}

	if ix.ProgramID.Equals(c.klendProgramID) && len(ix.Data) >= 8 {
		var key [8]byte
		copy(key[:], ix.Data[:8])
		if kind, ok := klendDiscriminatorKinds[key]; ok {
			return DecodedInstruction{ProgramID: ix.ProgramID, Discriminator: disc, Kind: kind}
		}
		return DecodedInstruction{ProgramID: ix.ProgramID, Discriminator: disc, Kind: KindKaminoUnknown}
	}

	if kind, ok := c.byProgramID[ix.ProgramID]; ok {
		return DecodedInstruction{ProgramID: ix.ProgramID, Discriminator: disc, Kind: kind}
	}

	return DecodedInstruction{ProgramID: ix.ProgramID, Discriminator: disc, Kind: KindUnknown}
}

// FindLiquidationIndex returns the index of the liquidate instruction, or
// -1 if absent.
func FindLiquidationIndex(decoded []DecodedInstruction) int {
	for i, d := range decoded {
		if d.Kind == KindLiquidateObligation {
			return i
		}
	}
	return -1
}

// WindowResult is the outcome of validating the canonical liquidation
// instruction window (spec §4.N).
type WindowResult struct {
	Valid            bool
	Diagnostics      string
	LiquidationIndex int
}

// ValidateLiquidationWindow checks that liquidate is preceded by 0-2
// refreshObligationFarmsForReserve instructions, those by refreshObligation,
// and that by two refreshReserve, and (if requirePostFarms) that the count of
// farm refreshes right after liquidate matches the pre-farm count.
// requirePreFarms is not consulted: the pre-farm count is only bounded to
// [0,2].
func ValidateLiquidationWindow(decoded []DecodedInstruction, requirePreFarms bool, requirePostFarms bool) WindowResult {
	idx := FindLiquidationIndex(decoded)
	if idx < 0 {
		return WindowResult{Valid: false, Diagnostics: "no liquidate instruction found", LiquidationIndex: -1}
	}

	preFarmCount := 0
	cursor := idx - 1
	for cursor >= 0 && decoded[cursor].Kind == KindRefreshObligationFarmsForReserve {
		preFarmCount++
		cursor--
	}
	if preFarmCount > 2 {
		return WindowResult{Valid: false, Diagnostics: windowDiagnostics(decoded, idx, fmt.Sprintf("preFarmCount %d out of range [0,2]", preFarmCount)), LiquidationIndex: idx}
	}

	if cursor < 0 || decoded[cursor].Kind != KindRefreshObligation {
		return WindowResult{Valid: false, Diagnostics: windowDiagnostics(decoded, idx, "missing refreshObligation immediately before liquidate (or its pre-farm refreshes)"), LiquidationIndex: idx}
	}
	cursor--

	if cursor < 1 || decoded[cursor].Kind != KindRefreshReserve || decoded[cursor-1].Kind != KindRefreshReserve {
		return WindowResult{Valid: false, Diagnostics: windowDiagnostics(decoded, idx, "expected two refreshReserve instructions before refreshObligation/farms"), LiquidationIndex: idx}
	}

	if requirePostFarms {
		postFarmCount := 0
		for i := idx + 1; i < len(decoded) && decoded[i].Kind == KindRefreshObligationFarmsForReserve; i++ {
			postFarmCount++
		}
		if postFarmCount != preFarmCount {
			return WindowResult{Valid: false, Diagnostics: windowDiagnostics(decoded, idx, fmt.Sprintf("postFarmCount %d != preFarmCount %d", postFarmCount, preFarmCount)), LiquidationIndex: idx}
		}
	}

	return WindowResult{Valid: true, LiquidationIndex: idx}
}

func windowDiagnostics(decoded []DecodedInstruction, idx int, reason string) string {
	lo := idx - 6
	if lo < 0 {
		lo = 0
	}
	hi := idx + 6
	if hi > len(decoded) {
		hi = len(decoded)
	}

	var b strings.Builder
	b.WriteString(reason)
	b.WriteString(" window=[")
	for i := lo; i < hi; i++ {
		if i > lo {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d:%s(%s)", i, decoded[i].Kind, truncate(decoded[i].ProgramID.String()))
	}
	b.WriteString("]")
	return b.String()
}

func truncate(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10]
}
