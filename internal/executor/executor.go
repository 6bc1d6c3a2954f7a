// Package executor assembles, validates, simulates, and (optionally)
// broadcasts the liquidation transaction for the highest-priority eligible
// plan (component O).
package executor

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/errkind"
	"github.com/kamino-liq/liqengine/internal/validate"
)

// DowngradeProfile is one point in the fixed downgrade progression tried on
// simulation failure (spec §4.O).
type DowngradeProfile struct {
	Name                    string
	DisableFarmsRefresh     bool
	DisablePostFarmsRefresh bool
	PreReserveRefreshMode   string // "full" or "minimal"
	OmitComputeBudgetIxs    bool
}

// DefaultDowngradeProfiles is the fixed profile list the executor iterates
// through on simulation failure, most-capable first.
func DefaultDowngradeProfiles() []DowngradeProfile {
	return []DowngradeProfile{
		{Name: "baseline", PreReserveRefreshMode: "full"},
		{Name: "disable-post-farms", DisablePostFarmsRefresh: true, PreReserveRefreshMode: "full"},
		{Name: "disable-farms", DisableFarmsRefresh: true, DisablePostFarmsRefresh: true, PreReserveRefreshMode: "full"},
		{Name: "minimal-reserve-refresh", DisableFarmsRefresh: true, DisablePostFarmsRefresh: true, PreReserveRefreshMode: "minimal"},
		{Name: "omit-compute-budget", DisableFarmsRefresh: true, DisablePostFarmsRefresh: true, PreReserveRefreshMode: "minimal", OmitComputeBudgetIxs: true},
	}
}

// filterForFarmRequirement drops profiles with farms disabled when the
// plan's reserves require a farm refresh (spec §4.O: "When
// farmRequiredModes is non-empty, only profiles with farms enabled are
// tried").
func filterForFarmRequirement(profiles []DowngradeProfile, farmsRequired bool) []DowngradeProfile {
	if !farmsRequired {
		return profiles
	}
	var out []DowngradeProfile
	for _, p := range profiles {
		if !p.DisableFarmsRefresh {
			out = append(out, p)
		}
	}
	return out
}

// TxBuilder builds a fully assembled, signed transaction for a given
// downgrade profile, returning the instruction list used for LUT
// candidate collection and the transaction itself.
type TxBuilder interface {
	Build(ctx context.Context, plan domain.FlashloanPlan, profile DowngradeProfile) (*BuiltTx, error)
}

// BuiltTx is one assembled candidate transaction and its decoded
// instruction classification, ready for validation/simulation.
type BuiltTx struct {
	Transaction  *solana.Transaction
	Decoded      []validate.DecodedInstruction
	FarmsRequired bool
	HasSetupIxs  bool
}

// Simulator runs a transaction simulation and reports success/failure.
type Simulator interface {
	Simulate(ctx context.Context, tx *solana.Transaction) error
}

// Broadcaster sends a signed transaction and confirms it.
type Broadcaster interface {
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// BlockedMarker records a plan as blocked when setup succeeds but
// liquidation has an unrecoverable setup-related failure (spec §4.O).
type BlockedMarker interface {
	MarkBlocked(key, reason string) error
}

// Executor ties the builder/validator/simulator/broadcaster together.
type Executor struct {
	Builder     TxBuilder
	Simulator   Simulator
	Broadcaster Broadcaster
	Blocked     BlockedMarker
	Broadcast   bool // env-gated; when false, simulate-only dry run
}

// Outcome summarizes one Execute call.
type Outcome struct {
	Signature      solana.Signature
	Broadcasted    bool
	ProfileUsed    string
	SimulateErrors []string
	Blocked        bool
	BlockedReason  string
}

// Execute runs the two-pass build -> validate -> simulate -> (downgrade
// loop) -> broadcast flow for the given plan (spec §4.O).
func (e *Executor) Execute(ctx context.Context, plan domain.FlashloanPlan) (*Outcome, error) {
	requirePreFarms := true

	// First pass: the builder derives borrowIxIndex from the compute-budget
	// instructions placed ahead of the flash borrow.
	first, err := e.Builder.Build(ctx, plan, DefaultDowngradeProfiles()[0])
	if err != nil {
		return nil, fmt.Errorf("executor: initial build: %w", err)
	}

	built := first
	if first.HasSetupIxs {
		// Second pass: rebuild now that setup instructions are known to be
		// present. The builder places them after the flash borrow, so the
		// recomputed borrowIxIndex equals the first pass's.
		second, err := e.Builder.Build(ctx, plan, DefaultDowngradeProfiles()[0])
		if err != nil {
			return nil, fmt.Errorf("executor: setup-adjusted rebuild: %w", err)
		}
		built = second
	}

	profiles := filterForFarmRequirement(DefaultDowngradeProfiles(), built.FarmsRequired)
	if len(profiles) == 0 {
		return nil, errkind.New(errkind.AdjacencyInvalid, "no downgrade profile compatible with required farm modes")
	}

	var simErrors []string
	for _, profile := range profiles {
		candidate, err := e.Builder.Build(ctx, plan, profile)
		if err != nil {
			simErrors = append(simErrors, fmt.Sprintf("%s: build error: %v", profile.Name, err))
			continue
		}

		window := validate.ValidateLiquidationWindow(candidate.Decoded, requirePreFarms, !profile.DisablePostFarmsRefresh)
		if !window.Valid {
			simErrors = append(simErrors, fmt.Sprintf("%s: window invalid: %s", profile.Name, window.Diagnostics))
			continue
		}

		if err := e.Simulator.Simulate(ctx, candidate.Transaction); err != nil {
			simErrors = append(simErrors, fmt.Sprintf("%s: simulate error: %v", profile.Name, err))
			if errkind.Is(err, errkind.InsufficientRent) && candidate.HasSetupIxs {
				if e.Blocked != nil {
					_ = e.Blocked.MarkBlocked(plan.Key, "insufficient-rent")
				}
				return &Outcome{Blocked: true, BlockedReason: "insufficient-rent", SimulateErrors: simErrors}, nil
			}
			continue
		}

		if !e.Broadcast {
			return &Outcome{ProfileUsed: profile.Name, SimulateErrors: simErrors}, nil
		}

		sig, err := e.Broadcaster.SendAndConfirm(ctx, candidate.Transaction)
		if err != nil {
			return nil, fmt.Errorf("executor: broadcast failed after successful simulation (%s): %w", profile.Name, err)
		}
		return &Outcome{Signature: sig, Broadcasted: true, ProfileUsed: profile.Name, SimulateErrors: simErrors}, nil
	}

	return nil, fmt.Errorf("executor: all downgrade profiles failed: %v", simErrors)
}
