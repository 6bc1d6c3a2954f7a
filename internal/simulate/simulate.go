// Package simulate estimates seized collateral by running a
// liquidation-only simulation transaction (component M).
package simulate

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kamino-liq/liqengine/internal/errkind"
)

// RPCClient is the subset of *rpc.Client simulate needs, so tests can
// substitute a fake.
type RPCClient interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
}

// Inputs bundles what's needed to run the liquidation-only simulation
// (spec §4.M).
type Inputs struct {
	LiquidationOnlyTx *solana.Transaction // ComputeBudget + PRE + CORE + coreFarms + LIQUIDATE + POST farms; no flash borrow/repay
	CollateralATA     solana.PublicKey
	HaircutBps        int
}

// Result is the estimator's output.
type Result struct {
	PreBalance    uint64
	PostBalance   uint64
	SeizedDelta   uint64
	AfterHaircut  uint64
	ProgramLogs   []string
}

const bpsDenominator = 10_000

// Estimate simulates the prebuilt in.LiquidationOnlyTx, reading the
// liquidator's collateral ATA balance before and after (spec §4.M).
func Estimate(ctx context.Context, client RPCClient, in Inputs) (*Result, error) {
	pre, err := tokenAccountBalance(ctx, client, in.CollateralATA)
	if err != nil {
		return nil, fmt.Errorf("simulate: read pre-balance: %w", err)
	}

	resp, err := client.SimulateTransactionWithOpts(ctx, in.LiquidationOnlyTx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentProcessed,
		Accounts: &rpc.SimulateTransactionAccountsOpts{
			Addresses: []solana.PublicKey{in.CollateralATA},
			Encoding:  solana.EncodingBase64,
		},
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.SimulationFailed, "simulate transaction rpc call", err)
	}
	if resp.Value.Err != nil {
		return nil, errkind.Wrap(errkind.SimulationFailed, fmt.Sprintf("simulation error: %v logs=%v", resp.Value.Err, resp.Value.Logs), nil)
	}

	post, err := decodePostBalance(resp)
	if err != nil {
		return nil, fmt.Errorf("simulate: decode post-balance: %w", err)
	}

	if post <= pre {
		return nil, errkind.New(errkind.SimulationFailed, "no_collateral_delta")
	}

	delta := post - pre
	afterHaircut := applyHaircut(delta, in.HaircutBps)

	return &Result{
		PreBalance:   pre,
		PostBalance:  post,
		SeizedDelta:  delta,
		AfterHaircut: afterHaircut,
		ProgramLogs:  resp.Value.Logs,
	}, nil
}

func applyHaircut(amount uint64, bps int) uint64 {
	if bps <= 0 {
		return amount
	}
	if bps >= bpsDenominator {
		return 0
	}
	return amount * uint64(bpsDenominator-bps) / bpsDenominator
}

func tokenAccountBalance(ctx context.Context, client RPCClient, ata solana.PublicKey) (uint64, error) {
	info, err := client.GetAccountInfoWithOpts(ctx, ata, &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentProcessed})
	if err != nil {
		if err == rpc.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	if info == nil || info.Value == nil {
		return 0, nil
	}
	return decodeTokenAccountAmount(info.Value.Data.GetBinary())
}

// decodeTokenAccountAmount reads the little-endian u64 amount field at
// byte offset 64 of an SPL Token account, per the fixed token-account
// layout (mint[32] owner[32] amount[8] ...).
func decodeTokenAccountAmount(data []byte) (uint64, error) {
	if len(data) < 72 {
		return 0, nil
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(data[64+i]) << (8 * i)
	}
	return v, nil
}

func decodePostBalance(resp *rpc.SimulateTransactionResponse) (uint64, error) {
	if len(resp.Value.Accounts) == 0 || resp.Value.Accounts[0] == nil {
		return 0, fmt.Errorf("simulation response missing requested account")
	}
	data := resp.Value.Accounts[0].Data.GetBinary()
	if data == nil {
		return 0, fmt.Errorf("simulation response account data not base64-encoded")
	}
	return decodeTokenAccountAmount(data)
}
