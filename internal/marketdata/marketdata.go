// Package marketdata fetches and decodes KLend reserve and obligation
// accounts from RPC, and loads the external oracle price-by-mint map
// (spec §1 non-goal: price recomputation from raw oracle binaries is out
// of scope — the oracle layer is consumed as an opaque price map).
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/klend"
)

// ProgramAccountsFetcher narrows *rpc.Client to the one scan call this
// package needs, grounded on the teacher's scanAndStore helper.
type ProgramAccountsFetcher interface {
	GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// FetchReserves scans programID for Reserve accounts belonging to market,
// decoding and discriminator-checking each one (component B).
func FetchReserves(ctx context.Context, client ProgramAccountsFetcher, programID, market solana.PublicKey, commitment rpc.CommitmentType) (map[solana.PublicKey]*klend.Reserve, error) {
	accounts, err := client.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: commitment,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(klend.ReserveDiscriminator[:])}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: scan reserve accounts for program %s: %w", programID, err)
	}

	out := make(map[solana.PublicKey]*klend.Reserve, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		reserve, err := klend.DecodeReserve(item.Account.Data.GetBinary(), item.Pubkey)
		if err != nil {
			continue // skip unparsable accounts rather than aborting the whole scan
		}
		if !reserve.LendingMarket.Equals(market) {
			continue
		}
		out[item.Pubkey] = reserve
	}
	return out, nil
}

// FetchObligations scans programID for all Obligation accounts. Market and
// reserve-membership filtering happens downstream in the indexer (spec
// §4.E's reserve-membership precheck), not here.
func FetchObligations(ctx context.Context, client ProgramAccountsFetcher, programID solana.PublicKey, commitment rpc.CommitmentType) (map[solana.PublicKey]*klend.Obligation, error) {
	accounts, err := client.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: commitment,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(klend.ObligationDiscriminator[:])}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: scan obligation accounts for program %s: %w", programID, err)
	}

	out := make(map[solana.PublicKey]*klend.Obligation, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		obligation, err := klend.DecodeObligation(item.Account.Data.GetBinary(), item.Pubkey)
		if err != nil {
			continue
		}
		out[item.Pubkey] = obligation
	}
	return out, nil
}

// ToCacheReserves adapts decoded wire reserves into the lean cache.Reserve
// shape. CollateralExchangeRate defaults to 1.0: the wire struct this
// engine decodes does not carry the total-collateral-supply field needed
// to derive the true share-to-liquidity rate (spec §4.B only requires the
// fields listed there), so this is a conservative default, not the true
// on-chain rate.
func ToCacheReserves(byPubkey map[solana.PublicKey]*klend.Reserve) []*cache.Reserve {
	out := make([]*cache.Reserve, 0, len(byPubkey))
	for pubkey, r := range byPubkey {
		out = append(out, &cache.Reserve{
			ReservePubkey:           pubkey,
			MarketPubkey:            r.LendingMarket,
			LiquidityMint:           r.LiquidityMint,
			CollateralMint:          r.CollateralMint,
			LiquidityDecimals:       int(r.LiquidityDecimals),
			CollateralDecimals:      int(r.CollateralDecimals),
			LoanToValuePct:          r.Config.LoanToValuePct,
			LiquidationThresholdPct: r.Config.LiquidationThresholdPct,
			LiquidationBonusBps:     r.Config.LiquidationBonusBps,
			BorrowFactorPct:         r.Config.BorrowFactorPct,
			CollateralExchangeRate:  1.0,
		})
	}
	return out
}

// oraclePriceFile is the on-disk shape for the external oracle
// price-by-mint feed (a stand-in for the opaque oracle collaborator named
// in spec §1's non-goals).
type oraclePriceFile struct {
	Prices []struct {
		Mint       string `json:"mint"`
		Mantissa   int64  `json:"mantissa"`
		Exponent   int32  `json:"exponent"`
		Confidence uint64 `json:"confidence"`
		Slot       uint64 `json:"slot"`
		OracleType string `json:"oracleType"`
	} `json:"prices"`
}

// LoadOraclePrices reads the price-by-mint map from a JSON file at path.
func LoadOraclePrices(path string) (map[solana.PublicKey]cache.Price, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: read oracle price file %s: %w", path, err)
	}
	var file oraclePriceFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("marketdata: parse oracle price file %s: %w", path, err)
	}

	out := make(map[solana.PublicKey]cache.Price, len(file.Prices))
	for _, p := range file.Prices {
		mint, err := solana.PublicKeyFromBase58(p.Mint)
		if err != nil {
			return nil, fmt.Errorf("marketdata: invalid mint %q in oracle price file: %w", p.Mint, err)
		}
		out[mint] = cache.Price{
			Mantissa:   p.Mantissa,
			Exponent:   p.Exponent,
			Confidence: p.Confidence,
			Slot:       p.Slot,
			OracleType: p.OracleType,
		}
	}
	return out, nil
}

// SymbolRegistry resolves a well-known mint symbol (e.g. "SOL", "USDC") to
// its reserve, for the flashloan builder's ReserveLookup interface.
type SymbolRegistry struct {
	bySymbol map[string]solana.PublicKey
	reserves map[solana.PublicKey]*klend.Reserve // keyed by liquidity mint
}

// WellKnownMints are the mint symbols the engine recognizes out of the box
// (spec §3: "mint ∈ {native SOL, stable USDC} (extensible)").
var WellKnownMints = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
}

// NewSymbolRegistry indexes reserves (keyed by pubkey) by their liquidity
// mint against the well-known symbol table.
func NewSymbolRegistry(reservesByPubkey map[solana.PublicKey]*klend.Reserve) *SymbolRegistry {
	reg := &SymbolRegistry{
		bySymbol: make(map[string]solana.PublicKey, len(WellKnownMints)),
		reserves: make(map[solana.PublicKey]*klend.Reserve),
	}
	mintBySymbol := make(map[solana.PublicKey]string, len(WellKnownMints))
	for symbol, mintStr := range WellKnownMints {
		mint := solana.MustPublicKeyFromBase58(mintStr)
		mintBySymbol[mint] = symbol
	}
	for pubkey, r := range reservesByPubkey {
		if symbol, ok := mintBySymbol[r.LiquidityMint]; ok {
			reg.bySymbol[symbol] = pubkey
			reg.reserves[pubkey] = r
		}
	}
	return reg
}

// ReserveBySymbol implements flashloan.ReserveLookup.
func (s *SymbolRegistry) ReserveBySymbol(symbol string) (solana.PublicKey, *klend.Reserve, bool) {
	pubkey, ok := s.bySymbol[symbol]
	if !ok {
		return solana.PublicKey{}, nil, false
	}
	return pubkey, s.reserves[pubkey], true
}
