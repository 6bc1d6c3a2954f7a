package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/candidate"
	"github.com/kamino-liq/liqengine/internal/config"
	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/indexer"
	"github.com/kamino-liq/liqengine/internal/logging"
	"github.com/kamino-liq/liqengine/internal/marketdata"
	"github.com/kamino-liq/liqengine/internal/rpcx"
	"github.com/kamino-liq/liqengine/internal/solanaio"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		bootstrapLogger.Error("usage: snapshot <snapshot:obligations|snapshot:scored|snapshot:candidates>")
		os.Exit(1)
	}

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("snapshot", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx := context.Background()
	client := rpcx.Client(cfg.RPCPrimary)

	switch os.Args[1] {
	case "snapshot:obligations":
		err = runSnapshotObligations(ctx, client, cfg, logger)
	case "snapshot:scored", "snapshot:candidates":
		err = runSnapshotScored(ctx, client, cfg, logger, os.Args[1] == "snapshot:candidates")
	default:
		logger.Error("unknown subcommand", "arg", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		logger.Error("snapshot failed", "err", err)
		os.Exit(1)
	}
}

// runSnapshotObligations scans all Obligation accounts for the configured
// program, keeping only those belonging to the configured market (spec §6's
// offset=32 market-pubkey memcmp filter is applied post-decode here since
// FetchObligations intentionally defers market filtering to the indexer),
// and writes obligations.jsonl.
func runSnapshotObligations(ctx context.Context, client *rpc.Client, cfg config.EngineConfig, logger *slog.Logger) error {
	obligations, err := marketdata.FetchObligations(ctx, client, cfg.KaminoKLendProgramID, cfg.Commitment)
	if err != nil {
		return fmt.Errorf("fetch obligations: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "obligations.jsonl")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	written := 0
	for pubkey, ob := range obligations {
		if !ob.LendingMarket.Equals(cfg.KaminoMarketPubkey) {
			continue
		}
		record := map[string]any{
			"pubkey":     pubkey.String(),
			"owner":      ob.Owner.String(),
			"deposits":   len(ob.Deposits),
			"borrows":    len(ob.Borrows),
			"lastUpdate": ob.LastUpdateSlot,
		}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write obligation record: %w", err)
		}
		written++
	}
	if err := solanaio.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	logger.Info("obligations snapshot written", "path", path, "count", written, "scanned", len(obligations))
	return nil
}

// runSnapshotScored scores every obligation against live reserves/oracle
// prices and prints the top 50 by ascending health ratio, respecting
// ALLOWLIST_MINTS. candidateMode additionally ranks via the candidate
// scorer (spec §4.G).
func runSnapshotScored(ctx context.Context, client *rpc.Client, cfg config.EngineConfig, logger *slog.Logger, candidateMode bool) error {
	reservesByPubkey, err := marketdata.FetchReserves(ctx, client, cfg.KaminoKLendProgramID, cfg.KaminoMarketPubkey, cfg.Commitment)
	if err != nil {
		return fmt.Errorf("fetch reserves: %w", err)
	}
	obligations, err := marketdata.FetchObligations(ctx, client, cfg.KaminoKLendProgramID, cfg.Commitment)
	if err != nil {
		return fmt.Errorf("fetch obligations: %w", err)
	}

	allowlistMints := allowlistPubkeys(cfg.AllowlistMints, logger)

	reserveCache := cache.NewReserveCache()
	reserveCache.Load(marketdata.ToCacheReserves(reservesByPubkey))

	oraclePath := filepath.Join(cfg.DataDir, "oracle_prices.json")
	oracleCache := cache.NewOracleCache()
	if prices, loadErr := marketdata.LoadOraclePrices(oraclePath); loadErr == nil {
		oracleCache.Load(prices, allowlistMints)
	} else {
		logger.Warn("oracle price file unavailable, scoring without live prices", "path", oraclePath, "err", loadErr)
	}

	idx := indexer.New(reserveCache, oracleCache, allowlistMints)
	// Market scoping happens inside idx.Ingest's reserve-membership precheck;
	// every fetched obligation reaches it unfiltered.
	for pubkey, ob := range obligations {
		idx.Ingest(pubkey, ob)
	}

	scored := idx.GetScoredObligations(0)
	stats := idx.Stats()
	logger.Info("scoring complete", "cacheSize", stats.CacheSize, "scored", stats.ScoredCount, "liquidatable", stats.LiquidatableCount, "unscored", stats.UnscoredCount)

	if candidateMode {
		candidates := candidate.Rank(scored, candidate.Options{
			HazardAlpha:   cfg.Scoring.HazardAlpha,
			NearThreshold: 1.05,
		})
		printTop50Candidates(candidates)
		return nil
	}

	printTop50Scored(scored)
	return nil
}

func printTop50Scored(scored []domain.ScoredObligation) {
	sort.Slice(scored, func(i, j int) bool { return scored[i].HealthRatio < scored[j].HealthRatio })
	n := len(scored)
	if n > 50 {
		n = 50
	}
	for i := 0; i < n; i++ {
		fmt.Printf("%3d  health=%.4f eligible=%t borrow=$%.2f collateral=$%.2f  %s\n",
			i+1, scored[i].HealthRatio, scored[i].LiquidationEligible, scored[i].BorrowValueUsd, scored[i].CollateralValueUsd, scored[i].ObligationPubkey)
	}
}

func printTop50Candidates(candidates []domain.Candidate) {
	n := len(candidates)
	if n > 50 {
		n = 50
	}
	for i := 0; i < n; i++ {
		c := candidates[i]
		fmt.Printf("%3d  priority=%.4f health=%.4f eligible=%t  %s\n", i+1, c.PriorityScore, c.HealthRatio, c.LiquidationEligible, c.ObligationPubkey)
	}
}

func allowlistPubkeys(mints []string, logger *slog.Logger) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(mints))
	for _, m := range mints {
		pk, err := solana.PublicKeyFromBase58(m)
		if err != nil {
			logger.Warn("skipping invalid allowlist mint", "mint", m, "err", err)
			continue
		}
		out = append(out, pk)
	}
	return out
}
