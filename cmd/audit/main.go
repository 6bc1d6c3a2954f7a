package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gagliardetto/solana-go"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/config"
	"github.com/kamino-liq/liqengine/internal/indexer"
	"github.com/kamino-liq/liqengine/internal/logging"
	"github.com/kamino-liq/liqengine/internal/marketdata"
	"github.com/kamino-liq/liqengine/internal/rpcx"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 || os.Args[1] != "audit:pipeline" {
		bootstrapLogger.Error("usage: audit audit:pipeline")
		os.Exit(1)
	}

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("audit", cfg.Log)
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
		fmt.Printf("config source: phase=%s path=%s loaded=%t\n", source.Phase, source.Path, source.Loaded)
	}

	if err := runAuditPipeline(context.Background(), cfg, logger); err != nil {
		logger.Error("audit pipeline failed", "err", err)
		os.Exit(1)
	}
}

// runAuditPipeline re-runs the full scan/score pass and prints file counts
// plus the filter-rejection histogram the indexer accumulates (spec §4.E's
// reserve-membership and allowlist prechecks, and component B's decode
// failures).
func runAuditPipeline(ctx context.Context, cfg config.EngineConfig, logger *slog.Logger) error {
	client := rpcx.Client(cfg.RPCPrimary)

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
	oracleCount := 0
	if prices, loadErr := marketdata.LoadOraclePrices(oraclePath); loadErr == nil {
		oracleCache.Load(prices, allowlistMints)
		oracleCount = len(prices)
	} else {
		logger.Warn("oracle price file unavailable", "path", oraclePath, "err", loadErr)
	}

	idx := indexer.New(reserveCache, oracleCache, allowlistMints)
	for pubkey, ob := range obligations {
		idx.Ingest(pubkey, ob)
	}
	stats := idx.Stats()

	fmt.Println("--- file counts ---")
	fmt.Printf("reserves fetched:     %d\n", len(reservesByPubkey))
	fmt.Printf("obligations fetched:  %d\n", len(obligations))
	fmt.Printf("oracle prices loaded: %d\n", oracleCount)
	fmt.Printf("allowlist mints:      %d\n", len(allowlistMints))

	fmt.Println("--- indexer stats ---")
	fmt.Printf("cache size:                  %d\n", stats.CacheSize)
	fmt.Printf("scored:                      %d\n", stats.ScoredCount)
	fmt.Printf("unscored:                    %d\n", stats.UnscoredCount)
	fmt.Printf("liquidatable:                %d\n", stats.LiquidatableCount)
	fmt.Printf("empty obligations:           %d\n", stats.EmptyObligations)
	fmt.Printf("skipped (other market):      %d\n", stats.SkippedOtherMarketsCount)
	fmt.Printf("skipped (allowlist):         %d\n", stats.SkippedAllowlistCount)
	fmt.Printf("touches known reserve:       %d\n", stats.TouchesKnownReserveCount)

	fmt.Println("--- unscored reason histogram ---")
	type reasonCount struct {
		reason string
		count  int
	}
	histogram := make([]reasonCount, 0, len(stats.UnscoredReasons))
	for reason, count := range stats.UnscoredReasons {
		histogram = append(histogram, reasonCount{string(reason), count})
	}
	sort.Slice(histogram, func(i, j int) bool { return histogram[i].count > histogram[j].count })
	for _, rc := range histogram {
		fmt.Printf("%-40s %d\n", rc.reason, rc.count)
	}

	return nil
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
