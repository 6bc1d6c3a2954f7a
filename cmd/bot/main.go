package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kamino-liq/liqengine/internal/apiserverx"
	"github.com/kamino-liq/liqengine/internal/audittrail"
	"github.com/kamino-liq/liqengine/internal/cache"
	"github.com/kamino-liq/liqengine/internal/candidate"
	"github.com/kamino-liq/liqengine/internal/config"
	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/errkind"
	"github.com/kamino-liq/liqengine/internal/executor"
	"github.com/kamino-liq/liqengine/internal/forecast"
	"github.com/kamino-liq/liqengine/internal/indexer"
	"github.com/kamino-liq/liqengine/internal/klend"
	"github.com/kamino-liq/liqengine/internal/logging"
	"github.com/kamino-liq/liqengine/internal/lut"
	"github.com/kamino-liq/liqengine/internal/marketdata"
	"github.com/kamino-liq/liqengine/internal/realtime"
	"github.com/kamino-liq/liqengine/internal/rpcx"
	"github.com/kamino-liq/liqengine/internal/scheduler"
	"github.com/kamino-liq/liqengine/internal/score"
	"github.com/kamino-liq/liqengine/internal/setupstate"
	"github.com/kamino-liq/liqengine/internal/txbuild"
	"github.com/kamino-liq/liqengine/internal/validate"
)

// blockhashSafetyMarginBlocks is how close to lastValidBlockHeight the
// cached blockhash is allowed to get before BlockhashManager refreshes it
// (spec §5: comparisons are block-height-to-block-height).
const blockhashSafetyMarginBlocks = 20

// computeUnitLimit/computeUnitPriceMicroLamports are the fixed compute
// budget instruction parameters for the baseline downgrade profile.
const (
	computeUnitLimit              = uint32(1_400_000)
	computeUnitPriceMicroLamports = uint64(0)
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// pollIntervalMs is the bot loop's RPC re-scan cadence. A live account/price
// stream (gRPC/Yellowstone) is an external collaborator per spec §1's
// non-goals, so this entrypoint drives the indexer via periodic polling
// instead, routing each polled obligation (pubkey, last-update slot) through
// realtime.Orchestrator.OnAccountUpdate's per-(pubkey,slot) dedupe, the same
// entry point a stream consumer would use.
const pollIntervalMs = 5_000

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 || os.Args[1] != "bot:run" {
		bootstrapLogger.Error("usage: bot bot:run [--broadcast]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("bot:run", flag.ExitOnError)
	broadcastFlag := fs.Bool("broadcast", false, "actually broadcast liquidation transactions instead of simulating only")
	if err := fs.Parse(os.Args[2:]); err != nil {
		bootstrapLogger.Error("failed to parse flags", "err", err)
		os.Exit(1)
	}

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("bot", cfg.Log)
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

	broadcast := *broadcastFlag || envTruthy("LIQSOL_BROADCAST") || cfg.ExecutorBroadcast
	logger.Info("broadcast mode", "enabled", broadcast)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, broadcast); err != nil {
		logger.Error("bot run failed", "err", err)
		os.Exit(1)
	}
}

func envTruthy(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "true" || v == "1" || v == "yes"
}

func run(ctx context.Context, cfg config.EngineConfig, logger *slog.Logger, broadcast bool) error {
	client := rpcx.Client(cfg.RPCPrimary)
	blockhashMgr := rpcx.NewBlockhashManager(client, client, cfg.Commitment, blockhashSafetyMarginBlocks)

	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.BotKeypairPath)
	if err != nil {
		return err
	}

	queuePath := filepath.Join(cfg.DataDir, "tx_queue.json")
	queue, err := scheduler.NewQueue(queuePath)
	if err != nil {
		return err
	}
	queue.SkipLogger = func(line string) { logger.Warn(line) }

	blockedStore, err := setupstate.Load(filepath.Join(cfg.DataDir, "setup_state.json"))
	if err != nil {
		return err
	}
	blockedMarker := blockedMarkerFunc(blockedStore)

	classifier := validate.NewProgramClassifier(cfg.KaminoKLendProgramID)
	classifier.Register(computeBudgetProgramID, validate.KindComputeBudgetLimit)
	classifier.Register(solana.TokenProgramID, validate.KindToken)
	classifier.Register(solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"), validate.KindToken2022)
	classifier.Register(solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"), validate.KindAssociatedTokenAccount)

	var auditStore *audittrail.Store
	if cfg.AuditDBDSN != "" {
		auditStore, err = audittrail.Open(cfg.AuditDBDSN)
		if err != nil {
			logger.Warn("audit trail unavailable, continuing without it", "err", err)
			auditStore = nil
		} else {
			defer auditStore.Close()
		}
	} else {
		logger.Info("audit trail disabled (AUDIT_DB_DSN unset)")
	}

	reserveCache := cache.NewReserveCache()
	oracleCache := cache.NewOracleCache()
	allowlistMints := allowlistPubkeys(cfg.AllowlistMints, logger)
	idx := indexer.New(reserveCache, oracleCache, allowlistMints)

	var apiSvc *apiserverx.Service
	if cfg.StatusListenAddr != "" {
		apiSvc = apiserverx.New(apiserverx.Config{
			ListenAddr:   cfg.StatusListenAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		}, logger, queue, idx)
		go func() {
			if runErr := apiSvc.Run(ctx); runErr != nil {
				logger.Error("status server exited", "err", runErr)
			}
		}()
	}

	orchestrator := realtime.NewOrchestrator(realtime.Thresholds{
		MinPricePctChange:    0.005,
		MinHealthDelta:       0.01,
		MinRefreshIntervalMs: cfg.Scheduler.MinRefreshIntervalMs,
		DebounceMs:           200,
	})

	slotSub := rpcx.NewSlotSubscriptionManager(cfg.RPCPrimary, logger)
	slotSub.Start(ctx)
	defer slotSub.Stop()

	ticker := time.NewTicker(time.Duration(pollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	logger.Info("bot loop starting", "pollIntervalMs", pollIntervalMs)
	for {
		logger.Info("cycle starting", "slotSubscriptionConnected", slotSub.Connected(), "lastKnownSlot", slotSub.CurrentSlot())
		if err := runCycle(ctx, cfg, logger, client, blockhashMgr, signer, queue, blockedStore, blockedMarker, classifier, reserveCache, oracleCache, idx, orchestrator, auditStore, broadcast, slotSub); err != nil {
			logger.Error("cycle failed", "err", err)
		}
		if err := queue.Save(); err != nil {
			logger.Error("failed to persist queue", "err", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("bot loop stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func runCycle(
	ctx context.Context,
	cfg config.EngineConfig,
	logger *slog.Logger,
	client *rpc.Client,
	blockhashMgr *rpcx.BlockhashManager,
	signer solana.PrivateKey,
	queue *scheduler.Queue,
	blockedStore *setupstate.Store,
	blockedMarker executor.BlockedMarker,
	classifier *validate.ProgramClassifier,
	reserveCache *cache.ReserveCache,
	oracleCache *cache.OracleCache,
	idx *indexer.Indexer,
	orchestrator *realtime.Orchestrator,
	auditStore *audittrail.Store,
	broadcast bool,
	slotSub *rpcx.SlotSubscriptionManager,
) error {
	nowMs := time.Now().UnixMilli()

	reservesByPubkey, err := marketdata.FetchReserves(ctx, client, cfg.KaminoKLendProgramID, cfg.KaminoMarketPubkey, cfg.Commitment)
	if err != nil {
		return err
	}
	reserveCache.Load(marketdata.ToCacheReserves(reservesByPubkey))

	oraclePath := filepath.Join(cfg.DataDir, "oracle_prices.json")
	allowlistMints := allowlistPubkeys(cfg.AllowlistMints, logger)
	if prices, loadErr := marketdata.LoadOraclePrices(oraclePath); loadErr == nil {
		oracleCache.Load(prices, allowlistMints)
	} else {
		logger.Warn("oracle price file unavailable this cycle", "path", oraclePath, "err", loadErr)
	}

	obligations, err := marketdata.FetchObligations(ctx, client, cfg.KaminoKLendProgramID, cfg.Commitment)
	if err != nil {
		return err
	}
	// Market scoping happens inside idx.Ingest (reserve-membership precheck,
	// tracked via SkippedOtherMarketsCount/TouchesKnownReserveCount); every
	// fetched obligation reaches it unfiltered.
	for pubkey, ob := range obligations {
		if !orchestrator.OnAccountUpdate(realtime.AccountUpdate{Pubkey: pubkey.String(), Slot: ob.LastUpdateSlot}, nowMs) {
			continue
		}
		idx.Ingest(pubkey, ob)
	}

	scored := idx.GetScoredObligations(0)
	evParams := score.EVParams{
		CloseFactor:         cfg.Scoring.EVCloseFactor,
		LiquidationBonusPct: cfg.Scoring.EVLiquidationBonus,
		FlashloanFeePct:     cfg.Scoring.EVFlashloanFeePct,
		SlippageBufferPct:   cfg.Scoring.EVSlippageBufferPct,
		FixedGasUsd:         cfg.Scoring.EVFixedGasUsd,
	}
	candidates := candidate.Rank(scored, candidate.Options{
		EVMode:        true,
		HazardAlpha:   cfg.Scoring.HazardAlpha,
		EVParams:      evParams,
		MinBorrowUsd:  0,
		NearThreshold: 1.05,
	})

	registry := marketdata.NewSymbolRegistry(reservesByPubkey)
	symbolByMint := reverseSymbolLookup()

	plans := make([]domain.FlashloanPlan, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		existing, _ := queue.Get(c.ObligationPubkey)
		plan := planFromCandidate(existing, c, cfg, oracleCache, symbolByMint, nowMs)
		if !plan.HasRequiredFields() {
			continue
		}
		plans = append(plans, plan)
	}
	queue.EnqueuePlans(plans)

	farmsEnabled := farmsEnabledReserves(reservesByPubkey)

	var lutMaintainer *lut.Maintainer
	if !cfg.ExecutorLUTAddr.IsZero() {
		lutMaintainer = &lut.Maintainer{
			Accounts:  client,
			Confirm:   &lutConfirmerAdapter{client: client},
			Send:      lutSender(client, signer, blockhashMgr, cfg.Commitment),
			Authority: signer.PublicKey(),
			Payer:     signer.PublicKey(),
			TableAddr: cfg.ExecutorLUTAddr,
		}
	}

	builder := &txbuild.Builder{
		ProgramID:                     cfg.KaminoKLendProgramID,
		Market:                        cfg.KaminoMarketPubkey,
		Signer:                        signer,
		Reserves:                      reservesByPubkey,
		Obligations:                   obligations,
		FarmsEnabledReserves:          farmsEnabled,
		SymbolRegistry:                registry,
		Classifier:                    classifier,
		AccountChecker:                client,
		Blockhash:                     blockhashMgr,
		Commitment:                    cfg.Commitment,
		ComputeUnitLimit:              computeUnitLimit,
		ComputeUnitPriceMicroLamports: computeUnitPriceMicroLamports,
		LUT:                           lutMaintainer,
		CurrentSlotFn:                 slotSub.CurrentSlot,
	}
	exec := &executor.Executor{
		Builder:     builder,
		Simulator:   &simulatorAdapter{client: client, commitment: cfg.Commitment},
		Broadcaster: &broadcasterAdapter{client: client, commitment: cfg.Commitment},
		Blocked:     blockedMarker,
		Broadcast:   broadcast,
	}

	attempts := 0
	for _, plan := range queue.Sorted() {
		if blockedStore != nil {
			if _, blocked := blockedStore.IsBlocked(plan.Key); blocked {
				continue
			}
		}
		if !plan.LiquidationEligible && !cfg.Scheduler.ForceIncludeLiquidatable {
			continue
		}
		fr := forecast.Evaluate(forecast.Entry{
			Key:                 plan.Key,
			ForecastUpdatedAtMs: plan.CreatedAtMs,
			TTLMin:              plan.TTLMin,
			EV:                  plan.EV,
			PrevEV:              plan.PrevEV,
		}, forecast.Params{
			ForecastMaxAgeMs:     cfg.Scoring.ForecastMaxAgeMs,
			TTLGraceMs:           cfg.Scoring.TTLGraceMs,
			TTLUnknownPasses:     cfg.Scoring.TTLUnknownPasses,
			EVDropPct:            0.25,
			MinEV:                cfg.Scheduler.MinEV,
			MinRefreshIntervalMs: cfg.Scheduler.MinRefreshIntervalMs,
		}, nowMs)
		if !plan.LiquidationEligible && !fr.NeedsRecompute {
			continue
		}

		attempts++
		outcome, execErr := exec.Execute(ctx, plan)
		if execErr != nil {
			logger.Error("execution failed", "key", plan.Key, "err", execErr)
			continue
		}
		logger.Info("execution outcome", "key", plan.Key, "broadcasted", outcome.Broadcasted, "profile", outcome.ProfileUsed, "blocked", outcome.Blocked, "signature", outcome.Signature.String())
		if auditStore != nil {
			_ = auditStore.RecordLiquidationAttempt(ctx, audittrail.LiquidationAttempt{
				PlanKey:          plan.Key,
				ObligationPubkey: plan.Key,
				ProfileUsed:      outcome.ProfileUsed,
				Broadcasted:      outcome.Broadcasted,
				Signature:        outcome.Signature.String(),
				Blocked:          outcome.Blocked,
				BlockedReason:    outcome.BlockedReason,
				SimulateErrors:   outcome.SimulateErrors,
			}, nowMs)
		}

		if attempts >= cfg.Scheduler.MaxAttemptsPerCycle && cfg.Scheduler.MaxAttemptsPerCycle > 0 {
			break
		}
	}

	return nil
}

// planFromCandidate builds (or refreshes) a queueable plan record from a
// ranked candidate, deriving the flash-loan mint/amount fields spec §3
// names but leaves to the orchestrating entrypoint: amountUsd is the
// close-factor share of the outstanding borrow, amountUi its price-converted
// UI-unit equivalent.
func planFromCandidate(existing domain.FlashloanPlan, c *domain.Candidate, cfg config.EngineConfig, oracles *cache.OracleCache, symbolByMint map[solana.PublicKey]string, nowMs int64) domain.FlashloanPlan {
	base := existing
	if base.Key == "" {
		base = domain.FlashloanPlan{PlanVersion: 2, Key: c.ObligationPubkey, OwnerPubkey: c.OwnerPubkey}
	}
	plan := realtime.RecomputePlanFields(base, c, nowMs)

	amountUsd := cfg.Scoring.EVCloseFactor * c.BorrowValueUsd
	plan.AmountUsd = amountUsd

	mint, err := solana.PublicKeyFromBase58(c.PrimaryBorrowMint)
	if err == nil {
		if symbol, ok := symbolByMint[mint]; ok {
			plan.Mint = symbol
		}
		if price, ok := oracles.ByMint(mint); ok && price.UIPrice() > 0 {
			plan.AmountUi = amountUsd / price.UIPrice()
		}
	}

	plan.TTLStr = score.EstimateTTLString(c.HealthRatio, cfg.Scoring.TTLSolDropPctPerMin, cfg.Scoring.TTLMaxDropPct)
	if ttlMin, parseErr := score.ParseTTLMinutes(plan.TTLStr); parseErr == nil {
		plan.TTLMin = ttlMin
	}

	return plan
}

func reverseSymbolLookup() map[solana.PublicKey]string {
	out := make(map[solana.PublicKey]string, len(marketdata.WellKnownMints))
	for symbol, mintStr := range marketdata.WellKnownMints {
		out[solana.MustPublicKeyFromBase58(mintStr)] = symbol
	}
	return out
}

func farmsEnabledReserves(reserves map[solana.PublicKey]*klend.Reserve) map[solana.PublicKey]bool {
	out := make(map[solana.PublicKey]bool, len(reserves))
	for pubkey, reserve := range reserves {
		out[pubkey] = reserve.FarmEnabled()
	}
	return out
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

// blockedMarkerFunc adapts setupstate.Store's 3-arg MarkBlocked to the
// executor.BlockedMarker interface's 2-arg signature.
func blockedMarkerFunc(store *setupstate.Store) executor.BlockedMarker {
	return blockedMarkerAdapter{store: store}
}

type blockedMarkerAdapter struct {
	store *setupstate.Store
}

func (a blockedMarkerAdapter) MarkBlocked(key, reason string) error {
	return a.store.MarkBlocked(key, reason, time.Now().UnixMilli())
}

type simulatorAdapter struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func (s *simulatorAdapter) Simulate(ctx context.Context, tx *solana.Transaction) error {
	resp, err := s.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: s.commitment,
	})
	if err != nil {
		return err
	}
	if resp.Value.Err != nil {
		return classifySimulationError(resp.Value.Err, resp.Value.Logs)
	}
	return nil
}

type broadcasterAdapter struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func (b *broadcasterAdapter) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := b.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: b.commitment,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	if err := rpcx.ConfirmSignatureByPolling(ctx, b.client, sig, 500, 60_000); err != nil {
		return sig, err
	}
	return sig, nil
}

// lutConfirmerAdapter implements lut.Confirmer against the shared RPC
// client's polling helper.
type lutConfirmerAdapter struct {
	client *rpc.Client
}

func (c *lutConfirmerAdapter) Confirm(ctx context.Context, sig solana.Signature) error {
	return rpcx.ConfirmSignatureByPolling(ctx, c.client, sig, 500, 60_000)
}

// lutSender returns a lut.Sender that builds, signs, and sends a
// transaction made of the given instructions, for the executor lookup
// table's create/extend calls (component Q).
func lutSender(client *rpc.Client, signer solana.PrivateKey, blockhashMgr *rpcx.BlockhashManager, commitment rpc.CommitmentType) lut.Sender {
	return func(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
		blockhash, _, err := blockhashMgr.Get(ctx)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("lut sender: get recent blockhash: %w", err)
		}
		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(signer.PublicKey()))
		if err != nil {
			return solana.Signature{}, fmt.Errorf("lut sender: build transaction: %w", err)
		}
		if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if signer.PublicKey().Equals(key) {
				return &signer
			}
			return nil
		}); err != nil {
			return solana.Signature{}, fmt.Errorf("lut sender: sign transaction: %w", err)
		}
		return client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{SkipPreflight: false, PreflightCommitment: commitment})
	}
}

// classifySimulationError maps a failed simulation's program logs onto the
// tagged errkind.Kind sub-classifications of SimulationFailed (spec §7),
// so the executor's insufficient-rent blocked-marking path can match on
// errkind.Is rather than re-parsing log text itself.
func classifySimulationError(txErr any, logs []string) error {
	joined := strings.Join(logs, "\n")
	lower := strings.ToLower(joined)
	switch {
	case strings.Contains(lower, "insufficient"):
		return errkind.Wrap(errkind.InsufficientRent, "simulation rejected", errkind.New(errkind.SimulationFailed, truncateLog(joined)))
	case strings.Contains(lower, "stale"):
		return errkind.Wrap(errkind.ReserveStale, "simulation rejected", errkind.New(errkind.SimulationFailed, truncateLog(joined)))
	default:
		return errkind.New(errkind.SimulationFailed, truncateLog(joined))
	}
}

func truncateLog(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
