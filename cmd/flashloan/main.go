package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kamino-liq/liqengine/internal/config"
	"github.com/kamino-liq/liqengine/internal/flashloan"
	"github.com/kamino-liq/liqengine/internal/liquidation"
	"github.com/kamino-liq/liqengine/internal/logging"
	"github.com/kamino-liq/liqengine/internal/marketdata"
	"github.com/kamino-liq/liqengine/internal/rpcx"
)

// memoProgramID is the SPL Memo v2 program, used to carry a placeholder
// instruction in the dry-run transaction so the layout matches a real
// liquidation's non-lending-program instructions.
var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 || os.Args[1] != "flashloan:dryrun" {
		bootstrapLogger.Error("usage: flashloan flashloan:dryrun --mint {SOL|USDC} --amount <n>")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("flashloan:dryrun", flag.ExitOnError)
	mint := fs.String("mint", "SOL", "mint symbol to flash borrow (SOL or USDC)")
	amount := fs.String("amount", "", "UI amount to flash borrow")
	if err := fs.Parse(os.Args[2:]); err != nil {
		bootstrapLogger.Error("failed to parse flags", "err", err)
		os.Exit(1)
	}
	if *amount == "" {
		bootstrapLogger.Error("--amount is required")
		os.Exit(1)
	}
	if _, err := strconv.ParseFloat(*amount, 64); err != nil {
		bootstrapLogger.Error("--amount must be numeric", "amount", *amount, "err", err)
		os.Exit(1)
	}
	mintSymbol := strings.ToUpper(*mint)
	if mintSymbol != "SOL" && mintSymbol != "USDC" {
		bootstrapLogger.Error("--mint must be SOL or USDC", "mint", *mint)
		os.Exit(1)
	}

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("flashloan", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if err := runDryRun(context.Background(), cfg, logger, mintSymbol, *amount); err != nil {
		logger.Error("dry run failed", "err", err)
		os.Exit(1)
	}
}

func runDryRun(ctx context.Context, cfg config.EngineConfig, logger *slog.Logger, mintSymbol, uiAmount string) error {
	client := rpcx.Client(cfg.RPCPrimary)

	signer, err := loadSigner(cfg.BotKeypairPath)
	if err != nil {
		return fmt.Errorf("load signer keypair: %w", err)
	}

	reservesByPubkey, err := marketdata.FetchReserves(ctx, client, cfg.KaminoKLendProgramID, cfg.KaminoMarketPubkey, cfg.Commitment)
	if err != nil {
		return fmt.Errorf("fetch reserves: %w", err)
	}
	registry := marketdata.NewSymbolRegistry(reservesByPubkey)

	flashPlan, err := flashloan.BuildFlashLoan(flashloan.Inputs{
		MarketPubkey:  cfg.KaminoMarketPubkey,
		ProgramID:     cfg.KaminoKLendProgramID,
		Signer:        signer.PublicKey(),
		MintSymbol:    mintSymbol,
		UIAmount:      uiAmount,
		BorrowIxIndex: 1, // compute-budget ix occupies index 0
	}, registry)
	if err != nil {
		return fmt.Errorf("build flash loan: %w", err)
	}

	memoIx := newMemoInstruction([]byte("liqengine dry-run"))

	var ixs []solana.Instruction
	ixs = append(ixs, liquidation.ComputeBudgetInstructions(1_000_000, 0)...)
	ixs = append(ixs, flashPlan.FlashBorrowIx)
	ixs = append(ixs, memoIx)
	ixs = append(ixs, flashPlan.FlashRepayIx)

	blockhashResult, err := client.GetLatestBlockhash(ctx, cfg.Commitment)
	if err != nil {
		return fmt.Errorf("get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, blockhashResult.Value.Blockhash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	}); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	resp, err := client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: cfg.Commitment,
	})
	if err != nil {
		return fmt.Errorf("simulate transaction: %w", err)
	}
	if resp.Value.Err != nil {
		logger.Error("simulation reported a transaction error", "err", resp.Value.Err)
	}

	invocations := countProgramInvocations(resp.Value.Logs, cfg.KaminoKLendProgramID)
	logger.Info("dry run simulated", "mint", mintSymbol, "amount", uiAmount, "lendingProgramInvocations", invocations, "logLines", len(resp.Value.Logs))
	for _, line := range resp.Value.Logs {
		fmt.Println(line)
	}

	if invocations < 2 {
		return fmt.Errorf("expected at least 2 lending program invocations in logs, got %d", invocations)
	}
	return nil
}

func countProgramInvocations(logs []string, programID solana.PublicKey) int {
	needle := "Program " + programID.String() + " invoke"
	count := 0
	for _, line := range logs {
		if strings.Contains(line, needle) {
			count++
		}
	}
	return count
}

func loadSigner(path string) (solana.PrivateKey, error) {
	if path == "" {
		return solana.PrivateKey{}, fmt.Errorf("BOT_KEYPAIR_PATH is not configured")
	}
	return solana.PrivateKeyFromSolanaKeygenFile(path)
}

// newMemoInstruction builds a minimal SPL Memo v2 instruction carrying msg,
// standing in for the dry run's placeholder step between borrow and repay.
func newMemoInstruction(msg []byte) solana.Instruction {
	return &memoInstruction{data: msg}
}

type memoInstruction struct {
	data []byte
}

func (m *memoInstruction) ProgramID() solana.PublicKey     { return memoProgramID }
func (m *memoInstruction) Accounts() []*solana.AccountMeta { return nil }
func (m *memoInstruction) Data() ([]byte, error)           { return m.data, nil }
