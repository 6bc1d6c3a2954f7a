package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	_ "github.com/joho/godotenv/autoload"

	"github.com/kamino-liq/liqengine/internal/config"
	"github.com/kamino-liq/liqengine/internal/klend"
	"github.com/kamino-liq/liqengine/internal/logging"
	"github.com/kamino-liq/liqengine/internal/rpcx"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 3 {
		bootstrapLogger.Error("usage: decode <decode:reserve|decode:obligation> <pubkey>")
		os.Exit(1)
	}

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("decode", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	pubkey, err := solana.PublicKeyFromBase58(os.Args[2])
	if err != nil {
		logger.Error("invalid pubkey argument", "arg", os.Args[2], "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client := rpcx.Client(cfg.RPCPrimary)

	info, err := client.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{Commitment: cfg.Commitment})
	if err != nil {
		logger.Error("failed to fetch account", "pubkey", pubkey, "err", err)
		os.Exit(1)
	}
	if info == nil || info.Value == nil {
		logger.Error("account not found", "pubkey", pubkey)
		os.Exit(1)
	}
	data := info.Value.Data.GetBinary()

	var decoded any
	switch os.Args[1] {
	case "decode:reserve":
		decoded, err = klend.DecodeReserve(data, pubkey)
	case "decode:obligation":
		decoded, err = klend.DecodeObligation(data, pubkey)
	default:
		logger.Error("unknown subcommand", "arg", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		logger.Error("decode failed", "pubkey", pubkey, "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(decoded); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
		os.Exit(1)
	}
}
