// Package config loads the engine's runtime configuration from environment
// variables, with an optional YAML file as a secondary source.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// LogConfig controls the shape and destination of structured log output.
type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// ScoringConfig holds the hazard/EV/TTL constants from spec §6.
type ScoringConfig struct {
	HazardAlpha          float64
	EVCloseFactor        float64
	EVLiquidationBonus   float64
	EVFlashloanFeePct    float64
	EVFixedGasUsd        float64
	EVSlippageBufferPct  float64
	TTLSolDropPctPerMin  float64
	TTLMaxDropPct        float64
	TTLGraceMs           int64
	TTLUnknownPasses     bool
	ForecastMaxAgeMs     int64
}

// SchedulerConfig holds the scheduler tuning constants from spec §6.
type SchedulerConfig struct {
	MinEV                    float64
	MaxTTLMin                float64
	MinHazard                float64
	MinRefreshIntervalMs     int64
	ForceIncludeLiquidatable bool
	MaxAttemptsPerCycle      int
}

// EngineConfig is the single configuration object shared by every CLI
// subcommand; each subcommand reads only the fields it needs.
type EngineConfig struct {
	RPCPrimary   string
	RPCSecondary string
	WSPrimary    string

	KaminoMarketPubkey   solana.PublicKey
	KaminoKLendProgramID solana.PublicKey

	BotKeypairPath string

	YellowstoneGRPCURL string
	YellowstoneXToken  string

	AllowlistMints []string

	Scoring   ScoringConfig
	Scheduler SchedulerConfig

	SwapInHaircutBps int64

	ExecutorBroadcast bool
	ExecutorLUTAddr   solana.PublicKey
	MaxInflight       int

	AuditDBDSN       string
	StatusListenAddr string

	DataDir string

	Commitment rpc.CommitmentType

	Log LogConfig
}

var (
	errMissingRPCPrimary = errors.New("RPC_PRIMARY is required")
	errMissingMarket     = errors.New("KAMINO_MARKET_PUBKEY is required")
	errMissingProgram    = errors.New("KAMINO_KLEND_PROGRAM_ID is required")
)

// LoadEngineConfig reads the full engine configuration. RPCPrimary,
// KaminoMarketPubkey, and KaminoKLendProgramID are mandatory and always
// validated, even for read-only operations (e.g. decode:*); on any error the
// returned EngineConfig is the zero value, so no field of it is usable.
func LoadEngineConfig() (EngineConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return EngineConfig{}, err
	}

	rpcPrimary := envOrDefault("RPC_PRIMARY", "")
	if rpcPrimary == "" {
		return EngineConfig{}, errMissingRPCPrimary
	}

	marketRaw := envOrDefault("KAMINO_MARKET_PUBKEY", "")
	if marketRaw == "" {
		return EngineConfig{}, errMissingMarket
	}
	market, err := solana.PublicKeyFromBase58(marketRaw)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("invalid KAMINO_MARKET_PUBKEY: %w", err)
	}

	programRaw := envOrDefault("KAMINO_KLEND_PROGRAM_ID", "")
	if programRaw == "" {
		return EngineConfig{}, errMissingProgram
	}
	program, err := solana.PublicKeyFromBase58(programRaw)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("invalid KAMINO_KLEND_PROGRAM_ID: %w", err)
	}

	keypairPath := envOrDefault("BOT_KEYPAIR_PATH", "~/.config/solana/id.json")
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return EngineConfig{}, err
	}

	allowlist := parseCSVEnv(envOrDefault("ALLOWLIST_MINTS", envOrDefault("LIQSOL_LIQ_MINT_ALLOWLIST", "")), []string{
		"So11111111111111111111111111111111111111112",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})

	hazardAlpha, err := envFloat("HAZARD_ALPHA", 25)
	if err != nil {
		return EngineConfig{}, err
	}
	closeFactor, err := envFloat("EV_CLOSE_FACTOR", 0.5)
	if err != nil {
		return EngineConfig{}, err
	}
	liqBonus, err := envFloat("EV_LIQUIDATION_BONUS_PCT", 0.05)
	if err != nil {
		return EngineConfig{}, err
	}
	flashFee, err := envFloat("EV_FLASHLOAN_FEE_PCT", 0.002)
	if err != nil {
		return EngineConfig{}, err
	}
	fixedGas, err := envFloat("EV_FIXED_GAS_USD", 0.5)
	if err != nil {
		return EngineConfig{}, err
	}
	slippage, err := envFloat("EV_SLIPPAGE_BUFFER_PCT", 0)
	if err != nil {
		return EngineConfig{}, err
	}
	solDrop, err := envFloat("TTL_SOL_DROP_PCT_PER_MIN", 0.2)
	if err != nil {
		return EngineConfig{}, err
	}
	maxDrop, err := envFloat("TTL_MAX_DROP_PCT", 20)
	if err != nil {
		return EngineConfig{}, err
	}
	ttlGrace, err := envInt64("TTL_GRACE_MS", 60000)
	if err != nil {
		return EngineConfig{}, err
	}
	ttlUnknownPasses, err := envBool("TTL_UNKNOWN_PASSES", true)
	if err != nil {
		return EngineConfig{}, err
	}
	forecastMaxAge, err := envInt64("FORECAST_MAX_AGE_MS", 300000)
	if err != nil {
		return EngineConfig{}, err
	}

	schedMinEV, err := envFloat("SCHED_MIN_EV", 0)
	if err != nil {
		return EngineConfig{}, err
	}
	schedMaxTTL, err := envFloat("SCHED_MAX_TTL_MIN", 10)
	if err != nil {
		return EngineConfig{}, err
	}
	schedMinHazard, err := envFloat("SCHED_MIN_HAZARD", 0.05)
	if err != nil {
		return EngineConfig{}, err
	}
	schedMinRefresh, err := envInt64("SCHED_MIN_REFRESH_INTERVAL_MS", 1000)
	if err != nil {
		return EngineConfig{}, err
	}
	schedForceInclude, err := envBool("SCHED_FORCE_INCLUDE_LIQUIDATABLE", true)
	if err != nil {
		return EngineConfig{}, err
	}
	maxAttempts, err := envIntAllowZero("SCHED_MAX_ATTEMPTS_PER_CYCLE", 1)
	if err != nil {
		return EngineConfig{}, err
	}

	haircutBps, err := envInt64("SWAP_IN_HAIRCUT_BPS", 100)
	if err != nil {
		return EngineConfig{}, err
	}

	broadcast, err := envBroadcastFlag()
	if err != nil {
		return EngineConfig{}, err
	}

	var lutAddr solana.PublicKey
	if raw := strings.TrimSpace(valueForKey("EXECUTOR_LUT_ADDRESS")); raw != "" {
		lutAddr, err = solana.PublicKeyFromBase58(raw)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("invalid EXECUTOR_LUT_ADDRESS: %w", err)
		}
	}

	maxInflight, err := envIntAllowZero("BOT_MAX_INFLIGHT", 1)
	if err != nil {
		return EngineConfig{}, err
	}

	return EngineConfig{
		RPCPrimary:           rpcPrimary,
		RPCSecondary:         envOrDefault("RPC_SECONDARY", ""),
		WSPrimary:            envOrDefault("WS_PRIMARY", ""),
		KaminoMarketPubkey:   market,
		KaminoKLendProgramID: program,
		BotKeypairPath:       expandedKeypair,
		YellowstoneGRPCURL:   envOrDefault("YELLOWSTONE_GRPC_URL", ""),
		YellowstoneXToken:    envOrDefault("YELLOWSTONE_X_TOKEN", ""),
		AllowlistMints:       allowlist,
		Scoring: ScoringConfig{
			HazardAlpha:         hazardAlpha,
			EVCloseFactor:       closeFactor,
			EVLiquidationBonus:  liqBonus,
			EVFlashloanFeePct:   flashFee,
			EVFixedGasUsd:       fixedGas,
			EVSlippageBufferPct: slippage,
			TTLSolDropPctPerMin: solDrop,
			TTLMaxDropPct:       maxDrop,
			TTLGraceMs:          ttlGrace,
			TTLUnknownPasses:    ttlUnknownPasses,
			ForecastMaxAgeMs:    forecastMaxAge,
		},
		Scheduler: SchedulerConfig{
			MinEV:                    schedMinEV,
			MaxTTLMin:                schedMaxTTL,
			MinHazard:                schedMinHazard,
			MinRefreshIntervalMs:     schedMinRefresh,
			ForceIncludeLiquidatable: schedForceInclude,
			MaxAttemptsPerCycle:      maxAttempts,
		},
		SwapInHaircutBps:  haircutBps,
		ExecutorBroadcast: broadcast,
		ExecutorLUTAddr:   lutAddr,
		MaxInflight:       maxInflight,
		AuditDBDSN:        envOrDefault("AUDIT_DB_DSN", ""),
		StatusListenAddr:  envOrDefault("STATUS_LISTEN_ADDR", ""),
		DataDir:           envOrDefault("LIQSOL_DATA_DIR", "data"),
		Commitment:        commitment,
		Log:               buildLogConfig("LIQSOL", "liqengine"),
	}, nil
}

func envBroadcastFlag() (bool, error) {
	if v, err := envBool("EXECUTOR_BROADCAST", false); err != nil {
		return false, err
	} else if v {
		return true, nil
	}
	raw := strings.ToLower(strings.TrimSpace(valueForKey("LIQSOL_BROADCAST")))
	switch raw {
	case "true", "1", "yes":
		return true, nil
	default:
		return false, nil
	}
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envIntAllowZero(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return v, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}

