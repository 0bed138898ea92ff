// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Config holds benchmark engine configuration.
type Config struct {
	Network     string   // network label used in run summaries and comparisons
	RPCURLs     []string // endpoint URLs in priority order; the first is preferred
	ChainID     int64
	PrivateKeys []string // hex-encoded sender keys; empty = built-in dev keys
	Recipient   string   // transfer recipient address

	GasTipCap     int64 // EIP-1559 priority fee (tip) in wei
	GasFeeCap     int64 // EIP-1559 max fee per gas in wei (0 = tip only)
	GasLimit      uint64
	FeeBumpFactor float64 // multiplicative fee step per retry
	UseLegacyTx   bool    // legacy (type 0) transactions instead of EIP-1559

	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ConfirmTimeout time.Duration
	DrainTimeout   time.Duration

	ProbesPerSecond float64 // health probe rate cap per endpoint

	ListenAddr         string
	DatabasePath       string        // path to SQLite database file
	Retention          time.Duration // prune runs older than this at startup; 0 keeps everything
	CORSAllowedOrigins string        // comma-separated list of allowed origins, or "*" for all
}

// RunCLIConfig holds run parameters when the binary is invoked to execute
// a single run instead of serving the HTTP API.
type RunCLIConfig struct {
	Mode        types.RunMode
	Operation   string
	Count       int
	Concurrency int
	Duration    time.Duration

	BurstSize     int
	BurstInterval time.Duration

	LadderStart      int
	LadderStep       int
	RoundDuration    time.Duration
	FailureThreshold float64

	Diagnose bool // run the diagnostic probe instead of a load run
}

// Defaults
const (
	DefaultRPCURL             = "http://localhost:8545"
	DefaultNetwork            = "devnet"
	DefaultChainID            = 31337
	DefaultGasTipCap          = 1000000000 // 1 Gwei
	DefaultGasFeeCap          = 0          // 0 = tip only
	DefaultGasLimit           = 21000
	DefaultFeeBumpFactor      = 1.25
	DefaultMaxAttempts        = 4
	DefaultBaseBackoff        = 200 * time.Millisecond
	DefaultMaxBackoff         = 5 * time.Second
	DefaultConfirmTimeout     = 30 * time.Second
	DefaultDrainTimeout       = 30 * time.Second
	DefaultProbesPerSecond    = 2.0
	DefaultListenAddr         = ":3001"
	DefaultDatabasePath       = "./data/chainbench.db"
	DefaultCORSAllowedOrigins = "*"
	DefaultCount              = 100
	DefaultConcurrency        = 10
	DefaultDuration           = 30 * time.Second
	DefaultOperation          = "transfer"
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
// Returns the config, run config (nil if running in server mode), and any error.
func Load() (*Config, *RunCLIConfig, error) {
	cfg := defaults()
	applyEnv(cfg, os.Getenv)

	var (
		network    = flag.String("network", cfg.Network, "Network label for run summaries")
		rpcURLs    = flag.String("rpc", strings.Join(cfg.RPCURLs, ","), "Comma-separated RPC URLs in priority order")
		chainID    = flag.Int64("chainid", cfg.ChainID, "Chain ID")
		keys       = flag.String("keys", strings.Join(cfg.PrivateKeys, ","), "Comma-separated sender private keys (hex)")
		recipient  = flag.String("recipient", cfg.Recipient, "Transfer recipient address")
		gasTipCap  = flag.Int64("gastipcap", cfg.GasTipCap, "EIP-1559 priority fee (tip) in wei")
		gasFeeCap  = flag.Int64("gasfeecap", cfg.GasFeeCap, "EIP-1559 max fee per gas in wei (0=tip only)")
		gasLimit   = flag.Uint64("gaslimit", cfg.GasLimit, "Gas limit")
		bumpFactor = flag.Float64("bump", cfg.FeeBumpFactor, "Fee bump factor per retry")
		legacyTx   = flag.Bool("legacy", cfg.UseLegacyTx, "Use legacy (type 0) transactions")
		listenAddr = flag.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath     = flag.String("db", cfg.DatabasePath, "SQLite database path")
		retention  = flag.Duration("retention", cfg.Retention, "Prune runs older than this at startup (0 keeps everything)")

		modeFlag          = flag.String("mode", "", "Run mode (sequential, concurrent, burst, discovery); empty = server mode")
		operationFlag     = flag.String("operation", DefaultOperation, "Operation to benchmark")
		countFlag         = flag.Int("count", DefaultCount, "Task count (sequential/concurrent modes)")
		concurrencyFlag   = flag.Int("concurrency", DefaultConcurrency, "Worker pool size")
		durationFlag      = flag.Duration("duration", DefaultDuration, "Run duration (burst/discovery modes)")
		burstSizeFlag     = flag.Int("burst-size", 50, "Tasks per burst (burst mode)")
		burstIntFlag      = flag.Duration("burst-interval", 5*time.Second, "Quiet interval between bursts")
		ladderStartFlag   = flag.Int("ladder-start", 10, "Starting TPS (discovery mode)")
		ladderStepFlag    = flag.Int("ladder-step", 10, "TPS increment per round (discovery mode)")
		roundFlag         = flag.Duration("round", 10*time.Second, "Round duration (discovery mode)")
		failThresholdFlag = flag.Float64("failure-threshold", 0.20, "Failure rate that stops the discovery ladder")
		diagnoseFlag      = flag.Bool("diagnose", false, "Run the diagnostic probe and exit")
	)

	flag.Parse()

	cfg.Network = *network
	cfg.RPCURLs = ParseURLList(*rpcURLs)
	cfg.ChainID = *chainID
	cfg.PrivateKeys = ParseURLList(*keys)
	cfg.Recipient = *recipient
	cfg.GasTipCap = *gasTipCap
	cfg.GasFeeCap = *gasFeeCap
	cfg.GasLimit = *gasLimit
	cfg.FeeBumpFactor = *bumpFactor
	cfg.UseLegacyTx = *legacyTx
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	cfg.Retention = *retention

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if *modeFlag == "" && !*diagnoseFlag {
		return cfg, nil, nil
	}

	runCfg := &RunCLIConfig{
		Mode:             types.RunMode(*modeFlag),
		Operation:        *operationFlag,
		Count:            *countFlag,
		Concurrency:      *concurrencyFlag,
		Duration:         *durationFlag,
		BurstSize:        *burstSizeFlag,
		BurstInterval:    *burstIntFlag,
		LadderStart:      *ladderStartFlag,
		LadderStep:       *ladderStepFlag,
		RoundDuration:    *roundFlag,
		FailureThreshold: *failThresholdFlag,
		Diagnose:         *diagnoseFlag,
	}
	if runCfg.Diagnose && runCfg.Mode == "" {
		runCfg.Mode = types.ModeSequential
	}

	if err := runCfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, runCfg, nil
}

func defaults() *Config {
	return &Config{
		Network:            DefaultNetwork,
		RPCURLs:            []string{DefaultRPCURL},
		ChainID:            DefaultChainID,
		GasTipCap:          DefaultGasTipCap,
		GasFeeCap:          DefaultGasFeeCap,
		GasLimit:           DefaultGasLimit,
		FeeBumpFactor:      DefaultFeeBumpFactor,
		MaxAttempts:        DefaultMaxAttempts,
		BaseBackoff:        DefaultBaseBackoff,
		MaxBackoff:         DefaultMaxBackoff,
		ConfirmTimeout:     DefaultConfirmTimeout,
		DrainTimeout:       DefaultDrainTimeout,
		ProbesPerSecond:    DefaultProbesPerSecond,
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
	}
}

// applyEnv overlays environment variables onto cfg. getenv is injected
// so tests can supply their own environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := getenv("RPC_URLS"); v != "" {
		cfg.RPCURLs = ParseURLList(v)
	}
	if v := getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.ChainID = id
		}
	}
	if v := getenv("PRIVATE_KEYS"); v != "" {
		cfg.PrivateKeys = ParseURLList(v)
	}
	if v := getenv("RECIPIENT"); v != "" {
		cfg.Recipient = v
	}
	if v := getenv("GAS_TIP_CAP"); v != "" {
		if tip, err := strconv.ParseInt(v, 10, 64); err == nil && tip > 0 {
			cfg.GasTipCap = tip
		}
	}
	if v := getenv("GAS_FEE_CAP"); v != "" {
		if fee, err := strconv.ParseInt(v, 10, 64); err == nil && fee >= 0 {
			cfg.GasFeeCap = fee
		}
	}
	if v := getenv("FEE_BUMP_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			cfg.FeeBumpFactor = f
		}
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Retention = d
		}
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
}

// ParseURLList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func ParseURLList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GasPolicy returns the gas policy derived from the configuration.
func (c *Config) GasPolicy() types.GasPolicy {
	return types.GasPolicy{
		TipWei:     c.GasTipCap,
		FeeCapWei:  c.GasFeeCap,
		GasLimit:   c.GasLimit,
		BumpFactor: c.FeeBumpFactor,
		UseLegacy:  c.UseLegacyTx,
	}
}

// RunConfig builds a full run configuration from the engine and CLI settings.
func (c *Config) RunConfig(run *RunCLIConfig) types.RunConfig {
	return types.RunConfig{
		Network:          c.Network,
		Mode:             run.Mode,
		Count:            run.Count,
		Concurrency:      run.Concurrency,
		Duration:         run.Duration,
		Operation:        run.Operation,
		BurstSize:        run.BurstSize,
		BurstInterval:    run.BurstInterval,
		LadderStart:      run.LadderStart,
		LadderStep:       run.LadderStep,
		RoundDuration:    run.RoundDuration,
		FailureThreshold: run.FailureThreshold,
		MaxAttempts:      c.MaxAttempts,
		BaseBackoff:      c.BaseBackoff,
		MaxBackoff:       c.MaxBackoff,
		ConfirmTimeout:   c.ConfirmTimeout,
		DrainTimeout:     c.DrainTimeout,
		Gas:              c.GasPolicy(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("at least one RPC URL is required")
	}
	if c.Network == "" {
		return fmt.Errorf("network label is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	if c.GasTipCap <= 0 {
		return fmt.Errorf("gas tip cap must be positive")
	}
	if c.GasFeeCap < 0 {
		return fmt.Errorf("gas fee cap cannot be negative")
	}
	if c.GasLimit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	if c.FeeBumpFactor < 1 {
		return fmt.Errorf("fee bump factor must be >= 1, got %f", c.FeeBumpFactor)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// Validate validates the run configuration.
func (c *RunCLIConfig) Validate() error {
	switch c.Mode {
	case types.ModeSequential, types.ModeConcurrent, types.ModeBurst, types.ModeDiscovery:
		// valid
	default:
		return fmt.Errorf("invalid mode: %s (valid: sequential, concurrent, burst, discovery)", c.Mode)
	}

	if c.Operation == "" {
		return fmt.Errorf("operation is required")
	}

	switch c.Mode {
	case types.ModeSequential, types.ModeConcurrent:
		if c.Count <= 0 {
			return fmt.Errorf("count must be positive for %s mode", c.Mode)
		}
		if c.Mode == types.ModeConcurrent && c.Concurrency <= 0 {
			return fmt.Errorf("concurrency must be positive for concurrent mode")
		}
	case types.ModeBurst:
		if c.Duration <= 0 {
			return fmt.Errorf("duration must be positive for burst mode")
		}
		if c.BurstSize <= 0 {
			return fmt.Errorf("burst size must be positive")
		}
		if c.BurstInterval <= 0 {
			return fmt.Errorf("burst interval must be positive")
		}
	case types.ModeDiscovery:
		if c.LadderStart <= 0 {
			return fmt.Errorf("ladder start must be positive")
		}
		if c.LadderStep <= 0 {
			return fmt.Errorf("ladder step must be positive")
		}
		if c.RoundDuration <= 0 {
			return fmt.Errorf("round duration must be positive")
		}
		if c.FailureThreshold <= 0 || c.FailureThreshold >= 1 {
			return fmt.Errorf("failure threshold must be between 0 and 1, got %f", c.FailureThreshold)
		}
	}

	return nil
}
