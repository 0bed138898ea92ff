package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/chainbench/internal/config"
	"github.com/gateway-fm/chainbench/internal/diagnose"
	"github.com/gateway-fm/chainbench/internal/endpoint"
	"github.com/gateway-fm/chainbench/internal/ethadapter"
	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/nonce"
	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/scheduler"
	"github.com/gateway-fm/chainbench/internal/storage"
	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/internal/transport"
)

// blockNumberCheck probes one RPC endpoint for readiness reporting.
type blockNumberCheck struct {
	name   string
	client rpc.Client
}

func (c *blockNumberCheck) Name() string { return c.name }

func (c *blockNumberCheck) Check(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

func main() {
	cfg, runCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	if cfg.Retention > 0 {
		if removed, err := store.Prune(context.Background(), cfg.Retention); err != nil {
			logger.Warn("failed to prune run history", "error", err)
		} else if removed > 0 {
			logger.Info("pruned run history", "removed", removed, "retention", cfg.Retention.String())
		}
	}

	pool, err := endpoint.New(endpoint.Config{
		URLs:            cfg.RPCURLs,
		ProbesPerSecond: cfg.ProbesPerSecond,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create endpoint pool", "error", err)
		os.Exit(1)
	}

	// Sequence seeding and readiness checks go through dedicated clients
	// so they never compete with the pool's priority ordering.
	seedClient := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURLs[0]))
	var checks []transport.HealthChecker
	for _, url := range cfg.RPCURLs {
		checks = append(checks, &blockNumberCheck{
			name:   url,
			client: rpc.NewHTTPClient(rpc.DefaultClientConfig(url)),
		})
	}

	keystore, err := buildKeystore(cfg)
	if err != nil {
		logger.Error("failed to load sender keys", "error", err)
		os.Exit(1)
	}
	accounts := keystore.Addresses()
	logger.Info("loaded sender accounts", "count", len(accounts))

	recipient := cfg.Recipient
	if recipient == "" {
		recipient = accounts[0]
	}

	adapter, err := ethadapter.New(ethadapter.Config{
		ChainID:   big.NewInt(cfg.ChainID),
		Keystore:  keystore,
		Recipient: common.HexToAddress(recipient),
		Gas:       cfg.GasPolicy(),
	})
	if err != nil {
		logger.Error("failed to create transaction adapter", "error", err)
		os.Exit(1)
	}

	alloc := nonce.NewAllocator(seedClient, logger)

	prom := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	sub := submitter.New(submitter.Config{
		Pool:           pool,
		Alloc:          alloc,
		Adapter:        adapter,
		MaxAttempts:    cfg.MaxAttempts,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Gas:            cfg.GasPolicy(),
		Prom:           prom,
		Logger:         logger,
	})

	sched, err := scheduler.New(scheduler.Config{
		Submitter: sub,
		Seeder:    alloc,
		Accounts:  accounts,
		Prom:      prom,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	server := transport.NewServer(sched, store, checks, logger, cfg.CORSAllowedOrigins)
	sched.AddListener(server.Events())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The API is served in every mode so a run in progress is observable.
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	if runCfg == nil {
		logger.Info("serving", "network", cfg.Network, "endpoints", len(cfg.RPCURLs))
		<-ctx.Done()
		logger.Info("shutting down")
		server.Events().Stop()
		return
	}

	logBalances(ctx, seedClient, accounts, logger)

	if runCfg.Diagnose {
		runDiagnose(ctx, cfg, runCfg, sub, alloc, accounts, logger)
		return
	}

	// Background reconciliation keeps local sequence counters aligned with
	// the network while the run dispatches.
	go alloc.Run(ctx, 10*time.Second)

	summary, err := sched.Run(ctx, cfg.RunConfig(runCfg))
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	if err := store.SaveRun(context.Background(), summary); err != nil {
		logger.Error("failed to persist run summary", "error", err, "runId", summary.RunID)
	}

	printJSON(summary)
	logger.Info("run complete",
		"runId", summary.RunID,
		"accepted", summary.Accepted,
		"failed", summary.Failed,
		"throughputTps", summary.ThroughputTPS,
	)
}

func runDiagnose(ctx context.Context, cfg *config.Config, runCfg *config.RunCLIConfig,
	sub *submitter.Submitter, alloc *nonce.Allocator, accounts []string, logger *slog.Logger) {

	if err := alloc.SeedAll(ctx, accounts); err != nil {
		logger.Error("failed to seed account sequences", "error", err)
		os.Exit(1)
	}

	probe, err := diagnose.New(diagnose.Config{
		Submitter: sub,
		Accounts:  accounts,
		Network:   cfg.Network,
		Operation: runCfg.Operation,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create diagnostic probe", "error", err)
		os.Exit(1)
	}

	report, err := probe.Run(ctx)
	if err != nil {
		logger.Error("diagnostic probe failed", "error", err)
		os.Exit(1)
	}

	printJSON(report)
}

// logBalances reports each sender's funds before a run so an empty
// account is visible up front instead of as a wall of failures.
func logBalances(ctx context.Context, client rpc.Client, accounts []string, logger *slog.Logger) {
	for _, addr := range accounts {
		bal, err := client.Balance(ctx, addr)
		if err != nil {
			logger.Warn("failed to query balance", "account", addr, "error", err)
			continue
		}
		if bal.Sign() == 0 {
			logger.Warn("account has zero balance", "account", addr)
			continue
		}
		logger.Debug("account balance", "account", addr, "wei", bal.String())
	}
}

func buildKeystore(cfg *config.Config) (*ethadapter.Keystore, error) {
	if len(cfg.PrivateKeys) == 0 {
		return ethadapter.NewTestKeystore()
	}

	ks := ethadapter.NewKeystore()
	for _, hexKey := range cfg.PrivateKeys {
		if _, err := ks.AddHex(hexKey); err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
	}
	return ks, nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}
