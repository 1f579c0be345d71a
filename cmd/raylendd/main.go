package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"raylend/config"
	"raylend/native/flashliq"
	"raylend/native/ledger"
	"raylend/native/lending"
	"raylend/native/oracle"
	"raylend/observability/logging"
	"raylend/observability/metrics"
	"raylend/observability/otel"
	"raylend/rpc"
	"raylend/state"
	"raylend/storage"
)

const (
	commitInterval = 30 * time.Second
	// routerSpreadBps is the fill spread of the built-in oracle swap venue.
	routerSpreadBps = 30
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "./config.toml", "path to the raylendd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("raylendd", cfg.Telemetry.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "raylendd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown", "err", err)
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	store := state.NewStore(db)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	vault := common.HexToAddress(cfg.VaultAddress)
	admin := common.HexToAddress(cfg.AdminAddress)
	tokens := ledger.New()
	prices := oracle.New(admin)

	pool := lending.NewPool(vault, admin)
	pool.SetState(store)
	pool.SetLedger(tokens)
	pool.SetOracle(prices)
	pool.SetMetrics(metrics.Lending())
	pool.SetCloseFactor(cfg.CloseFactorBps)

	for i := range cfg.Reserves {
		reserve, err := cfg.Reserves[i].Reserve()
		if err != nil {
			return err
		}
		if err := pool.ListReserve(admin, reserve); err != nil {
			// Reserves already present in persisted state stay as they are.
			if errors.Is(err, lending.ErrInconsistentParams) {
				continue
			}
			return fmt.Errorf("list reserve %s: %w", reserve.Asset.Hex(), err)
		}
		logger.Info("reserve listed", "asset", reserve.Asset.Hex())
	}

	provider := flashliq.NewProvider(tokens, flashliq.TreasuryAddress)
	provider.SetLogger(logger)

	orch := flashliq.NewOrchestrator(flashliq.ModuleAddress, provider.Address())
	orch.SetPool(pool)
	orch.SetLedger(tokens)
	orch.SetOracle(prices)
	orch.SetRouter(flashliq.NewOracleRouter(tokens, prices, pool, routerSpreadBps))
	orch.SetState(store)
	orch.SetLogger(logger)
	orch.SetMetrics(metrics.FlashLiq())

	server := rpc.NewServer(pool, logger, rpc.Config{
		RequestsPerSecond: cfg.RateLimitPerSecond,
		Burst:             cfg.RateLimitBurst,
	})
	server.SetFlash(provider, orch)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress, "network", cfg.NetworkName)
		serveErr <- httpServer.ListenAndServe()
	}()

	go func() {
		ticker := time.NewTicker(commitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.Commit(); err != nil {
					logger.Error("state commit", "err", err)
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown", "err", err)
	}
	if err := store.Commit(); err != nil {
		return fmt.Errorf("final state commit: %w", err)
	}
	logger.Info("state committed, exiting")
	return nil
}
