package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/api/rest"
	"github.com/titanx-dash/holder-api/internal/api/server"
	"github.com/titanx-dash/holder-api/internal/cache"
	"github.com/titanx-dash/holder-api/internal/chain"
	"github.com/titanx-dash/holder-api/internal/config"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/populator"
	"github.com/titanx-dash/holder-api/internal/providers/alchemy"
	"github.com/titanx-dash/holder-api/internal/registry"
	"github.com/titanx-dash/holder-api/internal/retry"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "holder-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting TitanX holder API")

	// Initialize adapters
	fs := adapter.NewFileSystem()
	clock := adapter.NewClock()

	// Load contract registry
	reg, err := registry.Load(fs, cfg.RegistryPath)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to load contract registry",
			zap.Error(err), zap.String("path", cfg.RegistryPath))
	}
	logger.InfoCtx(ctx, "Loaded contract registry",
		zap.String("path", cfg.RegistryPath),
		zap.Int("contracts", len(reg.All())))

	// Connect to redis; a dead redis degrades to filesystem-only caching
	var kv adapter.KVClient
	if cfg.Redis.Enabled {
		kv = adapter.NewKVClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := kv.Ping(ctx); err != nil {
			logger.WarnCtx(ctx, "Redis unreachable, running filesystem-only",
				zap.Error(err), zap.String("addr", cfg.Redis.Addr))
			_ = kv.Close()
			kv = nil
		} else {
			defer func() { _ = kv.Close() }()
			logger.InfoCtx(ctx, "Connected to redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// Dial the Ethereum RPC endpoint
	eth, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err))
	}
	defer eth.Close()
	logger.InfoCtx(ctx, "Connected to Ethereum RPC")

	// Build the cache tiers
	store := cache.NewStore(kv, fs, cache.StoreConfig{
		Dir:              cfg.Cache.Dir,
		RedisTTL:         cfg.Redis.TTL,
		DisabledPrefixes: cfg.Redis.DisabledPrefixes,
	})
	tracker := cache.NewStateTracker(store, clock)

	// Build the chain readers
	caller := chain.NewCaller(eth, clock,
		common.HexToAddress(cfg.Ethereum.MulticallAddress),
		chain.CallerConfig{
			BatchSize:   cfg.Ethereum.BatchSize,
			Concurrency: cfg.Ethereum.BatchConcurrency,
			SlotDelay:   cfg.Ethereum.BatchSlotDelay,
		})
	events := chain.NewEventFetcher(eth, clock, chain.FetcherConfig{
		RangeSize:    cfg.Ethereum.LogRangeSize,
		MinRangeSize: cfg.Ethereum.MinLogRangeSize,
		Concurrency:  cfg.Ethereum.LogRangeConcurrency,
	})

	// Build the owner enumerator
	owners := alchemy.NewClient(alchemy.Config{
		BaseURL: cfg.Indexer.BaseURL,
		APIKey:  cfg.Indexer.APIKey,
		Timeout: cfg.Indexer.Timeout,
		RetryOpts: retry.Options{
			Retries: cfg.Indexer.Retries,
			Delay:   cfg.Indexer.RetryDelay,
			Backoff: true,
		},
	}, adapter.NewHTTPClient(cfg.Indexer.Timeout))

	// Build the populator and clear any run a previous process left behind
	pop := populator.New(reg, owners, caller, events, eth, store, tracker, clock,
		populator.Config{StaleAfter: cfg.Cache.StaleAfter})
	pop.ResetInterrupted(ctx)

	// Create and start server
	handler := rest.NewHandler(reg, store, tracker, pop, cfg.Cache.StaleAfter)
	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
