// Package main provides the API server entry point for the claim pipeline service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/claim-pipeline/internal/api"
	"github.com/claim-pipeline/internal/config"
	"github.com/claim-pipeline/internal/ledger"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/service"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/worker"
)

func main() {
	fmt.Println("Claim Pipeline API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// The ClickHouse event log is optional; without it state transitions
	// are simply not journaled
	var eventLog storage.ClaimEventLog = storage.NewNoopEventLog()
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := clickhouse.EnsureEventSchema(schemaCtx); err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to ensure ClickHouse event schema")
		}
		cancel()

		eventLog = storage.NewClickHouseEventLog(clickhouse, logger)
		logger.Info("ClickHouse event log enabled")
	}

	logger.Info("Database connections established")

	// Initialize chain gateway
	logger.Info("Initializing chain gateway...")

	provider, err := ledger.NewRPCProvider(cfg.Ledger.RPCPrimary, cfg.Ledger.RPCSecondary)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create RPC provider")
	}

	gateway, err := ledger.NewEthereumGateway(&ledger.EthereumGatewayConfig{
		Provider:        provider,
		ChainID:         cfg.Ledger.ChainID,
		TokenContract:   cfg.Ledger.TokenContract,
		OperatorKey:     cfg.Ledger.OperatorKey,
		RPCRatePerSec:   cfg.Ledger.RPCRatePerSec,
		GasLimitSingle:  cfg.Ledger.GasLimitSingle,
		GasLimitPerMint: cfg.Ledger.GasLimitPerMint,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain gateway")
	}
	defer gateway.Close()

	// Probe the chain so a dead RPC endpoint surfaces at startup rather
	// than on the first claim
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), cfg.Ledger.RequestTimeout)
	if _, err := gateway.BalanceOf(probeCtx, gateway.Operator()); err != nil {
		logger.WithError(err).Warn("Chain probe failed, continuing with degraded connectivity")
	}
	cancelProbe()

	logger.WithFields(map[string]interface{}{
		"chain_id": cfg.Ledger.ChainID,
		"contract": cfg.Ledger.TokenContract,
		"operator": gateway.Operator(),
	}).Info("Chain gateway initialized")

	// Initialize repositories
	claimRepo := storage.NewClaimRepository(postgres)
	bonusRepo := storage.NewReferralBonusRepository(postgres)

	// Initialize status cache
	claimCache := storage.NewClaimStatusCache(redis, cfg.Claim.CacheTTL, logger)

	// Initialize services
	logger.Info("Initializing services...")

	bonusService := service.NewBonusService(bonusRepo, gateway, eventLog, cfg.Bonus, logger)

	claimService := service.NewClaimService(
		claimRepo,
		gateway,
		bonusService,
		claimCache,
		eventLog,
		clockwork.NewRealClock(),
		service.ClaimServiceConfig{
			SubmitWait:          cfg.Claim.SubmitWait,
			ReceiptPollInterval: 5 * time.Second,
			ReceiptPollBudget:   cfg.Claim.TimeoutWindow,
			SkipBalanceCheck:    cfg.Claim.SkipBalanceCheck,
		},
		logger,
	)

	// Initialize background workers
	sweeper, err := worker.NewReconciliationSweeper(&worker.SweeperConfig{
		Store:         claimRepo,
		Receipts:      gateway,
		Bonus:         bonusService,
		Events:        eventLog,
		Cache:         claimCache,
		TimeoutWindow: cfg.Claim.TimeoutWindow,
		SweepInterval: cfg.Claim.SweepInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create reconciliation sweeper")
	}

	scheduler, err := worker.NewBatchScheduler(&worker.BatchSchedulerConfig{
		Store:            claimRepo,
		Gateway:          gateway,
		Events:           eventLog,
		Cache:            claimCache,
		BatchSize:        cfg.Claim.BatchSize,
		Interval:         cfg.Claim.BatchInterval,
		SkipBalanceCheck: cfg.Claim.SkipBalanceCheck,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create batch scheduler")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if err := sweeper.Start(workerCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start reconciliation sweeper")
	}
	if err := scheduler.Start(workerCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start batch scheduler")
	}

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  cfg.Server.RequestsPerSec,
	}

	server := api.NewServer(serverConfig, claimService, sweeper, scheduler)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Workers first so no new submissions race the HTTP drain
	if err := scheduler.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Batch scheduler did not stop cleanly")
	}
	if err := sweeper.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Sweeper did not stop cleanly")
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
