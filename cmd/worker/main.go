// Package main provides the background worker entry point for the claim
// pipeline service. It runs the reconciliation sweeper and the batch
// mint scheduler without the HTTP API, so reconciliation can be scaled
// and deployed separately from request serving.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claim-pipeline/internal/config"
	"github.com/claim-pipeline/internal/ledger"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/service"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/worker"
)

func main() {
	fmt.Println("Claim Pipeline Worker")
	log.Println("Worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()

	// Initialize database connections
	log.Println("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// ClickHouse event journaling is optional
	var eventLog storage.ClaimEventLog = storage.NewNoopEventLog()
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			log.Fatalf("Failed to connect to ClickHouse: %v", err)
		}
		defer clickhouse.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := clickhouse.EnsureEventSchema(schemaCtx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure ClickHouse event schema: %v", err)
		}
		cancel()

		eventLog = storage.NewClickHouseEventLog(clickhouse, logger)
	}

	log.Println("Database connections established")

	// Initialize chain gateway
	log.Println("Initializing chain gateway...")

	provider, err := ledger.NewRPCProvider(cfg.Ledger.RPCPrimary, cfg.Ledger.RPCSecondary)
	if err != nil {
		log.Fatalf("Failed to create RPC provider: %v", err)
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
		log.Fatalf("Failed to create chain gateway: %v", err)
	}
	defer gateway.Close()

	log.Printf("Chain gateway initialized (chain %d, operator %s)", cfg.Ledger.ChainID, gateway.Operator())

	// Initialize repositories and services
	claimRepo := storage.NewClaimRepository(postgres)
	bonusRepo := storage.NewReferralBonusRepository(postgres)
	claimCache := storage.NewClaimStatusCache(redis, cfg.Claim.CacheTTL, logger)
	bonusService := service.NewBonusService(bonusRepo, gateway, eventLog, cfg.Bonus, logger)

	// Initialize workers
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
		log.Fatalf("Failed to create reconciliation sweeper: %v", err)
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
		log.Fatalf("Failed to create batch scheduler: %v", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if err := sweeper.Start(workerCtx); err != nil {
		log.Fatalf("Failed to start reconciliation sweeper: %v", err)
	}
	if err := scheduler.Start(workerCtx); err != nil {
		log.Fatalf("Failed to start batch scheduler: %v", err)
	}

	log.Printf("Worker running (sweep every %s, batch every %s)", cfg.Claim.SweepInterval, cfg.Claim.BatchInterval)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()

	if err := scheduler.Stop(stopCtx); err != nil {
		log.Printf("Batch scheduler did not stop cleanly: %v", err)
	}
	if err := sweeper.Stop(stopCtx); err != nil {
		log.Printf("Sweeper did not stop cleanly: %v", err)
	}

	log.Println("Worker exited")
}
