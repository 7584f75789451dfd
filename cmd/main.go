package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lock-points-system/internal/blockchain"
	"lock-points-system/internal/config"
	"lock-points-system/internal/handler"
	"lock-points-system/internal/metrics"
	"lock-points-system/internal/models"
	"lock-points-system/internal/oracle"
	"lock-points-system/internal/points"
	"lock-points-system/internal/repository"
	"lock-points-system/internal/scheduler"
	"lock-points-system/internal/service"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer closeDatabase(db)

	if cfg.Database.AutoMigrate {
		if err := models.AutoMigrate(db); err != nil {
			logger.Fatal("Failed to migrate database:", err)
		}
	}

	client, err := blockchain.NewClient(&cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to create blockchain client:", err)
	}
	defer client.Close()

	lockRepo := repository.NewLockPointsRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	runRepo := repository.NewRunRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	backupRepo := repository.NewBackupRepository(db)

	m := metrics.Get()
	priceOracle := oracle.NewCoinGecko(&cfg.Price)
	calc := points.NewCalculator(&cfg.Points)

	pointsSvc := service.NewPointsService(priceOracle, calc, lockRepo, pointsRepo, m)
	backfillSvc := service.NewBackfillService(client, priceOracle, calc, lockRepo, pointsRepo, runRepo, m)
	recoverySvc := service.NewRecoveryService(lockRepo, pointsRepo, backupRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := handler.NewHub()
	go hub.Run(ctx)
	pointsSvc.SetNotifier(hub)
	backfillSvc.SetNotifier(hub)

	if cfg.Chain.WatchEnabled {
		go startLockWatcher(ctx, &cfg.Chain, client, blockRepo, backfillSvc)
	}

	pointsScheduler := scheduler.NewPointsScheduler(backfillSvc, cfg.Points.BackfillCron)
	if err := pointsScheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler:", err)
	}
	defer pointsScheduler.Stop()

	router := handler.NewRouter(handler.Handlers{
		Points:    handler.NewPointsHandler(pointsSvc),
		Backfill:  handler.NewBackfillHandler(backfillSvc),
		Reconcile: handler.NewReconcileHandler(recoverySvc),
		Hub:       hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error:", err)
	}

	logger.Info("Server stopped")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		dialector = mysql.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.New(errors.ErrDatabaseConnect, "连接数据库失败", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}

// startLockWatcher 监听新锁仓事件，只为事件所属用户补记积分
func startLockWatcher(ctx context.Context, chainCfg *config.ChainConfig, client *blockchain.Client, blockRepo *repository.BlockRepository, backfillSvc *service.BackfillService) {
	watcher := blockchain.NewLockWatcher(chainCfg, client, blockRepo)
	defer watcher.Stop()
	go watcher.Start(ctx)

	logger.WithFields(map[string]interface{}{
		"chain":    chainCfg.Name,
		"contract": chainCfg.ContractAddress,
	}).Info("启动锁仓监听器")

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-watcher.Events():
			stats := backfillSvc.ScoreOwner(ctx, event.Owner)
			logger.WithFields(map[string]interface{}{
				"user_address": blockchain.NormalizeAddress(event.Owner),
				"tx_hash":      event.TxHash,
				"processed":    stats.Processed,
				"errors":       stats.Errors,
			}).Info("新锁仓已计分")
		}
	}
}
