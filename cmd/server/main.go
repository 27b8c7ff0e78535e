package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ertvault/ertvault/internal/adapter"
	"github.com/ertvault/ertvault/internal/breaker"
	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/handler"
	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/oracle"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/policy"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ertvault/ertvault/internal/repository"
	"github.com/ertvault/ertvault/internal/service"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ertvault/ertvault/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Persistence: Redis > Memory for breaker state and idempotency.
	var (
		lossStore        breaker.LossStore
		idempotencyStore middleware.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			lossStore = repository.NewRedisLossStore(redisClient)
			idempotencyStore = repository.NewRedisIdempotencyStore(redisClient,
				time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if idempotencyStore == nil {
		idempotencyStore = middleware.NewInMemIdempotencyStore()
	}

	// Persistence: Postgres > in-memory for settlement history and audit.
	var (
		settlementRepo *repository.PostgresSettlementRepo
		auditRepo      service.AuditRepo
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			settlementRepo = repository.NewPostgresSettlementRepo(db)
			auditRepo = repository.NewPostgresAuditRepo(db)
		} else {
			logger.Error("⚠️ Failed to connect to DB, history will be memory-only", "error", err)
		}
	}

	// Core engine.
	util, err := policy.NewUtilizationController(cfg.Vault.MaxUtilizationBps)
	if err != nil {
		log.Fatalf("Invalid utilization config: %v", err)
	}
	exposure, err := policy.NewExposureManager(cfg.Vault.MaxSingleAssetBps)
	if err != nil {
		log.Fatalf("Invalid exposure config: %v", err)
	}
	cb := breaker.New(cfg.Breaker.MaxDailyLossBps, lossStore)

	rep, err := reputation.NewManager(cfg.Tiers)
	if err != nil {
		log.Fatalf("Invalid tier config: %v", err)
	}

	pool := vault.New(cfg.Vault.InitialAssets, util, exposure, cb)
	reg := registry.New(rep, cb,
		time.Duration(cfg.Rights.MinDurationSeconds)*time.Second,
		time.Duration(cfg.Rights.MaxDurationSeconds)*time.Second)

	fund := settlement.NewInsuranceFund(0)
	engine := settlement.NewEngine(reg, pool, fund, cb, historyOrNil(settlementRepo),
		cfg.Settlement.InsuranceFeeBps, cfg.Settlement.LossToleranceBps)

	// Oracle feed drives mark-to-market; without a URL marks arrive only
	// through SetMark.
	feed := oracle.NewFeed(cfg.Oracle.URL, cfg.Oracle.Assets)
	if cfg.Oracle.URL != "" {
		feed.Start()
	}

	alloc := service.NewAllocator(reg, pool, feed, map[string]adapter.CapabilityAdapter{})
	engine.WithPositionCloser(alloc)

	executors := service.NewExecutorManager(cfg, rep)

	auditSvc, err := service.NewAuditService("./logs", auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	sweeper := service.NewExpirySweeper(reg, engine, time.Duration(cfg.Rights.SweepIntervalSeconds)*time.Second)
	sweeper.Start()

	if settlementRepo != nil {
		go runRetention(cfg, settlementRepo, auditRepo)
	}

	// Handlers.
	rightsHandler := handler.NewRightsHandler(reg, engine, alloc)
	vaultHandler := handler.NewVaultHandler(pool, reg, fund)
	adminHandler := handler.NewAdminHandler(rep, cb, util, exposure, fund)
	historyHandler := handler.NewHistoryHandler(listerOrNil(settlementRepo), auditSvc)

	// Router.
	r := gin.Default()

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware(auditSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "ertvault"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, executors))
	v1.Use(middleware.RateLimitMiddleware(executors))
	v1.Use(middleware.IdempotencyMiddleware(idempotencyStore))
	{
		v1.POST("/rights", rightsHandler.Mint)
		v1.GET("/rights/:id", rightsHandler.Get)
		v1.GET("/rights/:id/valid", rightsHandler.Valid)
		v1.GET("/rights/:id/positions", rightsHandler.Positions)
		v1.POST("/rights/:id/draw", rightsHandler.Draw)
		v1.POST("/rights/:id/unwind", rightsHandler.Unwind)
		v1.POST("/rights/:id/force-settle", rightsHandler.ForceSettle)
		v1.POST("/rights/:id/expire", rightsHandler.Expire)
		v1.GET("/executors/:address/rights", rightsHandler.ActiveByExecutor)

		v1.GET("/vault", vaultHandler.Status)
		v1.GET("/vault/expiries", vaultHandler.Expiries)
		v1.GET("/insurance", vaultHandler.Insurance)
	}

	// Admin-keyed endpoints outside the executor auth chain: the
	// settlement authority, the LP deposit/withdraw facade and the
	// history views.
	r.POST("/v1/rights/:id/settle", middleware.AdminMiddleware(cfg), rightsHandler.Settle)
	r.POST("/v1/vault/deposit", middleware.AdminMiddleware(cfg), vaultHandler.Deposit)
	r.POST("/v1/vault/withdraw", middleware.AdminMiddleware(cfg), vaultHandler.Withdraw)
	r.GET("/v1/settlements", middleware.AdminMiddleware(cfg), historyHandler.Settlements)

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.PUT("/executors/:address/tier", adminHandler.SetTier)
		admin.POST("/executors/:address/ban", adminHandler.Ban)
		admin.GET("/executors/:address", adminHandler.GetReputation)
		admin.GET("/tiers", adminHandler.Tiers)

		admin.GET("/breaker", adminHandler.BreakerStatus)
		admin.POST("/breaker/pause", adminHandler.Pause)
		admin.POST("/breaker/clear", adminHandler.Clear)

		admin.PUT("/policy/utilization", adminHandler.SetUtilizationCap)
		admin.PUT("/policy/exposure", adminHandler.SetExposureCap)

		admin.POST("/insurance/withdraw", adminHandler.InsuranceWithdraw)
		admin.GET("/audit", historyHandler.Audit)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 ERTVault started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sweeper.Stop()
	feed.Stop()
	auditSvc.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

// historyOrNil avoids handing the engine a typed nil behind an
// interface.
func historyOrNil(repo *repository.PostgresSettlementRepo) settlement.HistoryRepo {
	if repo == nil {
		return nil
	}
	return repo
}

func listerOrNil(repo *repository.PostgresSettlementRepo) handler.SettlementLister {
	if repo == nil {
		return nil
	}
	return repo
}

// runRetention prunes old history rows once a day per the configured
// retention windows.
func runRetention(cfg *config.Config, settlements *repository.PostgresSettlementRepo, audit service.AuditRepo) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := settlements.Cleanup(ctx, time.Duration(cfg.Database.HistoryRetentionDays)*24*time.Hour); err != nil {
			logger.Error("settlement history cleanup failed", "error", err)
		}
		if pgAudit, ok := audit.(*repository.PostgresAuditRepo); ok {
			if err := pgAudit.Cleanup(ctx, time.Duration(cfg.Database.AuditRetentionDays)*24*time.Hour); err != nil {
				logger.Error("audit cleanup failed", "error", err)
			}
		}
		cancel()
	}
}
