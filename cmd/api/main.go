package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/opsmon-dev/cmo-ops-api/api/swagger"
	"github.com/opsmon-dev/cmo-ops-api/internal/handler"
	"github.com/opsmon-dev/cmo-ops-api/internal/repository"
	"github.com/opsmon-dev/cmo-ops-api/internal/router"
	"github.com/opsmon-dev/cmo-ops-api/internal/service"
	"github.com/opsmon-dev/cmo-ops-api/pkg/cache"
	"github.com/opsmon-dev/cmo-ops-api/pkg/config"
	"github.com/opsmon-dev/cmo-ops-api/pkg/database"
	"github.com/opsmon-dev/cmo-ops-api/pkg/jobs"
	"github.com/opsmon-dev/cmo-ops-api/pkg/logger"
	"github.com/opsmon-dev/cmo-ops-api/pkg/storage"
)

// @title CMO Operations API
// @version 1.0.0
// @description Monitoring center operations backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	handoffRepo := repository.NewHandoffRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	detectionRepo := repository.NewDetectionRepository(db)
	maintenanceRepo := repository.NewMaintenanceRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)

	metrics := service.NewMetricsService()

	var cacheService *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, true)
	}

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "cmo-ops-api",
	})
	userService := service.NewUserService(userRepo, validate, logr)
	handoffService := service.NewHandoffService(handoffRepo, userRepo, validate, logr)
	reviewService := service.NewReviewService(reviewRepo, validate, logr)
	detectionService := service.NewDetectionService(detectionRepo, validate, logr)

	evidenceStorage, err := storage.NewLocalStorage(cfg.Evidence.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init evidence storage", "error", err)
	}
	evidenceSigner := storage.NewSignedURLSigner(cfg.Evidence.SignedURLSecret, cfg.Evidence.SignedURLTTL)
	maintenanceService := service.NewMaintenanceService(maintenanceRepo, evidenceStorage, evidenceSigner, userRepo, validate, logr, service.MaintenanceServiceConfig{
		MaxFileSize:  cfg.Evidence.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Evidence.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})

	var dashboardService *service.DashboardService
	if cfg.Dashboard.Enabled {
		dashboardService = service.NewDashboardService(dashboardRepo, cacheService, logr, service.DashboardServiceConfig{
			CacheTTL: cfg.Dashboard.CacheTTL,
		})
	}

	var reportService *service.ReportService
	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		reportRepo := repository.NewReportRepository(db)
		reportStorage, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		reportSigner := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportService := service.NewExportService(service.ExportServiceParams{
			Reviews:     reviewRepo,
			Detections:  detectionRepo,
			Handoffs:    handoffRepo,
			Maintenance: maintenanceRepo,
			Storage:     reportStorage,
			Signer:      reportSigner,
			Logger:      logr,
			Config: service.ExportConfig{
				APIPrefix: cfg.APIPrefix,
				ResultTTL: cfg.Reports.SignedURLTTL,
			},
		})
		worker := service.NewReportWorker(reportRepo, exportService, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportService = service.NewReportService(reportRepo, reportQueue, exportService, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})

		reportQueue.Start(ctx)
		reportService.RecoverPendingJobs(ctx)
		reportService.StartCleanup(ctx)
	}

	var dashboardHandler *handler.DashboardHandler
	if dashboardService != nil {
		dashboardHandler = handler.NewDashboardHandler(dashboardService)
	}
	var reportHandler *handler.ReportHandler
	if reportService != nil {
		reportHandler = handler.NewReportHandler(reportService)
	}

	r := router.New(router.Params{
		Config:   cfg,
		Logger:   logr,
		Auth:     authService,
		Metrics:  metrics,
		UserRepo: userRepo,

		AuthHandler:        handler.NewAuthHandler(authService),
		UserHandler:        handler.NewUserHandler(userService),
		HandoffHandler:     handler.NewHandoffHandler(handoffService, dashboardService),
		ReviewHandler:      handler.NewReviewHandler(reviewService, dashboardService),
		DetectionHandler:   handler.NewDetectionHandler(detectionService, dashboardService),
		MaintenanceHandler: handler.NewMaintenanceHandler(maintenanceService, dashboardService),
		DashboardHandler:   dashboardHandler,
		ReportHandler:      reportHandler,
		MetricsHandler:     handler.NewMetricsHandler(metrics),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if reportQueue != nil {
		reportQueue.Stop()
	}
}
