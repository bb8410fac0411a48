package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/coaching-rank-api/api/swagger"
	"github.com/noah-isme/coaching-rank-api/internal/handler"
	internalmiddleware "github.com/noah-isme/coaching-rank-api/internal/middleware"
	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/repository"
	"github.com/noah-isme/coaching-rank-api/internal/service"
	"github.com/noah-isme/coaching-rank-api/pkg/cache"
	"github.com/noah-isme/coaching-rank-api/pkg/config"
	"github.com/noah-isme/coaching-rank-api/pkg/database"
	"github.com/noah-isme/coaching-rank-api/pkg/jobs"
	"github.com/noah-isme/coaching-rank-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/coaching-rank-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/coaching-rank-api/pkg/middleware/requestid"
	"github.com/noah-isme/coaching-rank-api/pkg/storage"
)

// @title Coaching Rank API
// @version 1.0.0
// @description Student performance tracking and ranking for coaching institutes
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const reportQueueName = "reports"

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			logr.Sugar().Fatalw("schema bootstrap failed", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, cfg.Cache.Enabled)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()
	metricsSvc.RegisterDB(db.DB, cfg.Database.Name)

	studentRepo := repository.NewStudentRepository(db)
	recordRepo := repository.NewExamRecordRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "coaching")

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.LeaderboardTTL, logr, redisClient != nil)
	rankingSvc := service.NewRankingService(studentRepo, recordRepo, cacheSvc, metricsSvc, logr)
	studentSvc := service.NewStudentService(studentRepo, recordRepo, rankingSvc, nil, logr)
	markSvc := service.NewMarkService(studentRepo, recordRepo, rankingSvc, nil, logr)
	bulkSvc := service.NewBulkUploadService(studentRepo, recordRepo, rankingSvc, metricsSvc, logr, cfg.BulkUpload.ErrorCap)
	dashboardSvc := service.NewDashboardService(studentRepo, cacheSvc, logr, service.DashboardServiceConfig{CacheTTL: cfg.Cache.LeaderboardTTL})
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "coaching-rank-api",
	})

	created, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		logr.Sugar().Fatalw("admin bootstrap failed", "error", err)
	}
	if created {
		logr.Sugar().Infow("administrator account created", "username", cfg.Admin.Username)
	}

	var (
		reportHandler *handler.ReportHandler
		reportQueue   *jobs.Queue
	)
	if cfg.Reports.Enabled {
		reportHandler, reportQueue, err = buildReports(ctx, cfg, studentRepo, recordRepo, db, logr)
		if err != nil {
			logr.Sugar().Fatalw("report pipeline init failed", "error", err)
		}
		defer reportQueue.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, markSvc)
	markHandler := handler.NewMarkHandler(markSvc, bulkSvc, cfg.BulkUpload.MaxBytes)
	rankingHandler := handler.NewRankingHandler(rankingSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(strings.TrimSuffix(cfg.APIPrefix, "/"))
	api.POST("/auth/login", authHandler.Login)
	downloadReport, generateReport, reportStatus := handler.ReportsDisabled, handler.ReportsDisabled, handler.ReportsDisabled
	if reportHandler != nil {
		downloadReport, generateReport, reportStatus = reportHandler.DownloadReport, reportHandler.GenerateReport, reportHandler.ReportStatus
	}
	api.GET("/export/:token", downloadReport)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc), internalmiddleware.RequireRoles(models.RoleAdmin))

	secured.GET("/auth/me", authHandler.Me)

	students := secured.Group("/students")
	students.GET("", studentHandler.List)
	students.POST("", studentHandler.Create)
	students.GET("/:id", studentHandler.Get)
	students.PUT("/:id", studentHandler.Update)
	students.DELETE("/:id", studentHandler.Delete)
	students.GET("/:id/performance", studentHandler.Performance)
	students.GET("/:id/marks", studentHandler.Marks)

	marks := secured.Group("/marks")
	marks.POST("", markHandler.Add)
	marks.POST("/bulk", markHandler.BulkUpload)
	marks.DELETE("/:id", markHandler.Delete)

	rankings := secured.Group("/rankings")
	rankings.GET("", rankingHandler.Leaderboard)
	rankings.GET("/distribution", rankingHandler.Distribution)
	rankings.GET("/preview", rankingHandler.Preview)
	rankings.POST("/recalculate", rankingHandler.Recalculate)

	secured.GET("/dashboard", dashboardHandler.Summary)
	secured.GET("/metrics/summary", metricsHandler.Snapshot)

	reports := secured.Group("/reports")
	reports.POST("", generateReport)
	reports.GET("/:id", reportStatus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
}

// buildReports wires the export pipeline: file storage, the worker queue and the HTTP handler.
func buildReports(ctx context.Context, cfg *config.Config, students *repository.StudentRepository, records *repository.ExamRecordRepository, db *sqlx.DB, logr *zap.Logger) (*handler.ReportHandler, *jobs.Queue, error) {
	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(students, records, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue(reportQueueName, worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnFailure: func(_ context.Context, job jobs.Job, err error) {
			logr.Warn("report job exhausted retries", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	queue.Start(ctx)

	reportSvc := service.NewReportService(reportRepo, queue, exportSvc, nil, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})
	if n := reportSvc.RecoverPendingJobs(ctx); n > 0 {
		logr.Sugar().Infow("requeued pending report jobs", "count", n)
	}
	reportSvc.StartCleanup(ctx)

	return handler.NewReportHandler(reportSvc, logr), queue, nil
}
