package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/enrollment-admission-api/api/swagger"
	"github.com/noah-isme/enrollment-admission-api/internal/handler"
	internalmiddleware "github.com/noah-isme/enrollment-admission-api/internal/middleware"
	"github.com/noah-isme/enrollment-admission-api/internal/models"
	"github.com/noah-isme/enrollment-admission-api/internal/repository"
	"github.com/noah-isme/enrollment-admission-api/internal/service"
	"github.com/noah-isme/enrollment-admission-api/pkg/cache"
	"github.com/noah-isme/enrollment-admission-api/pkg/config"
	"github.com/noah-isme/enrollment-admission-api/pkg/database"
	"github.com/noah-isme/enrollment-admission-api/pkg/jobs"
	"github.com/noah-isme/enrollment-admission-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/enrollment-admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/enrollment-admission-api/pkg/middleware/requestid"
)

// @title Enrollment Admission API
// @version 1.0.0
// @description Course enrollment admission with ordered waitlists and an audit trail.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied")
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, history cache disabled", zap.Error(err))
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, "enrollment_history", logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.History.CacheTTL, logr, cfg.History.CacheEnabled && cacheRepo.Enabled())

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	historyRepo := repository.NewEnrollmentHistoryRepository(db)

	var historyOpts []service.EnrollmentHistoryOption
	if cfg.History.AsyncInvalidation && cacheSvc.Enabled() {
		invalidator := jobs.NewCoalescer("history-cache", cacheRepo.Invalidate, jobs.CoalescerConfig{
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
			Logger:     logr,
		})
		invalidator.Start(context.Background())
		defer invalidator.Stop()
		historyOpts = append(historyOpts, service.WithCacheInvalidator(invalidator))
	}
	historySvc := service.NewEnrollmentHistoryService(historyRepo, cacheSvc, validate, logr, service.EnrollmentHistoryConfig{
		CacheTTL:      cfg.History.CacheTTL,
		ExportMaxRows: cfg.History.ExportMaxRows,
	}, historyOpts...)
	admissionSvc := service.NewAdmissionService(db, enrollmentRepo, courseRepo, historySvc, metricsSvc, validate, logr, service.AdmissionConfig{
		EnforceCapacityOnApprove: cfg.Admission.EnforceCapacityOnApprove,
		VerifyWaitlist:           cfg.Admission.VerifyWaitlist,
		LockTimeout:              cfg.Admission.LockTimeout,
		RetryOnConflict:          cfg.Admission.RetryOnConflict,
	})
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	enrollmentHandler := handler.NewEnrollmentHandler(admissionSvc, historySvc)
	historyHandler := handler.NewEnrollmentHistoryHandler(historySvc)
	checks := map[string]handler.Pinger{"postgres": db}
	if cacheRepo.Enabled() {
		checks["redis"] = handler.PingerFunc(cacheRepo.Ping)
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	readers := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc))

	enrollments := api.Group("/enrollments")
	enrollments.GET("", readers, enrollmentHandler.List)
	enrollments.POST("", enrollmentHandler.Request)
	enrollments.GET("/:id", readers, enrollmentHandler.Get)
	enrollments.GET("/:id/history", readers, enrollmentHandler.History)
	enrollments.POST("/:id/approve", staff, enrollmentHandler.Approve)
	enrollments.POST("/:id/deny", staff, enrollmentHandler.Deny)
	enrollments.POST("/:id/waitlist", staff, enrollmentHandler.Waitlist)
	enrollments.PUT("/:id/waitlist-position", staff, enrollmentHandler.UpdateWaitlistPosition)
	enrollments.POST("/:id/waitlist/up", staff, enrollmentHandler.MoveUp)
	enrollments.POST("/:id/waitlist/down", staff, enrollmentHandler.MoveDown)

	history := api.Group("/enrollment-history", staff)
	history.GET("", historyHandler.List)
	history.GET("/export", historyHandler.Export)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
