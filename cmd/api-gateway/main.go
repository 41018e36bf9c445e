package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/feste-api/api/swagger"
	"github.com/noah-isme/feste-api/internal/handler"
	"github.com/noah-isme/feste-api/internal/middleware"
	"github.com/noah-isme/feste-api/internal/repository"
	"github.com/noah-isme/feste-api/internal/service"
	"github.com/noah-isme/feste-api/pkg/cache"
	"github.com/noah-isme/feste-api/pkg/config"
	"github.com/noah-isme/feste-api/pkg/database"
	"github.com/noah-isme/feste-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/feste-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/feste-api/pkg/middleware/requestid"
)

// @title Feste API
// @version 1.0.0
// @description Community events administration API
// @BasePath /api/v1
// @schemes http https

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

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(database.URL(cfg.Database)); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
		logr.Info("migrations applied")
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Dashboard.CacheEnabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, "feste", logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cacheRepo != nil)

	policy, err := service.NewPrivilegePolicy(cfg.Admin)
	if err != nil {
		logr.Fatal("invalid privilege policy", zap.Error(err))
	}
	logr.Info("admin privilege policy selected", zap.String("policy", policy.Name()))

	validate := validator.New()
	identities := repository.NewIdentityRepository(db)
	events := repository.NewEventRepository(db)
	participations := repository.NewParticipationRepository(db)
	notificationsRepo := repository.NewNotificationRepository(db)

	authSvc := service.NewAuthService(identities, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	guard := service.NewAccessGuard(authSvc, identities, policy, metrics, logr)
	adminSvc := service.NewAdminService(identities, policy, validate, metrics, logr, cfg.Admin.UsersPageSize)
	eventSvc := service.NewEventService(events, identities, cacheSvc, validate, metrics, logr)
	notificationSvc := service.NewNotificationService(notificationsRepo, service.NotificationConfig{
		Workers: cfg.Notifications.Workers,
		Retries: cfg.Notifications.Retries,
	}, metrics, logr)
	participationSvc := service.NewParticipationService(participations, events, identities, notificationSvc, cacheSvc, validate, metrics, logr)
	dashboardSvc := service.NewDashboardService(events, identities, participations, cacheSvc, cfg.Dashboard.CacheTTL, metrics, logr)
	exportSvc := service.NewExportService(events, participations, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:            handler.NewAuthHandler(authSvc, cfg.Env == config.EnvProduction),
		Admin:           handler.NewAdminHandler(guard, adminSvc),
		Events:          handler.NewEventHandler(eventSvc, exportSvc),
		Participations:  handler.NewParticipationHandler(participationSvc),
		Notifications:   handler.NewNotificationHandler(notificationSvc),
		Dashboard:       handler.NewDashboardHandler(dashboardSvc),
		Session:         middleware.Session(authSvc),
		OptionalSession: middleware.OptionalSession(authSvc),
		RequireAdmin:    middleware.RequireAdmin(guard),
		AuthLimiter:     middleware.NewRateLimiter(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst).Middleware(),
	}.Register(r.Group(cfg.APIPrefix))

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
