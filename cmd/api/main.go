package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/handler"
	"github.com/pierix/crm-api/internal/middleware"
	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/repository"
	"github.com/pierix/crm-api/internal/service"
	"github.com/pierix/crm-api/pkg/cache"
	"github.com/pierix/crm-api/pkg/config"
	"github.com/pierix/crm-api/pkg/database"
	"github.com/pierix/crm-api/pkg/export"
	"github.com/pierix/crm-api/pkg/jobs"
	"github.com/pierix/crm-api/pkg/logger"
	corsmiddleware "github.com/pierix/crm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pierix/crm-api/pkg/middleware/requestid"
	"github.com/pierix/crm-api/pkg/scheduler"
	"github.com/pierix/crm-api/pkg/storage"
)

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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	statsRepo := repository.NewStatisticsRepository(db)
	var cacheRepo *repository.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}

	// Services.
	codec, err := service.NewJWTService(cfg.JWT)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}
	metrics := service.NewMetricsService()
	tokenSvc := service.NewTokenService(tokenRepo, logr, cfg.Sessions.MaxPerUser, cfg.Sessions.PruneBatchSize)
	tokenSvc.SetMetrics(metrics)
	authSvc := service.NewAuthService(userRepo, tokenRepo, tokenSvc, codec, validate, logr)
	userSvc := service.NewUserService(userRepo, tokenSvc, validate, logr)

	var statsSvc *service.StatisticsService
	if cacheRepo != nil {
		statsSvc = service.NewStatisticsService(statsRepo, cacheRepo, cfg.Statistics, logr)
	} else {
		statsSvc = service.NewStatisticsService(statsRepo, nil, config.StatisticsConfig{}, logr)
	}

	customerSvc := service.NewCustomerService(customerRepo, statsSvc, logr)
	offerSvc := service.NewOfferService(offerRepo, customerRepo, statsSvc, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			return fmt.Errorf("init export storage: %w", err)
		}
		signer := storage.NewSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(offerRepo, customerRepo, export.NewOfferPDF(), store, signer, jobs.Options{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
		}, logr)
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	if err := userSvc.EnsureAdmin(ctx, cfg.Admin); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	// Background maintenance.
	sched := scheduler.New(logr)
	sched.Every(cfg.Sessions.PruneInterval, "token-prune", func(ctx context.Context) error {
		deleted, err := tokenSvc.PruneExpired(ctx)
		metrics.RecordPruned(deleted)
		return err
	})
	sched.Start(ctx)
	defer sched.Stop()

	router := buildRouter(cfg, logr, metrics, authSvc, userSvc, customerSvc, offerSvc, statsSvc, exportSvc, db)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	authSvc *service.AuthService,
	userSvc *service.UserService,
	customerSvc *service.CustomerService,
	offerSvc *service.OfferService,
	statsSvc *service.StatisticsService,
	exportSvc *service.ExportService,
	db *sqlx.DB,
) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbState := "up"
		if err := db.PingContext(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbState = "down"
		}
		c.JSON(status, gin.H{"status": "ok", "database": dbState})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authHandler := handler.NewAuthHandler(authSvc, metrics)
	userHandler := handler.NewUserHandler(userSvc)
	customerHandler := handler.NewCustomerHandler(customerSvc, export.NewCustomerCSV())
	statsHandler := handler.NewStatisticsHandler(statsSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Authenticate(authSvc))

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/validate", authHandler.Validate)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", middleware.RequireAuth(), authHandler.Profile)
	}

	users := api.Group("/users", middleware.RequireAuth())
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), userHandler.List)
		users.GET("/:id", middleware.RequireAdminOrSelf(), userHandler.Get)
		users.PUT("/password", userHandler.ChangePassword)
		users.PUT("/:id/enabled", middleware.RequireRoles(models.RoleAdmin), userHandler.SetEnabled)
		users.PUT("/:id/role", middleware.RequireRoles(models.RoleAdmin), userHandler.ChangeRole)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	customers := api.Group("/customers", middleware.RequireAuth())
	{
		customers.GET("", customerHandler.List)
		customers.GET("/export", customerHandler.ExportCSV)
		customers.GET("/:id", customerHandler.Get)
		customers.POST("", customerHandler.Create)
		customers.PUT("/:id", customerHandler.Update)
		customers.PUT("/:id/status", customerHandler.UpdateStatus)
		customers.DELETE("/:id", customerHandler.Delete)
	}

	api.GET("/statistics", middleware.RequireAuth(), statsHandler.Overview)

	offerHandler := handler.NewOfferHandler(offerSvc, exportSvc)
	offers := api.Group("/offers", middleware.RequireAuth())
	{
		offers.GET("", offerHandler.List)
		offers.GET("/:id", offerHandler.Get)
		offers.POST("", offerHandler.Create)
		offers.PUT("/:id", offerHandler.Update)
		offers.POST("/:id/send", offerHandler.MarkSent)
		offers.POST("/:id/pay", offerHandler.MarkPaid)
		offers.POST("/:id/overdue", offerHandler.MarkOverdue)
		offers.POST("/:id/export", offerHandler.ExportPDF)
		offers.DELETE("/:id", offerHandler.Delete)
	}

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		exports := api.Group("/exports")
		{
			exports.GET("/jobs/:id", middleware.RequireAuth(), exportHandler.Job)
			// Download authenticates via the signed token in the path.
			exports.GET("/download/:token", exportHandler.Download)
		}
	}

	return r
}
