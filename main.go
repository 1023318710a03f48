package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Import pprof for profiling
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/di"
	"github.com/prohmpiriya/eventhub-booking/internal/handler"
	"github.com/prohmpiriya/eventhub-booking/internal/metrics"
	"github.com/prohmpiriya/eventhub-booking/pkg/config"
	"github.com/prohmpiriya/eventhub-booking/pkg/database"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/middleware"
	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       logLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting booking service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	if err := metrics.Init(); err != nil {
		appLog.Fatal("failed to register metrics", zap.Error(err))
	}

	// Initialize database connection
	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	dbCfg.ApplicationName = cfg.App.Name
	dbCfg.EnableTracing = cfg.OTel.Enabled

	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("database connection failed", zap.Error(err))
	}
	if err := db.Migrate(ctx); err != nil {
		appLog.Fatal("database migration failed", zap.Error(err))
	}
	appLog.Info("database connected",
		zap.Int32("min_conns", dbCfg.MinConns),
		zap.Int32("max_conns", dbCfg.MaxConns),
	)

	// Initialize Redis connection
	redisCfg := pkgredis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal("redis connection failed", zap.Error(err))
	}
	appLog.Info("redis connected", zap.String("addr", redisCfg.Addr()))

	// Initialize outbound integrations
	eventPublisher := di.NewEventPublisher(ctx, cfg)

	gateways, err := di.NewGateways(cfg)
	if err != nil {
		appLog.Fatal("failed to configure payment providers", zap.Error(err))
	}
	if gateways.Order == nil && gateways.Intent == nil && !cfg.MockPaymentsAllowed() {
		appLog.Warn("no payment provider configured, paid bookings cannot be settled")
	}

	notify, err := di.NewNotifier(cfg)
	if err != nil {
		appLog.Fatal("failed to configure notifiers", zap.Error(err))
	}

	hub := broadcast.NewHub(0)
	fanout := di.NewBroadcast(cfg, redisClient, hub)

	relayCtx, stopRelay := context.WithCancel(ctx)
	go func() {
		if err := fanout.Relay(relayCtx); err != nil {
			appLog.Error("broadcast relay stopped", zap.Error(err))
		}
	}()

	// Build dependency injection container
	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:         cfg,
		Pool:           db.Pool(),
		Redis:          redisClient,
		Hub:            hub,
		Broadcaster:    fanout.Publisher,
		EventPublisher: eventPublisher,
		Gateways:       gateways,
		Notifier:       notify,
		HealthChecks: map[string]handler.Checker{
			"postgres": db.HealthCheck,
			"redis":    redisClient.HealthCheck,
		},
	})
	if err != nil {
		appLog.Fatal("failed to build container", zap.Error(err))
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	if err := container.ExpiryWorker.Start(workerCtx); err != nil {
		appLog.Fatal("failed to start expiry worker", zap.Error(err))
	}

	router := newRouter(cfg, container, redisClient)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		// WriteTimeout stays zero: availability streams are long-lived
	}

	// Start pprof server on separate port for profiling
	if cfg.App.Debug {
		go func() {
			pprofAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1000)
			appLog.Info("pprof server listening", zap.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				appLog.Error("pprof server error", zap.Error(err))
			}
		}()
	}

	go func() {
		appLog.Info("booking service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server...")

	container.ExpiryWorker.Stop()
	stopWorkers()

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// open streams never finish on their own
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", zap.Error(err))
	}

	// broadcasts, publishes and notifications still need the clients closed below
	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, cfg.Booking.BackgroundTaskTimeout)
	if err := container.Tasks.Drain(drainCtx); err != nil {
		appLog.Warn("abandoned background tasks", zap.Error(err))
	}
	cancelDrain()

	stopRelay()
	if err := fanout.Publisher.Close(); err != nil {
		appLog.Warn("failed to close broadcaster", zap.Error(err))
	}
	if err := eventPublisher.Close(); err != nil {
		appLog.Warn("failed to close event publisher", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("failed to flush traces", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		appLog.Warn("failed to close redis", zap.Error(err))
	}
	db.Close()

	appLog.Info("server exited gracefully")
}

func newRouter(cfg *config.Config, c *di.Container, redisClient *pkgredis.Client) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(telemetry.MiddlewareConfig{
		ServiceName: cfg.OTel.ServiceName,
		SkipPaths:   []string{"/health", "/ready", "/metrics"},
		UserIDKey:   middleware.ContextKeyUserID,
	}))

	// Health check endpoints
	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := middleware.JWTAuth(&middleware.JWTConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})

	idempotencyConfig := middleware.DefaultIdempotencyConfig(redisClient)
	idempotency := middleware.IdempotencyMiddleware(idempotencyConfig)

	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		bookings.Use(auth)
		{
			// Write operations with idempotency
			bookings.POST("/reserve", idempotency, c.BookingHandler.ReserveSeats)
			bookings.POST("/:id/confirm-free", idempotency, c.BookingHandler.ConfirmFree)
			bookings.POST("/:id/confirm-order", idempotency, c.BookingHandler.ConfirmOrder)
			bookings.POST("/:id/confirm-intent", idempotency, c.BookingHandler.ConfirmIntent)
			bookings.PUT("/:id/cancel", c.BookingHandler.CancelBooking)
			bookings.PUT("/:id/refund", middleware.RequireRole(middleware.RoleAdmin), c.BookingHandler.RefundBooking)
			bookings.POST("/:id/release", c.BookingHandler.ReleaseBooking)
			bookings.DELETE("/:id", c.BookingHandler.ReleaseBooking)

			// Read operations without idempotency
			bookings.GET("", c.BookingHandler.GetUserBookings)
			bookings.GET("/:id", c.BookingHandler.GetBooking)
		}

		payments := v1.Group("/payments")
		payments.Use(auth)
		{
			payments.GET("/config", c.PaymentHandler.GetConfig)
			payments.POST("/orders", idempotency, c.PaymentHandler.CreateOrder)
			payments.POST("/intents", idempotency, c.PaymentHandler.CreateIntent)
			payments.POST("/qr", idempotency, c.PaymentHandler.CreateQRCode)
		}

		// Providers authenticate webhooks by signature, not by bearer token
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/stripe", c.WebhookHandler.HandleStripeWebhook)
			webhooks.POST("/razorpay", c.WebhookHandler.HandleRazorpayWebhook)
		}

		events := v1.Group("/events")
		{
			events.GET("/:id/availability", c.BookingHandler.GetAvailability)
			events.GET("/:id/stream", c.StreamHandler.StreamAvailability)
		}
	}

	return router
}
