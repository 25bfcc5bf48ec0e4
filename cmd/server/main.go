package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcart "github.com/bgl/storefront/internal/application/cart"
	appchat "github.com/bgl/storefront/internal/application/chat"
	apporder "github.com/bgl/storefront/internal/application/order"
	"github.com/bgl/storefront/internal/domain/catalog"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/auth"
	"github.com/bgl/storefront/internal/infrastructure/cache"
	"github.com/bgl/storefront/internal/infrastructure/config"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"github.com/bgl/storefront/internal/infrastructure/remote"
	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"github.com/bgl/storefront/internal/interfaces/http/handler"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/bgl/storefront/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var version = "dev"

const apiVersion = "v1"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting storefront",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Prices travel as JSON numbers, like the commerce backend sends them
	decimal.MarshalJSONWithoutQuotes = true

	// Keyed store
	opened, err := keystore.NewFactory(cfg, log).Open()
	if err != nil {
		log.Fatal("Failed to open keyed store", zap.Error(err))
	}
	defer func() {
		if err := opened.Close(); err != nil {
			log.Error("Error closing keyed store", zap.Error(err))
		}
	}()
	keys := keystore.NewKeys(cfg.Store.Prefix)

	// Checkout idempotency shares the Redis connection when there is one
	var redisClient *redis.Client
	if opened.Redis != nil {
		redisClient = opened.Redis.Client()
	}
	idempotency := cache.NewIdempotencyStore(redisClient, log)
	defer func() {
		_ = idempotency.Close()
	}()

	// Metrics
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter("storefront.sync"))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Commerce backend. Without a base URL every component runs local-only.
	client := remote.NewClient(remote.Config{
		BaseURL:          cfg.Remote.BaseURL,
		Timeout:          cfg.Remote.Timeout,
		MaxResponseBytes: cfg.Remote.MaxResponseBytes,
	}, log)

	var (
		cartRemote  appcart.RemoteFactory
		orderRemote apporder.Remote
		chatRemote  appchat.Remote
	)
	if client.Configured() {
		cartRemote = func(token string) appcart.Remote { return client.WithToken(token) }
		orderRemote = client
		chatRemote = client
	} else {
		log.Warn("No commerce backend configured, running in local-only mode")
	}

	// Application services
	registry := appcart.NewRegistry(opened.Store, keys, cartRemote, catalog.NewStaticPriceList(),
		appcart.RegistryConfig{
			Mirror: appcart.MirrorConfig{
				LoadTimeout: cfg.Remote.Timeout,
				PushTimeout: cfg.Remote.PushTimeout,
			},
			AdoptGuestCart: cfg.Cart.AdoptGuestCart,
			IdleTTL:        cfg.Cart.SessionIdleTTL,
		}, log, syncMetrics)
	registry.StartJanitor(ctx, time.Minute)

	history := apporder.NewHistory(opened.Store, keys, orderRemote, log)
	submitter := apporder.NewSubmitter(orderRemote, history, apporder.SubmitterConfig{
		FailurePolicy: cfg.Order.FailurePolicy,
		Timeout:       cfg.Remote.Timeout,
	}, log, syncMetrics)

	chatService := appchat.NewService(opened.Store, keys, chatRemote, appchat.Config{
		Timeout:     cfg.Remote.Timeout,
		PushTimeout: cfg.Remote.PushTimeout,
	}, log, syncMetrics)

	var jwtService *auth.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	} else {
		log.Warn("No JWT secret configured, bearer tokens will be rejected")
	}

	// HTTP handlers
	idemCfg := shared.DefaultIdempotencyConfig()
	if cfg.Order.IdempotencyTTL > 0 {
		idemCfg.TTL = cfg.Order.IdempotencyTTL
	}
	handlers := router.Handlers{
		System: handler.NewSystemHandler(handler.SystemInfo{
			Name:             cfg.App.Name,
			Version:          version,
			StoreDriver:      opened.Driver,
			RemoteConfigured: client.Configured(),
		}, registry.Len),
		Cart:         handler.NewCartHandler(registry),
		Order:        handler.NewOrderHandler(registry, submitter, history, idempotency, idemCfg),
		Conversation: handler.NewConversationHandler(chatService, cfg.Chat.MaxAttachmentBytes),
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Logger - Log requests
	// 3. Recovery - Catch panics
	// 4. Security, CORS, body limit
	// 5. Metrics
	// 6. Identity - Resolve the caller from the bearer token
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORS(cfg.HTTP.CORSAllowOrigins...))
	engine.Use(middleware.BodyLimit(middleware.BodyLimitConfig{
		Default: cfg.HTTP.MaxBodySize,
		Routes: map[string]int64{
			router.MessageUploadRoute(apiVersion): cfg.Chat.MaxAttachmentBytes + middleware.MultipartOverhead,
		},
		Logger: log,
	}))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
	}))
	engine.Use(middleware.Identity(middleware.IdentityConfig{
		JWTService:          jwtService,
		AllowHeaderIdentity: cfg.JWT.AllowHeaderIdentity,
		Logger:              log,
		SecureCookie:        cfg.App.Env == "production",
	}))

	router.NewRouter(engine, router.WithAPIVersion(apiVersion)).
		Register(router.Storefront(handlers)...).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let background pushes finish before the store closes
	stop()
	registry.Close()
	chatService.Wait()

	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
