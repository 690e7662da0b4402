package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/gensy-ai/creative-ledger/internal/api"
	"github.com/gensy-ai/creative-ledger/internal/config"
	"github.com/gensy-ai/creative-ledger/internal/services/auth"
	"github.com/gensy-ai/creative-ledger/internal/services/billing"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"
	"github.com/gensy-ai/creative-ledger/internal/services/database"
	"github.com/gensy-ai/creative-ledger/internal/services/generation"
	"github.com/gensy-ai/creative-ledger/internal/services/middleware"
	"github.com/gensy-ai/creative-ledger/internal/services/provider"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// App is a ledger server instance
type App struct {
	config *config.Config
	app    *fiber.App
	redis  *redis.Client
	db     *database.DB
	events *generation.EventRecorder
}

type services struct {
	creditStore    *credits.Store
	creditService  *credits.Service
	apiKeyService  *auth.APIKeyService
	genService     *generation.Service
	poller         *generation.Poller
	stripeService  *billing.StripeService
	authMiddleware *middleware.AuthMiddleware
	serviceTokens  *auth.ServiceTokenManager
	events         *generation.EventRecorder
}

// New creates an App with the given configuration
func New(cfg *config.Config) *App {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() to create config")
	}
	return &App{config: cfg}
}

// Run starts the server and blocks until shutdown
func (a *App) Run() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(a.config)

	port := a.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	a.app = createFiberApp(a.config)

	redisClient, err := createRedisClient(a.config)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	a.redis = redisClient
	if a.redis != nil {
		defer func() {
			if err := a.redis.Close(); err != nil {
				fiberlog.Errorf("Failed to close Redis client: %v", err)
			}
		}()
	}

	db, err := database.New(*a.config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	a.db = db
	defer func() {
		if err := a.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	svcs, err := a.initializeServices()
	if err != nil {
		return err
	}
	a.events = svcs.events
	defer a.events.Stop()

	setupMiddleware(a.app, a.config)
	setupRoutes(a.app, a.config, a.redis, a.db, svcs)

	fmt.Printf("Creative Ledger starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", a.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := a.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- a.app.ShutdownWithTimeout(30 * time.Second)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}

func (a *App) initializeServices() (*services, error) {
	creditStore := credits.NewStore(a.db.DB)
	if err := creditStore.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	creditService := credits.NewService(creditStore)

	apiKeyService := auth.NewAPIKeyService(a.db.DB)
	if err := apiKeyService.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate api_keys table: %w", err)
	}

	events := generation.NewEventRecorder(a.db.DB, 2, 256)

	genService := generation.NewService(a.db.DB, creditService, events, a.config.RefundOnCancel())
	if err := genService.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate generation tables: %w", err)
	}

	registry := provider.NewRegistry(a.config.Providers)
	poller := generation.NewPoller(genService, registry, a.redis, a.config.Providers)

	var stripeService *billing.StripeService
	if a.config.Billing != nil && a.config.Billing.Stripe != nil && a.config.Billing.Stripe.SecretKey != "" {
		stripeService = billing.NewStripeService(*a.config.Billing.Stripe, creditService, creditStore)
	}

	var clerkProvider *auth.ClerkAuthProvider
	var serviceTokens *auth.ServiceTokenManager
	if a.config.Auth != nil {
		if a.config.Auth.ClerkConfig != nil && a.config.Auth.ClerkConfig.SecretKey != "" {
			clerkProvider = auth.NewClerkAuthProvider(a.config.Auth.ClerkConfig.SecretKey)
		}
		serviceTokens = auth.NewServiceTokenManager(a.config.Auth.ServiceTokenSecret)
	}

	enableAPIKeys := a.config.Auth != nil && a.config.Auth.APIKey != nil && a.config.Auth.APIKey.Enabled
	headerNames := []string{"Authorization"}
	if enableAPIKeys && len(a.config.Auth.APIKey.HeaderNames) > 0 {
		headerNames = a.config.Auth.APIKey.HeaderNames
	}

	authMiddleware := middleware.NewAuthMiddleware(clerkProvider, apiKeyService, serviceTokens, &middleware.AuthMiddlewareConfig{
		Enabled:       true,
		HeaderNames:   headerNames,
		SkipPaths:     []string{"/health", "/webhooks"},
		EnableAPIKeys: enableAPIKeys,
	})

	return &services{
		creditStore:    creditStore,
		creditService:  creditService,
		apiKeyService:  apiKeyService,
		genService:     genService,
		poller:         poller,
		stripeService:  stripeService,
		authMiddleware: authMiddleware,
		serviceTokens:  serviceTokens,
		events:         events,
	}, nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "Creative Ledger v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       1 * time.Minute,
		WriteTimeout:      1 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ReadBufferSize:    8192,
		WriteBufferSize:   8192,
		CaseSensitive:     true,
		ServerHeader:      "CreativeLedger",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:               600,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		},
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, User-Agent",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
		MaxAge:           86400,
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
	}))

	if !isProd {
		app.Use(pprof.New())
	}
}

func setupRoutes(app *fiber.App, cfg *config.Config, redisClient *redis.Client, db *database.DB, svcs *services) {
	healthHandler := api.NewHealthHandler(db, redisClient)
	app.Get("/health", healthHandler.HealthCheck)

	if cfg.Auth != nil && cfg.Auth.ClerkConfig != nil && cfg.Auth.ClerkConfig.WebhookSecret != "" {
		bonus := int64(0)
		if cfg.Billing != nil {
			bonus = cfg.Billing.WelcomeBonusCredits
		}
		clerkWebhookHandler := api.NewClerkWebhookHandler(cfg.Auth.ClerkConfig.WebhookSecret, svcs.creditService, bonus)
		app.Post("/webhooks/clerk", clerkWebhookHandler.HandleWebhook)
	}

	var billingHandler *api.BillingHandler
	if svcs.stripeService != nil {
		billingHandler = api.NewBillingHandler(svcs.stripeService)
		app.Post("/webhooks/stripe", billingHandler.StripeWebhook)
	}

	creditsHandler := api.NewCreditsHandler(svcs.creditService)
	generationsHandler := api.NewGenerationsHandler(svcs.genService, svcs.poller)
	apiKeysHandler := api.NewAPIKeysHandler(svcs.apiKeyService)

	v1 := app.Group("/v1")
	v1.Use(svcs.authMiddleware.RequireAuth())

	creditsGroup := v1.Group("/credits")
	creditsGroup.Get("/balance", creditsHandler.GetBalance)
	creditsGroup.Post("/check", creditsHandler.CheckBalance)
	creditsGroup.Get("/transactions", creditsHandler.ListTransactions)

	generationsGroup := v1.Group("/generations")
	generationsGroup.Post("/", generationsHandler.Create)
	generationsGroup.Post("/batch", generationsHandler.CreateBatch)
	generationsGroup.Get("/", generationsHandler.List)
	generationsGroup.Get("/:id", generationsHandler.Get)
	generationsGroup.Get("/:id/status", generationsHandler.Status)
	generationsGroup.Delete("/:id", generationsHandler.Cancel)

	keysGroup := v1.Group("/api-keys")
	keysGroup.Post("/", apiKeysHandler.Create)
	keysGroup.Get("/", apiKeysHandler.List)
	keysGroup.Delete("/:id", apiKeysHandler.Revoke)

	if billingHandler != nil {
		billingGroup := v1.Group("/billing")
		billingGroup.Get("/packages", billingHandler.ListPackages)
		billingGroup.Post("/checkout-session", billingHandler.CreateCheckoutSession)
	}

	// Service-to-service surface: debit on behalf of a user
	internal := app.Group("/internal/v1")
	internal.Use(svcs.authMiddleware.RequireServiceAuth())
	internal.Post("/credits/debit", creditsHandler.Debit)
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - circuit breakers run pass-through")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		fiberlog.Warnf("Redis connection failed, continuing without it: %v", err)
		if closeErr := client.Close(); closeErr != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", closeErr)
		}
		return nil, nil
	}

	fiberlog.Info("Redis connection established successfully")
	return client, nil
}
