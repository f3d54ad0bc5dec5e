package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/auth"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/database"
	"github.com/quantdesk/mirror-api/internal/gateway"
	"github.com/quantdesk/mirror-api/internal/jobs"
	"github.com/quantdesk/mirror-api/internal/ledger"
	"github.com/quantdesk/mirror-api/internal/marketdata"
	"github.com/quantdesk/mirror-api/internal/reconcile"
	"github.com/quantdesk/mirror-api/internal/types"
	"github.com/quantdesk/mirror-api/pkg/middleware"
	"github.com/quantdesk/mirror-api/pkg/response"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the mirror API server with graceful
// shutdown support. It wires the venue connectors, the reconciliation
// engine, the order gateway and the job dispatcher around one shared
// ledger database.
func main() {
	// Load configuration
	cfgPath := os.Getenv("MIRROR_CONFIG")
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			zlog.Fatal().Err(err).Str("path", cfgPath).Msg("Failed to load configuration")
		}
		cfg = loaded
	}
	store := config.NewStore(cfgPath, cfg)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Register venue connectors
	registry := connector.NewRegistry()
	registry.Register(types.VenueBinance, connector.NewBinanceFactory(cfg.Venues))
	registry.Register(types.VenueBybit, connector.NewBybitFactory(cfg.Venues))
	registry.Register(types.VenueMock, connector.NewMockFactory(connector.NewMockConnector()))

	// Initialize services
	ledgerDB := ledger.NewDatabase(db)
	locks := ledger.NewAccountLocks()
	sink := audit.NewSink(db)
	creds := connector.EnvCredentialSource{}

	engine := reconcile.NewEngine(ledgerDB, registry, creds, locks, sink, store)
	gw := gateway.NewGateway(ledgerDB, registry, creds, locks, sink, store)

	dispatcher := jobs.NewDispatcher(engine, gw, sink, cfg.Jobs)
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	dispatcher.Start(dispatcherCtx)

	// Start the background sync scheduler
	scheduler := reconcile.NewScheduler(engine, ledgerDB, cfg.Sync.Interval)
	go scheduler.Start(dispatcherCtx)

	// Initialize handlers
	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerHandlers := ledger.NewGinHandlers(ledgerDB, sink)
	jobHandlers := jobs.NewGinHandlers(dispatcher)
	marketHandlers := marketdata.NewGinHandlers(marketdata.NewService(registry))
	auditHandlers := audit.NewGinHandlers(sink)

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Server.JWTSecret, store, sink,
		authHandlers, ledgerHandlers, jobHandlers, marketHandlers, auditHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	dispatcherCancel()
	dispatcher.Wait()

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Account, sync, order and job routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	store *config.Store,
	sink *audit.Sink,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	jobHandlers *jobs.GinHandlers,
	marketHandlers *marketdata.GinHandlers,
	auditHandlers *audit.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account routes
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth(jwtSecret))
		{
			accounts.POST("", ledgerHandlers.CreateAccountHandler())
			accounts.GET("/:account_id", ledgerHandlers.GetAccountHandler())
			accounts.DELETE("/:account_id", ledgerHandlers.DeactivateAccountHandler())
			accounts.GET("/:account_id/balances", ledgerHandlers.GetBalancesHandler())
			accounts.GET("/:account_id/balances/:asset", ledgerHandlers.GetBalanceHandler())
			accounts.GET("/:account_id/orders", ledgerHandlers.GetOrderHistoryHandler())
		}

		// Sync routes
		sync := v1.Group("/sync")
		sync.Use(middleware.JWTAuth(jwtSecret))
		{
			sync.POST("/:account_id", jobHandlers.SyncAccountHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", jobHandlers.PlaceOrderHandler())
			orders.DELETE("/:venue_order_id", jobHandlers.CancelOrderHandler())
		}

		// Job routes
		jobGroup := v1.Group("/jobs")
		jobGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			jobGroup.GET("/:job_id", jobHandlers.JobStatusHandler())
		}

		// Market data routes (public venue endpoints, no auth)
		market := v1.Group("/market")
		{
			market.GET("/:venue/ticker/:symbol", marketHandlers.GetTickerHandler())
			market.GET("/:venue/ohlcv/:symbol", marketHandlers.GetOHLCVHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.GET("/audit", auditHandlers.ListEntriesHandler())
			internal.POST("/config/reload", func(c *gin.Context) {
				cfg, err := store.Reload()
				if err != nil {
					response.Handle(c, nil, err)
					return
				}
				sink.Emit(audit.KindConfigReload, "", "config", "", audit.OutcomeSuccess, nil)
				response.Success(c, cfg)
			})
		}
	}
}
