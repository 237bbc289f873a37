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

	"github.com/wbobeirne/run-lnd-store/internal/auth"
	"github.com/wbobeirne/run-lnd-store/internal/config"
	"github.com/wbobeirne/run-lnd-store/internal/database"
	"github.com/wbobeirne/run-lnd-store/internal/identity"
	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/orders"
	"github.com/wbobeirne/run-lnd-store/internal/payments"
	"github.com/wbobeirne/run-lnd-store/pkg/middleware"

	"github.com/gin-gonic/gin"
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

// main wires up the storefront: LND connection, order services, the
// payment watcher, and the HTTP/websocket API, with graceful shutdown.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := lightning.NewLNDClient(ctx, lightning.LNDOptions{
		Address:              cfg.LNDGRPCURL,
		TLSCertHex:           cfg.LNDTLSCert,
		TLSCertPath:          cfg.LNDTLSCertPath,
		ReadonlyMacaroonHex:  cfg.LNDReadonlyMacaroon,
		ReadonlyMacaroonPath: cfg.LNDReadonlyMacaroonPath,
		InvoiceMacaroonHex:   cfg.LNDInvoiceMacaroon,
		InvoiceMacaroonPath:  cfg.LNDInvoiceMacaroonPath,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to LND")
	}
	defer ln.Close()

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)

	identityService := identity.NewService(ln, cfg.ChallengeMessage)
	identityHandlers := identity.NewGinHandlers(identityService)

	orderService := orders.NewService(orders.ServiceParams{
		DB:            db,
		LN:            ln,
		Verifier:      identityService,
		Tokens:        authService,
		ShirtCost:     cfg.ShirtCost,
		InvoiceExpiry: cfg.InvoiceExpiry,
		Stock:         cfg.ShirtStock,
	})
	orderHandlers := orders.NewGinHandlers(orderService)

	// Create and start the payment watcher on the shared invoice stream
	watcher := payments.NewWatcher(orderService.DB(), ln)
	go watcher.Start(ctx)
	paymentHandlers := payments.NewGinHandlers(watcher, orderService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authService, identityHandlers, orderHandlers, paymentHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
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
	cancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Reads are open; writes to an order and the payment subscription require
// the order token minted at creation.
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	identityHandlers *identity.GinHandlers,
	orderHandlers *orders.GinHandlers,
	paymentHandlers *payments.GinHandlers,
) {
	api := router.Group("/api")
	{
		api.GET("/stock", orderHandlers.StockHandler())
		api.GET("/node", identityHandlers.NodeInfoHandler())
		api.POST("/verify", identityHandlers.VerifyHandler())

		api.POST("/order", orderHandlers.CreateOrderHandler())
		api.GET("/order/:id", orderHandlers.GetOrderHandler())
		api.GET("/order/:id/qr", orderHandlers.OrderQRHandler())

		protected := api.Group("/order/:id", middleware.OrderToken(authService))
		{
			protected.PUT("", orderHandlers.UpdateShippingHandler())
			protected.GET("/subscribe", paymentHandlers.SubscribeHandler())
		}
	}
}
