package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-ledger/config"
	"ticket-ledger/internal/handlers"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/otp"
	"ticket-ledger/internal/services"
	"ticket-ledger/internal/store"
	"ticket-ledger/internal/wallet"
	_ "ticket-ledger/migrations"
	"ticket-ledger/monitoring"
	"ticket-ledger/security"
	"ticket-ledger/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Ledger node and contract gateway
	node, err := ethclient.DialContext(ctx, cfg.LedgerRPCURL)
	if err != nil {
		return fmt.Errorf("dialing ledger node: %w", err)
	}
	defer node.Close()

	gateway, err := ledger.NewGateway(node, ledger.Config{
		Contract:       common.HexToAddress(cfg.ContractAddress),
		ChainID:        big.NewInt(cfg.ChainID),
		AcceptTimeout:  cfg.AcceptTimeout,
		ReceiptTimeout: cfg.ReceiptTimeout,
	})
	if err != nil {
		return err
	}

	custody, err := wallet.New(cfg.WalletSecret)
	if err != nil {
		return err
	}

	notifier := notify.New(notify.Config{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
	})

	// Stores
	ticketStore := store.NewTicketStore(app)
	userStore := store.NewUserStore(app)
	catalogStore := store.NewCatalogStore(app)
	intentStore := store.NewIntentStore(app)

	// Initialize services
	verifier := otp.NewVerifier(gateway, otp.NewRedisStore(redisClient, cfg.OTPRetention), cfg.OTPExpiry)
	redeemAttempts := security.NewRateLimiter(redisClient, "redeem_attempts", cfg.RedeemAttemptLimit, cfg.RedeemAttemptTTL)
	requestLimiter := security.NewRateLimiter(redisClient, "rate_limit", cfg.RequestRateLimit, time.Minute)

	accountService := services.NewAccountService(userStore, custody)
	ticketService := services.NewTicketService(services.TicketDeps{
		Tickets:  ticketStore,
		Users:    userStore,
		Catalog:  catalogStore,
		Intents:  intentStore,
		Ledger:   gateway,
		Redeemer: verifier,
		Keys:     custody,
		Accounts: accountService,
		Notifier: notifier,
		Attempts: redeemAttempts,
	})
	catalogService := services.NewCatalogService(catalogStore, userStore)
	reconciler := services.NewReconciler(intentStore, ticketStore, gateway, services.ReconcilerConfig{
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.IntentStaleAfter,
	})

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(ticketService)
	accountHandler := handlers.NewAccountHandler(accountService)
	eventHandler := handlers.NewEventHandler(catalogService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	setupCatalogHooks(app)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// The store is only usable once the app has bootstrapped.
		reconciler.Start(ctx)
		if cfg.EnableMetrics {
			go monitoring.NewMonitor(intentStore, cfg.MetricsInterval).Run(ctx)
			go serveMetrics(cfg.MetricsPort)
		}

		api := e.Router.Group("/api/v1")
		api.BindFunc(handlers.RequestID)
		api.Bind(apis.RequireAuth(store.CollectionUsers))
		api.BindFunc(requestLimiter.Middleware())

		// Ticket endpoints
		api.POST("/tickets", ticketHandler.CreateTicket)
		api.GET("/tickets", ticketHandler.ListTickets)
		api.GET("/tickets/redeemed", ticketHandler.ListRedeemed)
		api.GET("/tickets/{id}", ticketHandler.GetTicket)
		api.PATCH("/tickets/{id}", ticketHandler.UpdateMetadata)
		api.DELETE("/tickets/{id}", ticketHandler.CancelTicket)
		api.POST("/tickets/{id}/purchase", ticketHandler.PurchaseTicket)
		api.POST("/tickets/{id}/redemption", ticketHandler.PrepareRedemption)
		api.POST("/tickets/{id}/redeem", ticketHandler.RedeemTicket)

		// Account endpoints
		api.POST("/account/roles/{role}", accountHandler.RegisterRole)
		api.POST("/account/switch-role/{role}", accountHandler.SwitchRole)
		api.GET("/account/wallet", accountHandler.CurrentWallet)

		// Event endpoints
		api.POST("/events/{id}/cancel", eventHandler.CancelEvent)
		api.POST("/events/{id}/verifiers/{verifierId}", eventHandler.AddVerifier)
		api.DELETE("/events/{id}/verifiers/{verifierId}", eventHandler.RemoveVerifier)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			ctx := e.Request.Context()
			if err := utils.RedisHealthCheck(ctx, redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			if err := gateway.Health(ctx); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		slog.Info("Server routes registered")

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		reconciler.Stop()
		return e.Next()
	})

	// Start server
	return app.Start()
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	slog.Info("Serving metrics", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, cleaning up...")
	cancel()
}
