package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"

	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/config"
	"github.com/finvera/be-ap-workflow/internal/handler"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/middleware"
	"github.com/finvera/be-ap-workflow/internal/repository"
	"github.com/finvera/be-ap-workflow/internal/repository/memory"
	"github.com/finvera/be-ap-workflow/internal/repository/postgres"
	"github.com/finvera/be-ap-workflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting AP workflow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store selection: postgres when DATABASE_URL is set, memory otherwise.
	var stores *repository.Stores
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		stores = postgres.NewStores(db)
		log.Info().Msg("Database connection established")
	} else {
		stores = memory.New()
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	// External collaborators: HTTP clients when configured, static in-memory
	// fallbacks otherwise.
	timeout := cfg.Clients.RequestTimeout

	var dir client.OrgDirectory
	if cfg.Clients.OrgDirectoryURL != "" {
		dir = client.NewOrgDirectoryClient(cfg.Clients.OrgDirectoryURL, timeout)
	} else {
		dir = client.NewStaticOrgDirectory()
		log.Warn().Msg("ORG_DIRECTORY_URL not set, using static org directory")
	}

	var vendors client.VendorMaster
	if cfg.Clients.VendorMasterURL != "" {
		vendors = client.NewVendorsClient(cfg.Clients.VendorMasterURL, timeout)
	} else {
		vendors = client.NewStaticVendorMaster()
		log.Warn().Msg("VENDOR_MASTER_URL not set, using static vendor master")
	}

	var accounts client.AccountsValidator
	if cfg.Clients.AccountsURL != "" {
		accounts = client.NewAccountsClient(cfg.Clients.AccountsURL, timeout)
	} else {
		accounts = client.NewStaticAccountsValidator()
	}

	var channel client.PaymentChannel
	if cfg.Clients.PaymentChannelURL != "" {
		channel = client.NewPaymentChannelClient(cfg.Clients.PaymentChannelURL, timeout)
	} else {
		channel = client.NewStaticPaymentChannel()
		log.Warn().Msg("PAYMENT_CHANNEL_URL not set, using static payment channel")
	}

	// Notifications are optional; a missing NATS connection degrades to
	// log-only publishing.
	var nc *nats.Conn
	if cfg.NATSUrl != "" {
		nc, err = nats.Connect(cfg.NATSUrl,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.NATSUrl).Msg("Failed to connect to NATS, notifications disabled")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATSUrl).Msg("Connected to NATS")
		}
	}
	notify := client.NewNotificationPublisher(nc, log.Logger)

	locks := lock.NewKeyLocker()
	invoiceService := service.NewInvoiceService(stores, locks, vendors, accounts, dir, notify, log)
	approvalService := service.NewApprovalService(stores, locks, dir, notify, log)
	batchService := service.NewBatchService(stores, locks, channel, notify, log)
	ruleService := service.NewRuleService(stores, log)
	analyticsService := service.NewAnalyticsService(stores, log)

	httpHandler := handler.NewHTTPHandler(
		invoiceService, approvalService, batchService, ruleService, analyticsService, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(&log.Logger))
	router.Use(middleware.Recovery(&log.Logger))
	router.Use(middleware.CORS([]string{"*"}))
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	httpHandler.Register(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
