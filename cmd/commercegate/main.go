package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commercegate/internal/common/database"
	"commercegate/internal/common/events"
	"commercegate/internal/common/middleware"
	"commercegate/internal/common/nats"
	"commercegate/internal/credentials"
	"commercegate/internal/migration"
	"commercegate/internal/orders"
	ordersapi "commercegate/internal/orders/api"
	"commercegate/internal/payments"
	paymentsapi "commercegate/internal/payments/api"
	"commercegate/internal/providers/factory"
	"commercegate/internal/region"
	"commercegate/internal/shipping"
	shippingapi "commercegate/internal/shipping/api"
	"commercegate/internal/webhooks"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"COMMERCEGATE_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	PayPalReturnURL string `envconfig:"PAYPAL_RETURN_URL"`
	PayPalCancelURL string `envconfig:"PAYPAL_CANCEL_URL"`

	EventsEnabled bool `envconfig:"EVENTS_ENABLED" default:"true"`

	Database database.Config
	NATS     nats.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Apply schema migrations before opening the pool
	if err := migration.Up(cfg.Database.URL, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Event publisher; degraded to a no-op when the broker is disabled
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled {
		natsClient, err := nats.New(cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
	}

	// Region table, credentials, and provider adapters
	registry, err := region.NewRegistry()
	if err != nil {
		logger.Error("invalid region configuration", "error", err)
		os.Exit(1)
	}

	mode := credentials.ModeForEnvironment(cfg.Environment)
	creds, err := credentials.Load(mode)
	if err != nil {
		logger.Error("failed to load provider credentials", "error", err)
		os.Exit(1)
	}
	logger.Info("provider credentials loaded", "mode", mode)

	providerFactory := factory.New(registry, creds, factory.Overrides{
		PayPalReturnURL: cfg.PayPalReturnURL,
		PayPalCancelURL: cfg.PayPalCancelURL,
	}, logger)

	// Stores and services
	orderStore := orders.NewPostgresStore(db.Pool())
	paymentStore := payments.NewPostgresStore(db.Pool())
	shipmentStore := shipping.NewPostgresStore(db.Pool())
	webhookStore := webhooks.NewPostgresStore(db.Pool())

	paymentService := payments.NewService(paymentStore, orderStore, providerFactory, registry, publisher, logger)
	shippingService := shipping.NewService(shipmentStore, orderStore, providerFactory, registry, publisher, logger)

	// Handlers
	orderHandler := ordersapi.NewHandler(orderStore)
	paymentHandler := paymentsapi.NewHandler(paymentService)
	shippingHandler := shippingapi.NewHandler(shippingService)
	webhookHandler := webhooks.NewHandler(providerFactory, paymentService, shippingService, webhookStore, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Metrics
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/orders", orderHandler.Routes())
		r.Mount("/shipments", shippingHandler.Routes())
		r.Mount("/", paymentHandler.Routes())
	})
	r.Mount("/webhooks", webhookHandler.Routes())

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting commercegate service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"mode", mode,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
