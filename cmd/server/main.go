package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/tollgate/internal"
	"github.com/DukeRupert/tollgate/internal/billing"
	"github.com/DukeRupert/tollgate/internal/email"
	"github.com/DukeRupert/tollgate/internal/handler"
	"github.com/DukeRupert/tollgate/internal/metrics"
	"github.com/DukeRupert/tollgate/internal/middleware"
	"github.com/DukeRupert/tollgate/internal/notify"
	"github.com/DukeRupert/tollgate/internal/service"
	"github.com/DukeRupert/tollgate/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize usage store (runs migrations for SQL drivers)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("Usage store ready", "driver", cfg.StoreDriver)

	// ==========================================================================
	// Initialize services
	// ==========================================================================

	quotaService := service.NewQuotaService(st, logger,
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithUsageLog(st),
	)
	planListener := service.NewPlanChangeListener(quotaService, logger)

	sender, err := newEmailService(cfg, logger)
	if err != nil {
		return err
	}
	quotaService.RegisterObserver(notify.NewThresholdNotifier(quotaService, st, st, sender, logger))

	// Billing is optional; a nil service makes the webhook a no-op.
	var billingService billing.Service
	if cfg.BillingEnabled() {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			PremiumMonthlyPriceID: cfg.StripePremiumMonthlyPriceID,
			PremiumYearlyPriceID:  cfg.StripePremiumYearlyPriceID,
			ProMonthlyPriceID:     cfg.StripeProMonthlyPriceID,
			ProYearlyPriceID:      cfg.StripeProYearlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing not configured, webhook events will be ignored")
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	identity := middleware.NewIdentityMiddleware(cfg.UserIDHeader, logger)
	quotaMw := middleware.NewQuotaMiddleware(quotaService, logger).WithReserver(quotaService)
	apiLimit := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, logger), logger)

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(quotaService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, planListener, st, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	var metricsHandler http.Handler = promhttp.Handler()
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		metricsHandler = middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger).
			Handler(metricsHandler)
	} else {
		logger.Warn("/metrics is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsHandler)

	// Stripe webhooks (public, signature-verified)
	webhookHandler.RegisterRoutes(mux)

	// Quota API for the calling user
	requireUser := middleware.Stack(apiLimit.Limit, identity.RequireUser)
	quotaHandler.RegisterRoutes(mux, requireUser)

	// Metered upstream tools
	if cfg.UpstreamURL != "" {
		upstream, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			return fmt.Errorf("invalid upstream url: %w", err)
		}
		meter := quotaMw.MeterPath("tool")
		if cfg.StrictMetering {
			meter = quotaMw.ReservePath("tool")
		}
		metered := middleware.Stack(apiLimit.Limit, identity.RequireUser, meter)
		mux.Handle("/api/tools/{tool}/", metered(http.StripPrefix("/api/tools", httputil.NewSingleHostReverseProxy(upstream))))
		logger.Info("Metering upstream tools", "upstream", upstream.Redacted(), "strict", cfg.StrictMetering)
	}

	// Admin routes (basic auth with brute-force lockout)
	if cfg.AdminEnabled() {
		adminAuth := middleware.NewBasicAuthMiddleware("tollgate admin", cfg.AdminUsername, cfg.AdminPassword, logger).
			WithFailureLimiter(middleware.NewRateLimiter(5, 15*time.Minute, logger))
		handler.NewAdminHandler(quotaService, planListener, st, logger).RegisterRoutes(mux, adminAuth.Handler)
	} else {
		logger.Warn("Admin routes disabled; set ADMIN_USERNAME and ADMIN_PASSWORD to enable")
	}

	// Identity runs first so request logs carry the user ID.
	root := middleware.Stack(
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		identity.WithUser,
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
	)(mux)

	// ==========================================================================
	// Start background worker
	// ==========================================================================

	var bgWorker *worker.Worker
	if cfg.WorkerEnabled && cfg.UsageRetentionDays > 0 {
		storage, err := openArchive(cfg, logger)
		if err != nil {
			return err
		}
		bgWorker, err = worker.New(worker.DefaultConfig(), logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		if err := bgWorker.Register(worker.NewPruneUsageTask(st, storage, cfg.UsageRetentionDays, cfg.RetentionInterval, logger)); err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		bgWorker.Start(ctx)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a failed listener
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if bgWorker != nil {
		bgWorker.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func newEmailService(cfg *internal.Config, logger *slog.Logger) (email.EmailService, error) {
	if cfg.Notifier == "log" {
		logger.Info("Quota notices will be logged, not sent")
		return email.NewLogEmailService(logger), nil
	}

	svc, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.UpgradeURL, logger)
	if err != nil {
		return nil, fmt.Errorf("email service initialization failed: %w", err)
	}
	return svc, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
