package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coursehub-app/coursehub-backend/api/routes"
	adminsvc "github.com/coursehub-app/coursehub-backend/internal/admin"
	"github.com/coursehub-app/coursehub-backend/internal/audit"
	checkoutsvc "github.com/coursehub-app/coursehub-backend/internal/checkout"
	"github.com/coursehub-app/coursehub-backend/internal/courses"
	"github.com/coursehub-app/coursehub-backend/internal/enrollments"
	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/internal/gateways/fawry"
	"github.com/coursehub-app/coursehub-backend/internal/gateways/paymob"
	"github.com/coursehub-app/coursehub-backend/internal/gateways/paypal"
	"github.com/coursehub-app/coursehub-backend/internal/gateways/square"
	"github.com/coursehub-app/coursehub-backend/internal/invoices"
	paymentsvc "github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
	"github.com/coursehub-app/coursehub-backend/internal/rates"
	refundsvc "github.com/coursehub-app/coursehub-backend/internal/refunds"
	webhooksvc "github.com/coursehub-app/coursehub-backend/internal/webhooks"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/db"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/mailer"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
	"github.com/coursehub-app/coursehub-backend/pkg/migrate"
	"github.com/coursehub-app/coursehub-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	adapterRegistry := buildAdapters(context.Background(), cfg, logg, paymentMetrics)

	paymentRepo := paymentsvc.NewRepository(dbClient.DB())
	auditRepo := audit.NewRepository(dbClient.DB())
	enrollmentRepo := enrollments.NewRepository(dbClient.DB())
	courseRepo := courses.NewRepository(dbClient.DB())
	refundRepo := refundsvc.NewRepository(dbClient.DB())
	policyRepo := policyconfig.NewRepository(dbClient.DB(), cfg.Policy)

	var invoiceSender mailer.Sender
	if cfg.SMTP.Configured() {
		invoiceSender, err = mailer.NewSMTPSender(cfg.SMTP)
		if err != nil {
			logg.Error(context.Background(), "failed to create mail sender", err)
			os.Exit(1)
		}
	}
	issuer, err := invoices.NewIssuer(invoices.IssuerParams{
		Sender:       invoiceSender,
		Logger:       logg,
		QueueSize:    cfg.Policy.InvoiceDeliveryQueueSize,
		MaxAttempts:  cfg.Policy.InvoiceDeliveryAttempts,
		NumberPrefix: cfg.Invoices.NumberPrefix,
		BaseURL:      cfg.Invoices.BaseURL,
		SetInvoiceFn: func(ctx context.Context, paymentID uuid.UUID, number string, url *string) error {
			return paymentRepo.SetInvoiceFields(ctx, paymentID, number, url)
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice issuer", err)
		os.Exit(1)
	}

	paymentService, err := paymentsvc.NewService(paymentsvc.ServiceParams{
		Repo:              paymentRepo,
		AuditRepo:         auditRepo,
		EnrollmentRepo:    enrollmentRepo,
		TransactionRunner: dbClient,
		Issuer:            issuer,
		Logger:            logg,
		Metrics:           paymentMetrics,
		InvoicePrefix:     cfg.Invoices.NumberPrefix,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	rateService, err := rates.NewService(rates.ServiceParams{
		Source:       rates.NewHTTPSource(cfg.Rates),
		Base:         enums.Currency(cfg.App.BaseCurrency),
		MaxStaleness: cfg.Rates.MaxStaleness,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rates service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		PaymentRepo:       paymentRepo,
		CourseRepo:        courseRepo,
		EnrollmentRepo:    enrollmentRepo,
		AuditRepo:         auditRepo,
		Adapters:          adapterRegistry,
		Rates:             rateService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           paymentMetrics,
		PublicURL:         cfg.App.PublicURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	refundService, err := refundsvc.NewService(refundsvc.ServiceParams{
		Repo:              refundRepo,
		PaymentRepo:       paymentRepo,
		EnrollmentRepo:    enrollmentRepo,
		AuditRepo:         auditRepo,
		PolicyRepo:        policyRepo,
		Adapters:          adapterRegistry,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund service", err)
		os.Exit(1)
	}

	webhookGuard, err := webhooksvc.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := webhooksvc.NewService(webhooksvc.ServiceParams{
		Adapters:  adapterRegistry,
		Processor: paymentService,
		Guard:     webhookGuard,
		Logger:    logg,
		Metrics:   paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	adminService, err := adminsvc.NewService(adminsvc.ServiceParams{
		PaymentRepo: paymentRepo,
		AuditRepo:   auditRepo,
		PolicyRepo:  policyRepo,
		Gateways:    adapterRegistry,
		Config:      cfg,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admin service", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go issuer.Run(runCtx)

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:          cfg,
			Logger:          logg,
			DB:              dbClient,
			Redis:           redisClient,
			CheckoutService: checkoutService,
			PaymentService:  paymentService,
			RefundService:   refundService,
			WebhookService:  webhookService,
			AdminService:    adminService,
			Metrics:         registry,
		}),
	}

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

// buildAdapters registers every provider that is enabled and fully
// configured. Missing credentials only remove that provider from the
// registry; the platform serves the rest.
func buildAdapters(ctx context.Context, cfg *config.Config, logg *logger.Logger, m *metrics.PaymentMetrics) *gateways.Registry {
	var adapters []gateways.Adapter

	if cfg.Square.Enabled && cfg.Square.Configured() {
		adapter, err := square.NewAdapter(ctx, cfg.Square, cfg.Webhooks.GatewayTimeout, logg, m)
		if err != nil {
			logg.Error(ctx, "square adapter disabled", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}
	if cfg.PayPal.Enabled && cfg.PayPal.Configured() {
		adapter, err := paypal.NewAdapter(ctx, cfg.PayPal, cfg.Webhooks.GatewayTimeout, logg, m)
		if err != nil {
			logg.Error(ctx, "paypal adapter disabled", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}
	if cfg.Paymob.Enabled && cfg.Paymob.Configured() {
		adapter, err := paymob.NewAdapter(ctx, cfg.Paymob, cfg.Webhooks.GatewayTimeout, logg, m)
		if err != nil {
			logg.Error(ctx, "paymob adapter disabled", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}
	if cfg.Fawry.Enabled && cfg.Fawry.Configured() {
		adapter, err := fawry.NewAdapter(ctx, cfg.Fawry, cfg.Webhooks.GatewayTimeout, logg, m)
		if err != nil {
			logg.Error(ctx, "fawry adapter disabled", err)
		} else {
			adapters = append(adapters, adapter)
		}
	}

	return gateways.NewRegistry(adapters...)
}
