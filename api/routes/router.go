package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coursehub-app/coursehub-backend/api/controllers"
	webhookcontrollers "github.com/coursehub-app/coursehub-backend/api/controllers/webhooks"
	"github.com/coursehub-app/coursehub-backend/api/middleware"
	adminsvc "github.com/coursehub-app/coursehub-backend/internal/admin"
	checkoutsvc "github.com/coursehub-app/coursehub-backend/internal/checkout"
	paymentsvc "github.com/coursehub-app/coursehub-backend/internal/payments"
	refundsvc "github.com/coursehub-app/coursehub-backend/internal/refunds"
	webhooksvc "github.com/coursehub-app/coursehub-backend/internal/webhooks"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/db"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              *db.Client
	Redis           redis.Pinger
	CheckoutService *checkoutsvc.Service
	PaymentService  *paymentsvc.Service
	RefundService   *refundsvc.Service
	WebhookService  *webhooksvc.Service
	AdminService    *adminsvc.Service
	Metrics         prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, deps.Redis, logg))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	// Gateway callbacks authenticate by signature, not by bearer token.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{provider}", webhookcontrollers.Receive(deps.WebhookService, logg))
	})

	// Fallback for gateways without reliable push delivery. Authenticated
	// by knowledge of the gateway transaction reference.
	r.Post("/api/v1/payments/verify", controllers.VerifyPayment(deps.PaymentService, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/checkout", controllers.Checkout(deps.CheckoutService, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", controllers.ListPayments(deps.PaymentService, logg))
			r.Get("/{paymentID}", controllers.GetPayment(deps.PaymentService, logg))
			r.Post("/{paymentID}/cancel", controllers.CancelPayment(deps.PaymentService, logg))
			r.Get("/{paymentID}/history", controllers.PaymentHistory(deps.PaymentService, logg))
			r.Get("/{paymentID}/invoice", controllers.GetPaymentInvoice(deps.PaymentService, logg))
			r.Post("/{paymentID}/refund", controllers.RequestRefundForPayment(deps.RefundService, logg))
		})

		r.Route("/refunds", func(r chi.Router) {
			r.Get("/policy", controllers.RefundPolicy(deps.RefundService, logg))
			r.Post("/", controllers.RequestRefund(deps.RefundService, logg))
			r.Get("/", controllers.ListMyRefunds(deps.RefundService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/refund-requests", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleModerator, enums.UserRoleAdmin))
			r.Get("/", controllers.AdminListRefundRequests(deps.RefundService, logg))
			r.Post("/{requestID}/approve", controllers.AdminApproveRefund(deps.RefundService, logg))
			r.Post("/{requestID}/reject", controllers.AdminRejectRefund(deps.RefundService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
			r.Get("/transactions", controllers.AdminListTransactions(deps.AdminService, logg))
			r.Get("/transactions/export", controllers.AdminExportTransactions(deps.AdminService, logg))
			r.Get("/revenue", controllers.AdminRevenue(deps.AdminService, logg))
			r.Get("/audit", controllers.AdminAuditTrail(deps.AdminService, logg))
			r.Get("/gateways", controllers.AdminGatewayStatuses(deps.AdminService, logg))
			r.Get("/policy", controllers.AdminGetPolicy(deps.AdminService, logg))
			r.Put("/policy", controllers.AdminUpdatePolicy(deps.AdminService, logg))
		})
	})

	return r
}
