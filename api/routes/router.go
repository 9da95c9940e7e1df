package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	couponcontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/coupons"
	disputecontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/disputes"
	ordercontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/payments"
	refundcontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/refunds"
	vendorcontrollers "github.com/angelmondragon/shophub-settlement/api/controllers/vendors"
	"github.com/angelmondragon/shophub-settlement/api/middleware"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/disputes"
	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/internal/payments"
	"github.com/angelmondragon/shophub-settlement/internal/refunds"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/redis"
)

// Deps are the collaborators the HTTP surface needs. Payments should already
// be wrapped with the callback idempotency guard.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	Pingers     map[string]controllers.Pinger
	Idempotency redis.IdempotencyStore
	RateLimiter redis.RateLimiter
	Gatherer    prometheus.Gatherer

	Orders   orders.Service
	Payments payments.Service
	Refunds  refunds.Service
	Disputes disputes.Service
	Coupons  coupons.Service
	Vendors  vendors.Service
	Users    paymentcontrollers.CustomerDirectory
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.CORS(cfg.App.FrontendURL),
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	checkoutLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:   "checkout",
		Window: cfg.Checkout.RateLimitWindow,
		Limit:  cfg.Checkout.RateLimitPerWindow,
	}, deps.RateLimiter, logg)
	paymentLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:   "payment-initiate",
		Window: cfg.Checkout.RateLimitWindow,
		Limit:  cfg.Checkout.RateLimitPerWindow,
	}, deps.RateLimiter, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Gateways call back without credentials; every path acknowledges.
	callback := paymentcontrollers.Callback(deps.Payments, cfg.App.FrontendURL, logg)
	r.Route(cfg.Payments.CallbackPrefix, func(r chi.Router) {
		r.Post("/{gateway}/{event}", callback)
		r.Get("/{gateway}/{event}", callback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Get("/coupons", couponcontrollers.List(deps.Coupons, logg))
		r.Post("/coupons/{code}/apply", couponcontrollers.Apply(deps.Coupons, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleCustomer))

			r.With(checkoutLimit).Post("/checkout/preview", ordercontrollers.Preview(deps.Orders, logg))
			r.Route("/orders", func(r chi.Router) {
				r.With(checkoutLimit).Post("/", ordercontrollers.Create(deps.Orders, logg))
				r.Get("/", ordercontrollers.ListMine(deps.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Get(deps.Orders, logg))
				r.Get("/{orderId}/invoice", ordercontrollers.Invoice(deps.Orders, logg))
				r.With(paymentLimit).Post("/{orderId}/payments/{gateway}", paymentcontrollers.Initiate(deps.Payments, deps.Users, logg))
			})
			r.Route("/refunds", func(r chi.Router) {
				r.Post("/", refundcontrollers.Request(deps.Refunds, logg))
				r.Get("/", refundcontrollers.ListMine(deps.Refunds, logg))
			})
			r.Post("/disputes", disputecontrollers.Create(deps.Disputes, logg))
		})

		r.Route("/vendor", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleCustomer, enums.RoleVendor))
				r.Post("/apply", vendorcontrollers.Apply(deps.Vendors, logg))
				r.Get("/me", vendorcontrollers.Profile(deps.Vendors, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleVendor))
				r.Get("/dashboard", vendorcontrollers.Dashboard(deps.Vendors, logg))
				r.Post("/coupons", couponcontrollers.Create(deps.Coupons, enums.CouponScopeVendor, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Get(deps.Orders, logg))
			r.Patch("/{orderId}", ordercontrollers.AdminPatch(deps.Orders, logg))
			r.Get("/{orderId}/invoice", ordercontrollers.Invoice(deps.Orders, logg))
		})
		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.AdminList(deps.Disputes, logg))
			r.Get("/{disputeId}", disputecontrollers.Get(deps.Disputes, logg))
			r.Patch("/{disputeId}", disputecontrollers.AdminResolve(deps.Disputes, logg))
		})
		r.Get("/refunds", refundcontrollers.AdminList(deps.Refunds, logg))
		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", vendorcontrollers.List(deps.Vendors, logg))
			r.Get("/{vendorId}", vendorcontrollers.Get(deps.Vendors, logg))
			r.Patch("/{vendorId}/status", vendorcontrollers.UpdateStatus(deps.Vendors, logg))
			r.Patch("/{vendorId}/commission", vendorcontrollers.UpdateCommission(deps.Vendors, logg))
			r.Post("/{vendorId}/payout", vendorcontrollers.Payout(deps.Vendors, logg))
			r.Get("/{vendorId}/ledger", vendorcontrollers.Ledger(deps.Vendors, logg))
		})
		r.Post("/coupons", couponcontrollers.Create(deps.Coupons, enums.CouponScopeGlobal, logg))
	})

	return r
}
