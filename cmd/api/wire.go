package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/routes"
	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/disputes"
	"github.com/angelmondragon/shophub-settlement/internal/ledger"
	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/internal/payments"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/internal/refunds"
	"github.com/angelmondragon/shophub-settlement/internal/users"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/internal/webhooks"
	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways/bkash"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways/nagad"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways/sslcommerz"
	"github.com/angelmondragon/shophub-settlement/pkg/invoice"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/redis"
)

const invoiceBrand = "ShopHub"

// buildDeps constructs every repository and service the HTTP surface needs.
func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg *prometheus.Registry) (routes.Deps, error) {
	conn := dbClient.DB()
	settlementMetrics := metrics.NewSettlementMetrics(reg)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	orderRepo := orders.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	couponRepo := coupons.NewRepository(conn)
	vendorRepo := vendors.NewRepository(conn)
	refundRepo := refunds.NewRepository(conn)
	userRepo := users.NewRepository(conn)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return routes.Deps{}, fmt.Errorf("ledger service: %w", err)
	}

	distributor, err := commission.NewDistributor(commission.DistributorParams{
		Vendors: vendorRepo,
		Ledger:  ledgerSvc,
		Outbox:  emitter,
		Logger:  logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("commission distributor: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orderRepo,
		Products:   productRepo,
		Coupons:    couponRepo,
		Commission: distributor,
		Tx:         dbClient,
		Outbox:     emitter,
		Pricing: orders.Pricing{
			FreeShippingThreshold: cfg.Checkout.Threshold(),
			FlatShippingFee:       cfg.Checkout.ShippingFee(),
		},
		Invoices: invoice.NewRenderer(invoiceBrand),
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("order service: %w", err)
	}

	gatewayList, ssl, err := buildGateways(cfg)
	if err != nil {
		return routes.Deps{}, err
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Attempts:        payments.NewRepository(conn),
		Orders:          orderRepo,
		Lifecycle:       orderSvc,
		Gateways:        gatewayList,
		Validator:       ssl,
		VerifyIPN:       cfg.Payments.VerifyIPN,
		CallbackBaseURL: strings.TrimRight(cfg.App.PublicURL, "/") + cfg.Payments.CallbackPrefix,
		Tx:              dbClient,
		Outbox:          emitter,
		Metrics:         settlementMetrics,
		Logger:          logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("payment service: %w", err)
	}

	guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.CallbackIdempotencyTTL)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("callback guard: %w", err)
	}
	guardedPayments, err := webhooks.NewGuardedHandler(paymentSvc, guard, logg)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("guarded payments: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:   refundRepo,
		Orders: orderRepo,
		Tx:     dbClient,
		Outbox: emitter,
		Logger: logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("refund service: %w", err)
	}

	disputeSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:       disputes.NewRepository(conn),
		Orders:     orderRepo,
		Products:   productRepo,
		Refunds:    refundRepo,
		Commission: distributor,
		Users:      userRepo,
		Tx:         dbClient,
		Outbox:     emitter,
		Metrics:    settlementMetrics,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("dispute service: %w", err)
	}

	couponSvc, err := coupons.NewService(couponRepo, productRepo)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("coupon service: %w", err)
	}

	vendorSvc, err := vendors.NewService(vendors.ServiceParams{
		Repo:    vendorRepo,
		Ledger:  ledgerSvc,
		Tx:      dbClient,
		Outbox:  emitter,
		Metrics: settlementMetrics,
		Logger:  logg,
	})
	if err != nil {
		return routes.Deps{}, fmt.Errorf("vendor service: %w", err)
	}

	return routes.Deps{
		Config: cfg,
		Logger: logg,
		Pingers: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Idempotency: redisClient,
		RateLimiter: redisClient,
		Gatherer:    reg,
		Orders:      orderSvc,
		Payments:    guardedPayments,
		Refunds:     refundSvc,
		Disputes:    disputeSvc,
		Coupons:     couponSvc,
		Vendors:     vendorSvc,
		Users:       userRepo,
	}, nil
}

// buildGateways returns the hosted-checkout providers. SSLCommerz is also the
// IPN validator.
func buildGateways(cfg *config.Config) ([]gateways.Gateway, *sslcommerz.Client, error) {
	httpClient := &http.Client{Timeout: cfg.Payments.Timeout}
	transport := gateways.NewTransport(cfg.Payments, httpClient)

	ssl, err := sslcommerz.NewClient(cfg.SSLCommerz, cfg.Payments, sslcommerz.WithTransport(transport))
	if err != nil {
		return nil, nil, fmt.Errorf("sslcommerz client: %w", err)
	}
	bk, err := bkash.NewClient(cfg.BKash, cfg.Payments, bkash.WithTransport(transport))
	if err != nil {
		return nil, nil, fmt.Errorf("bkash client: %w", err)
	}
	ng, err := nagad.NewClient(cfg.Nagad, cfg.Payments, nagad.WithTransport(transport))
	if err != nil {
		return nil, nil, fmt.Errorf("nagad client: %w", err)
	}
	return []gateways.Gateway{ssl, bk, ng}, ssl, nil
}
