package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/payments"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	pkgAuth "github.com/angelmondragon/shophub-settlement/pkg/auth"
	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubPayments struct {
	callbacks []payments.Callback
}

func (s *stubPayments) Initiate(context.Context, payments.InitiateInput) (*payments.InitiateResult, error) {
	return &payments.InitiateResult{}, nil
}

func (s *stubPayments) HandleCallback(_ context.Context, cb payments.Callback) (*payments.CallbackResult, error) {
	s.callbacks = append(s.callbacks, cb)
	return &payments.CallbackResult{Outcome: payments.OutcomeIgnored}, nil
}

type stubCoupons struct {
	coupons.Service
}

func (stubCoupons) Create(_ context.Context, actor types.Actor, input coupons.CreateInput) (*models.Coupon, error) {
	return &models.Coupon{ID: uuid.New(), Code: input.Code, Scope: input.Scope, VendorID: actor.VendorID}, nil
}

type stubVendors struct {
	vendors.Service
}

func (stubVendors) Apply(_ context.Context, input vendors.ApplyInput) (*models.Vendor, error) {
	return &models.Vendor{ID: uuid.New(), UserID: input.UserID, ShopName: input.ShopName, Status: enums.VendorStatusPending}, nil
}

func (stubVendors) List(context.Context, vendors.ListFilter) (pagination.Page[models.Vendor], error) {
	return pagination.Page[models.Vendor]{Items: []models.Vendor{}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test", FrontendURL: "https://shop.example"},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "shophub-identity", ExpirationMinutes: 30},
		Eventing: config.EventingConfig{HTTPIdempotencyTTL: time.Hour},
		Checkout: config.CheckoutConfig{RateLimitWindow: time.Minute, RateLimitPerWindow: 10},
		Payments: config.PaymentsConfig{CallbackPrefix: "/api/v1/payments"},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *stubPayments, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics.NewSettlementMetrics(registry).ObserveCallback("SSL", "ipn", "ignored")
	pay := &stubPayments{}
	router := NewRouter(Deps{
		Config:   testConfig(),
		Pingers:  map[string]controllers.Pinger{"db": stubPinger{}},
		Gatherer: registry,
		Payments: pay,
		Coupons:  stubCoupons{},
		Vendors:  stubVendors{},
	})
	return router, pay, registry
}

func bearer(t *testing.T, role enums.Role, vendorID *uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   uuid.New(),
		Role:     role,
		VendorID: vendorID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router, _, _ := newTestRouter(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "payment_callbacks_total") {
		t.Fatalf("expected settlement metrics in scrape")
	}
}

func TestCustomerRoutesRequireAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/vendors", nil)
	req.Header.Set("Authorization", bearer(t, enums.RoleCustomer, nil))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/vendors", nil)
	req.Header.Set("Authorization", bearer(t, enums.RoleAdmin, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestVendorCouponRoute(t *testing.T) {
	router, _, _ := newTestRouter(t)
	vendorID := uuid.New()
	body := `{"code":"VEND5","discountPercent":"5","minAmount":"0","validFrom":"2026-01-01T00:00:00Z","validTill":"2026-12-31T00:00:00Z"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vendor/coupons", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, enums.RoleVendor, &vendorID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), vendorID.String()) {
		t.Fatalf("expected vendor id in coupon: %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/vendor/coupons", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, enums.RoleCustomer, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestVendorSelfServiceRoutes(t *testing.T) {
	router, _, _ := newTestRouter(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		role   enums.Role
		status int
	}{
		{"customer applies", http.MethodPost, "/api/v1/vendor/apply", `{"shopName":"Bogura Doi"}`, enums.RoleCustomer, http.StatusCreated},
		{"admin cannot apply", http.MethodPost, "/api/v1/vendor/apply", `{"shopName":"Bogura Doi"}`, enums.RoleAdmin, http.StatusForbidden},
		{"customer has no dashboard", http.MethodGet, "/api/v1/vendor/dashboard", "", enums.RoleCustomer, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Authorization", bearer(t, tc.role, nil))
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestGatewayCallbackIsPublic(t *testing.T) {
	router, pay, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/ssl/ipn", strings.NewReader("tran_id=01HZX&status=VALID"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/payments/nagad/cancel?order_id=01HZY", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusFound || resp.Header().Get("Location") != "https://shop.example/cart" {
		t.Fatalf("expected cart redirect got %d %s", resp.Code, resp.Header().Get("Location"))
	}

	if len(pay.callbacks) != 2 || pay.callbacks[0].Reference != "01HZX" || pay.callbacks[1].Reference != "01HZY" {
		t.Fatalf("unexpected callbacks %+v", pay.callbacks)
	}
}
