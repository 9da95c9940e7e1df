package vendors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/api/middleware"
	internalvendors "github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type stubVendors struct {
	internalvendors.Service

	payoutFn    func(ctx context.Context, input internalvendors.PayoutInput) (*internalvendors.PayoutResult, error)
	statusFn    func(ctx context.Context, id uuid.UUID, status enums.VendorStatus) (*models.Vendor, error)
	applyFn     func(ctx context.Context, input internalvendors.ApplyInput) (*models.Vendor, error)
	dashboardFn func(ctx context.Context, userID uuid.UUID) (*internalvendors.Dashboard, error)
}

func (s stubVendors) Apply(ctx context.Context, input internalvendors.ApplyInput) (*models.Vendor, error) {
	return s.applyFn(ctx, input)
}

func (s stubVendors) Dashboard(ctx context.Context, userID uuid.UUID) (*internalvendors.Dashboard, error) {
	return s.dashboardFn(ctx, userID)
}

func (s stubVendors) ApprovePayout(ctx context.Context, input internalvendors.PayoutInput) (*internalvendors.PayoutResult, error) {
	return s.payoutFn(ctx, input)
}

func (s stubVendors) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) (*models.Vendor, error) {
	return s.statusFn(ctx, id, status)
}

func vendorRequest(method, body string, vendorID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("vendorId", vendorID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	return req.WithContext(middleware.WithActor(ctx, types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}))
}

func TestPayoutFullBalanceWhenBodyEmpty(t *testing.T) {
	vendorID := uuid.New()
	svc := stubVendors{payoutFn: func(_ context.Context, input internalvendors.PayoutInput) (*internalvendors.PayoutResult, error) {
		if input.Amount != nil {
			t.Fatalf("expected full balance payout")
		}
		return &internalvendors.PayoutResult{VendorID: input.VendorID, Amount: decimal.NewFromInt(900), NewBalance: decimal.Zero}, nil
	}}

	resp := httptest.NewRecorder()
	Payout(svc, nil).ServeHTTP(resp, vendorRequest(http.MethodPost, "", vendorID))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalvendors.PayoutResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.VendorID != vendorID || !envelope.Data.NewBalance.IsZero() {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestPayoutInsufficientBalance(t *testing.T) {
	svc := stubVendors{payoutFn: func(_ context.Context, input internalvendors.PayoutInput) (*internalvendors.PayoutResult, error) {
		if input.Amount == nil || !input.Amount.Equal(decimal.NewFromInt(5000)) {
			t.Fatalf("expected explicit amount")
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient balance").WithReason(pkgerrors.ReasonInsufficientBalance)
	}}

	resp := httptest.NewRecorder()
	Payout(svc, nil).ServeHTTP(resp, vendorRequest(http.MethodPost, `{"amount":"5000"}`, uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.ReasonInsufficientBalance)) {
		t.Fatalf("expected reason in body: %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	Payout(svc, nil).ServeHTTP(resp, vendorRequest(http.MethodPost, `{"amount":"0"}`, uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount got %d", resp.Code)
	}
}

func TestUpdateStatusNormalizesCase(t *testing.T) {
	svc := stubVendors{statusFn: func(_ context.Context, id uuid.UUID, status enums.VendorStatus) (*models.Vendor, error) {
		if status != enums.VendorStatusSuspended {
			t.Fatalf("unexpected status %s", status)
		}
		return &models.Vendor{ID: id, Status: status}, nil
	}}

	resp := httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(resp, vendorRequest(http.MethodPatch, `{"status":"suspended"}`, uuid.New()))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func selfRequest(method, body string, userID uuid.UUID, role enums.Role) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), types.Actor{UserID: userID, Role: role}))
}

func TestApplyCreatesApplication(t *testing.T) {
	userID := uuid.New()
	svc := stubVendors{applyFn: func(_ context.Context, input internalvendors.ApplyInput) (*models.Vendor, error) {
		if input.UserID != userID || input.ShopName != "Barisal Boats" || input.Address != "Port Road" {
			t.Fatalf("unexpected input %+v", input)
		}
		return &models.Vendor{ID: uuid.New(), UserID: userID, ShopName: input.ShopName, Status: enums.VendorStatusPending}, nil
	}}

	resp := httptest.NewRecorder()
	Apply(svc, nil).ServeHTTP(resp, selfRequest(http.MethodPost, `{"shopName":"Barisal Boats","address":"Port Road"}`, userID, enums.RoleCustomer))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"status":"PENDING"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	Apply(svc, nil).ServeHTTP(resp, selfRequest(http.MethodPost, `{"phone":"017"}`, userID, enums.RoleCustomer))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without shop name got %d", resp.Code)
	}
}

func TestApplyDuplicateIsConflict(t *testing.T) {
	svc := stubVendors{applyFn: func(context.Context, internalvendors.ApplyInput) (*models.Vendor, error) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "vendor application already exists")
	}}

	resp := httptest.NewRecorder()
	Apply(svc, nil).ServeHTTP(resp, selfRequest(http.MethodPost, `{"shopName":"Again"}`, uuid.New(), enums.RoleVendor))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestDashboardForbiddenUntilApproved(t *testing.T) {
	userID := uuid.New()
	approved := false
	svc := stubVendors{dashboardFn: func(_ context.Context, id uuid.UUID) (*internalvendors.Dashboard, error) {
		if id != userID {
			t.Fatalf("unexpected user %s", id)
		}
		if !approved {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor not approved yet")
		}
		return &internalvendors.Dashboard{ShopName: "Comilla Sweets", Balance: decimal.NewFromInt(1800), Status: enums.VendorStatusApproved}, nil
	}}

	resp := httptest.NewRecorder()
	Dashboard(svc, nil).ServeHTTP(resp, selfRequest(http.MethodGet, "", userID, enums.RoleVendor))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	approved = true
	resp = httptest.NewRecorder()
	Dashboard(svc, nil).ServeHTTP(resp, selfRequest(http.MethodGet, "", userID, enums.RoleVendor))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"balance":"1800"`) {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
}
