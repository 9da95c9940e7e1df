package refunds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/api/middleware"
	internalrefunds "github.com/angelmondragon/shophub-settlement/internal/refunds"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type stubRefunds struct {
	internalrefunds.Service

	requestFn func(ctx context.Context, input internalrefunds.RequestInput) (*models.Refund, error)
	listAllFn func(ctx context.Context, filter internalrefunds.ListFilter, params pagination.Params) (pagination.Page[models.Refund], error)
}

func (s stubRefunds) Request(ctx context.Context, input internalrefunds.RequestInput) (*models.Refund, error) {
	return s.requestFn(ctx, input)
}

func (s stubRefunds) ListAll(ctx context.Context, filter internalrefunds.ListFilter, params pagination.Params) (pagination.Page[models.Refund], error) {
	return s.listAllFn(ctx, filter, params)
}

func TestRequestRefund(t *testing.T) {
	orderID := uuid.New()
	actor := types.Actor{UserID: uuid.New(), Role: enums.RoleCustomer}
	svc := stubRefunds{requestFn: func(_ context.Context, input internalrefunds.RequestInput) (*models.Refund, error) {
		if input.OrderID != orderID || input.UserID != actor.UserID || input.Reason != "wrong size" {
			t.Fatalf("unexpected input %+v", input)
		}
		if input.Amount == nil || !input.Amount.Equal(decimal.NewFromInt(300)) {
			t.Fatalf("expected amount 300")
		}
		return &models.Refund{ID: uuid.New(), OrderID: orderID, Status: enums.RefundStatusPending}, nil
	}}

	body := `{"orderId":"` + orderID.String() + `","reason":" wrong size ","amount":"300"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	resp := httptest.NewRecorder()
	Request(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(`{"orderId":"`+orderID.String()+`","reason":"x","amount":"-5"}`))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	resp = httptest.NewRecorder()
	Request(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminListStatusFilter(t *testing.T) {
	svc := stubRefunds{listAllFn: func(_ context.Context, filter internalrefunds.ListFilter, _ pagination.Params) (pagination.Page[models.Refund], error) {
		if filter.Status == nil || *filter.Status != enums.RefundStatusApproved || filter.OrderID != nil {
			t.Fatalf("unexpected filter %+v", filter)
		}
		return pagination.Page[models.Refund]{}, nil
	}}
	resp := httptest.NewRecorder()
	AdminList(svc, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?status=approved", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	AdminList(svc, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?orderId=nope", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
