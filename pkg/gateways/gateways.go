// Package gateways holds the contract shared by the payment gateway adapters.
package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

const (
	ModeDemo = "demo"

	responseReadLimit int64 = 1024
	defaultTimeout          = 15 * time.Second
)

// InitiateRequest is the gateway-neutral description of a checkout session.
type InitiateRequest struct {
	Reference     string
	OrderID       uuid.UUID
	Amount        decimal.Decimal
	Customer      types.ShippingAddress
	CustomerEmail string
	ItemCount     int
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
}

// InitiateResult is the normalized adapter response.
type InitiateResult struct {
	Success          bool
	RedirectURL      string
	GatewayReference string
	FailureReason    string
}

// Gateway opens a hosted checkout session with a payment provider.
type Gateway interface {
	Name() enums.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
}

// Validation is the outcome of re-checking a transaction with the provider.
type Validation struct {
	Status    string
	TranID    string
	ValID     string
	Amount    decimal.Decimal
	BankTxnID string
}

// Valid reports whether the provider considers the transaction settled.
func (v Validation) Valid() bool {
	return IsValidStatus(v.Status)
}

// IsValidStatus matches the statuses providers use for a settled payment.
func IsValidStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "VALID", "VALIDATED":
		return true
	}
	return false
}

// Transport throttles outbound calls so a burst of checkouts cannot trip provider limits.
type Transport struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewTransport(cfg config.PaymentsConfig, client *http.Client) *Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Transport{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// Do waits for a limiter token and executes the request.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if t == nil || t.client == nil {
		return nil, errors.New("gateway transport not configured")
	}
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.client.Do(req)
}

// StatusError turns a non-2xx provider response into an upstream error.
func StatusError(resp *http.Response, action string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	return pkgerrors.Wrap(
		pkgerrors.CodeUpstream,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		action+" failed",
	)
}

// Upstream wraps transport and decode failures.
func Upstream(err error, action string) error {
	return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, action)
}
