// Package nagad implements a simplified Nagad checkout initialize call.
package nagad

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
)

const initializePath = "/check-out/initialize"

var errMerchantRequired = errors.New("nagad merchant id is required")

type Client struct {
	transport  *gateways.Transport
	baseURL    string
	merchantID string
	demo       bool
	now        func() time.Time
}

type Option func(*Client)

func WithTransport(t *gateways.Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

func NewClient(cfg config.NagadConfig, payments config.PaymentsConfig, opts ...Option) (*Client, error) {
	c := &Client{
		transport:  gateways.NewTransport(payments, nil),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		merchantID: strings.TrimSpace(cfg.MerchantID),
		demo:       strings.EqualFold(strings.TrimSpace(cfg.Mode), gateways.ModeDemo),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if !c.demo && c.merchantID == "" {
		return nil, errMerchantRequired
	}
	return c, nil
}

func (c *Client) Name() enums.PaymentMethod {
	return enums.PaymentMethodNagad
}

type initializeRequest struct {
	MerchantID  string `json:"merchantId"`
	OrderID     string `json:"orderId"`
	Amount      string `json:"amount"`
	CallbackURL string `json:"merchantCallbackURL"`
	DateTime    string `json:"datetime"`
}

type initializeResponse struct {
	PaymentRefID string `json:"paymentRefId"`
	RedirectURL  string `json:"redirectUrl"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// Initiate posts the order to the initialize endpoint; the attempt reference is
// used as the Nagad order id.
func (c *Client) Initiate(ctx context.Context, req gateways.InitiateRequest) (gateways.InitiateResult, error) {
	if c.demo {
		return gateways.InitiateResult{
			Success:          true,
			RedirectURL:      "https://sandbox.nagad.com.bd/pay/" + req.OrderID.String(),
			GatewayReference: "NAGAD_DEMO_" + req.OrderID.String(),
		}, nil
	}

	payload := initializeRequest{
		MerchantID:  c.merchantID,
		OrderID:     req.Reference,
		Amount:      req.Amount.StringFixed(2),
		CallbackURL: req.SuccessURL,
		DateTime:    c.now().UTC().Format("20060102150405"),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "marshal nagad request")
	}

	endpoint := fmt.Sprintf("%s%s/%s/%s", c.baseURL, initializePath, url.PathEscape(c.merchantID), url.PathEscape(req.Reference))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "build nagad request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-KM-Api-Version", "v-0.2.0")

	resp, err := c.transport.Do(httpReq)
	if err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "execute nagad request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gateways.InitiateResult{}, gateways.StatusError(resp, "nagad initialize")
	}

	var body initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "decode nagad response")
	}
	if !strings.EqualFold(body.Status, "Success") || body.RedirectURL == "" {
		return gateways.InitiateResult{Success: false, FailureReason: body.Message}, nil
	}
	return gateways.InitiateResult{
		Success:          true,
		RedirectURL:      body.RedirectURL,
		GatewayReference: body.PaymentRefID,
	}, nil
}
