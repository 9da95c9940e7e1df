// Package bkash implements the bKash tokenized checkout create call.
package bkash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
)

const (
	grantPath  = "/tokenized/checkout/token/grant"
	createPath = "/tokenized/checkout/create"

	statusOK = "0000"

	// refresh a little before the provider expiry
	tokenSkew = 30 * time.Second
)

var errCredentialsRequired = errors.New("bkash app key, secret, username and password are required")

type Client struct {
	transport *gateways.Transport
	baseURL   string
	appKey    string
	appSecret string
	username  string
	password  string
	demo      bool
	now       func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

func WithTransport(t *gateways.Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

func NewClient(cfg config.BKashConfig, payments config.PaymentsConfig, opts ...Option) (*Client, error) {
	c := &Client{
		transport: gateways.NewTransport(payments, nil),
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		username:  cfg.Username,
		password:  cfg.Password,
		demo:      strings.EqualFold(strings.TrimSpace(cfg.Mode), gateways.ModeDemo),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if !c.demo && (c.appKey == "" || c.appSecret == "" || c.username == "" || c.password == "") {
		return nil, errCredentialsRequired
	}
	return c, nil
}

func (c *Client) Name() enums.PaymentMethod {
	return enums.PaymentMethodBKash
}

type grantResponse struct {
	IDToken       string `json:"id_token"`
	ExpiresIn     int64  `json:"expires_in"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

type createRequest struct {
	Mode                  string `json:"mode"`
	PayerReference        string `json:"payerReference"`
	CallbackURL           string `json:"callbackURL"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

type createResponse struct {
	PaymentID     string `json:"paymentID"`
	BkashURL      string `json:"bkashURL"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// Initiate grants (or reuses) a token and creates a payment. bKash calls the
// success URL back with ?paymentID=&status=success|failure|cancel.
func (c *Client) Initiate(ctx context.Context, req gateways.InitiateRequest) (gateways.InitiateResult, error) {
	if c.demo {
		return gateways.InitiateResult{
			Success:          true,
			RedirectURL:      "https://sandbox.bka.sh/checkout/" + req.OrderID.String(),
			GatewayReference: "BKASH_DEMO_" + req.OrderID.String(),
		}, nil
	}

	token, err := c.idToken(ctx)
	if err != nil {
		return gateways.InitiateResult{}, err
	}

	payload := createRequest{
		Mode:                  "0011",
		PayerReference:        req.Customer.Phone,
		CallbackURL:           req.SuccessURL,
		Amount:                req.Amount.StringFixed(2),
		Currency:              "BDT",
		Intent:                "sale",
		MerchantInvoiceNumber: req.Reference,
	}
	var body createResponse
	if err := c.postJSON(ctx, createPath, payload, map[string]string{"Authorization": token, "X-APP-Key": c.appKey}, &body); err != nil {
		return gateways.InitiateResult{}, err
	}
	if body.StatusCode != statusOK || body.BkashURL == "" {
		return gateways.InitiateResult{Success: false, FailureReason: body.StatusMessage}, nil
	}
	return gateways.InitiateResult{
		Success:          true,
		RedirectURL:      body.BkashURL,
		GatewayReference: body.PaymentID,
	}, nil
}

func (c *Client) idToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var body grantResponse
	err := c.postJSON(ctx, grantPath,
		map[string]string{"app_key": c.appKey, "app_secret": c.appSecret},
		map[string]string{"username": c.username, "password": c.password},
		&body,
	)
	if err != nil {
		return "", err
	}
	if body.IDToken == "" {
		return "", gateways.Upstream(errors.New(body.StatusMessage), "bkash token grant rejected")
	}
	ttl := time.Duration(body.ExpiresIn)*time.Second - tokenSkew
	if ttl < 0 {
		ttl = 0
	}
	c.token = body.IDToken
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, headers map[string]string, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return gateways.Upstream(err, "marshal bkash request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return gateways.Upstream(err, "build bkash request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.transport.Do(httpReq)
	if err != nil {
		return gateways.Upstream(err, "execute bkash request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gateways.StatusError(resp, "bkash "+path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateways.Upstream(err, "decode bkash response")
	}
	return nil
}
