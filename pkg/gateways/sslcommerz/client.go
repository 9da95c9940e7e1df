// Package sslcommerz talks to the SSLCommerz hosted checkout (v4 API).
package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
)

const (
	SandboxBaseURL = "https://sandbox.sslcommerz.com"
	LiveBaseURL    = "https://securepay.sslcommerz.com"

	initPath     = "/gwprocess/v4/api.php"
	validatePath = "/validator/api/validationserverAPI.php"

	modeLive = "live"
)

var errCredentialsRequired = errors.New("sslcommerz store id and password are required")

type Client struct {
	transport *gateways.Transport
	baseURL   string
	storeID   string
	storePass string
	demo      bool
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

// NewClient builds the adapter. Demo mode needs no credentials and never calls out.
func NewClient(cfg config.SSLCommerzConfig, payments config.PaymentsConfig, opts ...Option) (*Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	c := &Client{
		transport: gateways.NewTransport(payments, nil),
		baseURL:   SandboxBaseURL,
		storeID:   strings.TrimSpace(cfg.StoreID),
		storePass: cfg.StorePass,
		demo:      mode == gateways.ModeDemo,
	}
	if mode == modeLive {
		c.baseURL = LiveBaseURL
	}
	WithBaseURL(cfg.BaseURL)(c)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if !c.demo && (c.storeID == "" || c.storePass == "") {
		return nil, errCredentialsRequired
	}
	return c, nil
}

func (c *Client) Name() enums.PaymentMethod {
	return enums.PaymentMethodSSL
}

type initResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// Initiate opens a checkout session; tran_id is the attempt reference.
func (c *Client) Initiate(ctx context.Context, req gateways.InitiateRequest) (gateways.InitiateResult, error) {
	if c.demo {
		return gateways.InitiateResult{
			Success:          true,
			RedirectURL:      fmt.Sprintf("%s/gwprocess/v4/gw.php?Q=pay&SESSIONKEY=DEMO_%s", SandboxBaseURL, req.Reference),
			GatewayReference: "DEMO_" + req.Reference,
		}, nil
	}

	form := c.initForm(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initPath, strings.NewReader(form.Encode()))
	if err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "build sslcommerz init request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.transport.Do(httpReq)
	if err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "execute sslcommerz init request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gateways.InitiateResult{}, gateways.StatusError(resp, "sslcommerz init")
	}

	var body initResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gateways.InitiateResult{}, gateways.Upstream(err, "decode sslcommerz init response")
	}

	if !strings.EqualFold(body.Status, "SUCCESS") || body.GatewayPageURL == "" {
		reason := body.FailedReason
		if reason == "" {
			reason = "gateway returned status " + body.Status
		}
		return gateways.InitiateResult{Success: false, FailureReason: reason}, nil
	}
	return gateways.InitiateResult{
		Success:          true,
		RedirectURL:      body.GatewayPageURL,
		GatewayReference: body.SessionKey,
	}, nil
}

func (c *Client) initForm(req gateways.InitiateRequest) url.Values {
	addr := req.Customer
	postcode := addr.PostalCode
	if postcode == "" {
		postcode = "1000"
	}
	email := req.CustomerEmail
	if email == "" {
		email = "customer@example.com"
	}
	items := req.ItemCount
	if items <= 0 {
		items = 1
	}

	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePass)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", "BDT")
	form.Set("tran_id", req.Reference)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.IPNURL)
	form.Set("product_name", "E-commerce Order")
	form.Set("product_category", "General")
	form.Set("product_profile", "general")
	form.Set("cus_name", addr.Name)
	form.Set("cus_email", email)
	form.Set("cus_add1", addr.Address)
	form.Set("cus_city", addr.City)
	form.Set("cus_postcode", postcode)
	form.Set("cus_country", "Bangladesh")
	form.Set("cus_phone", addr.Phone)
	form.Set("shipping_method", "Courier")
	form.Set("ship_name", addr.Name)
	form.Set("ship_add1", addr.Address)
	form.Set("ship_city", addr.City)
	form.Set("ship_postcode", postcode)
	form.Set("ship_country", "Bangladesh")
	form.Set("num_of_item", strconv.Itoa(items))
	form.Set("value_a", req.OrderID.String())
	return form
}

type validationResponse struct {
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	ValID      string `json:"val_id"`
	Amount     string `json:"amount"`
	BankTranID string `json:"bank_tran_id"`
}

// ValidateTransaction re-checks an IPN val_id against the validation API.
func (c *Client) ValidateTransaction(ctx context.Context, valID string) (gateways.Validation, error) {
	valID = strings.TrimSpace(valID)
	if valID == "" {
		return gateways.Validation{}, gateways.Upstream(errors.New("val_id is required"), "validate sslcommerz transaction")
	}
	if c.demo {
		return gateways.Validation{Status: "VALID", ValID: valID}, nil
	}

	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.storePass)
	q.Set("format", "json")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+validatePath+"?"+q.Encode(), nil)
	if err != nil {
		return gateways.Validation{}, gateways.Upstream(err, "build sslcommerz validation request")
	}

	resp, err := c.transport.Do(httpReq)
	if err != nil {
		return gateways.Validation{}, gateways.Upstream(err, "execute sslcommerz validation request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gateways.Validation{}, gateways.StatusError(resp, "sslcommerz validation")
	}

	var body validationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gateways.Validation{}, gateways.Upstream(err, "decode sslcommerz validation response")
	}
	amount, _ := decimal.NewFromString(body.Amount)
	return gateways.Validation{
		Status:    body.Status,
		TranID:    body.TranID,
		ValID:     body.ValID,
		Amount:    amount,
		BankTxnID: body.BankTranID,
	}, nil
}
