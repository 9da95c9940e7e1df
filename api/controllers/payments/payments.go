package payments

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/responses"
	"github.com/angelmondragon/shophub-settlement/api/validators"
	internalpayments "github.com/angelmondragon/shophub-settlement/internal/payments"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
)

// CustomerDirectory supplies the email gateways print on their checkout page.
type CustomerDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// referenceKeys lists the fields each gateway uses for its transaction
// reference. "ref" is the query parameter we append to our own callback URLs.
var referenceKeys = map[enums.PaymentMethod][]string{
	enums.PaymentMethodSSL:   {"tran_id", "ref"},
	enums.PaymentMethodBKash: {"merchantInvoiceNumber", "ref", "paymentID"},
	enums.PaymentMethodNagad: {"order_id", "ref", "payment_ref_id"},
}

// Initiate starts a gateway payment for one of the caller's orders.
func Initiate(svc internalpayments.Service, users CustomerDirectory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		gateway, err := parseGateway(chi.URLParam(r, "gateway"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}

		input := internalpayments.InitiateInput{
			OrderID: orderID,
			Gateway: gateway,
			Actor:   actor,
		}
		if users != nil {
			if user, err := users.FindByID(ctx, actor.UserID); err == nil && user != nil {
				input.CustomerEmail = user.Email
			}
		}

		result, err := svc.Initiate(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Callback receives gateway notifications. It always acknowledges: IPNs get a
// bare 200 and browser redirects are sent back to the storefront. Processing
// errors are logged, never surfaced to the gateway.
func Callback(svc internalpayments.Service, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	frontendURL = strings.TrimRight(frontendURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gateway, gatewayErr := parseGateway(chi.URLParam(r, "gateway"))
		event, eventErr := internalpayments.ParseEvent(chi.URLParam(r, "event"))
		if gatewayErr != nil || eventErr != nil {
			logCallback(ctx, logg, "payment.callback.unroutable", map[string]any{
				"gateway": chi.URLParam(r, "gateway"),
				"event":   chi.URLParam(r, "event"),
			}, nil)
			acknowledge(w, r, event, frontendURL+"/failed")
			return
		}

		values := callbackValues(r)
		cb := internalpayments.Callback{
			Gateway:       gateway,
			Event:         event,
			Reference:     firstValue(values, referenceKeys[gateway]...),
			GatewayStatus: firstValue(values, "status", "transactionStatus"),
			ValidationID:  firstValue(values, "val_id"),
		}

		fields := map[string]any{
			"gateway":   string(gateway),
			"event":     string(event),
			"reference": cb.Reference,
		}
		result, err := svc.HandleCallback(ctx, cb)
		if err != nil {
			// Acknowledged callbacks are not redelivered, so a lost payment needs a human.
			if settles(event) && logg != nil {
				logg.Alert(logg.WithFields(ctx, fields), "payment.callback.dropped", err)
			} else {
				logCallback(ctx, logg, "payment.callback.failed", fields, err)
			}
			acknowledge(w, r, event, redirectTarget(frontendURL, event, nil, true))
			return
		}

		if result != nil {
			fields["outcome"] = string(result.Outcome)
		}
		logCallback(ctx, logg, "payment.callback.handled", fields, nil)
		acknowledge(w, r, event, redirectTarget(frontendURL, event, result, false))
	}
}

func settles(event internalpayments.Event) bool {
	return event == internalpayments.EventIPN || event == internalpayments.EventSuccess
}

// redirectTarget picks the storefront page a browser redirect lands on.
func redirectTarget(frontendURL string, event internalpayments.Event, result *internalpayments.CallbackResult, failed bool) string {
	failedPage := frontendURL + "/failed"
	if failed {
		return failedPage
	}
	switch event {
	case internalpayments.EventSuccess:
		if result == nil || result.OrderID == uuid.Nil {
			return failedPage
		}
		q := url.Values{"order": {result.OrderID.String()}}
		switch result.Outcome {
		case internalpayments.OutcomePaid, internalpayments.OutcomeDuplicate:
		case internalpayments.OutcomeAwaitingIPN:
			q.Set("status", "pending")
		default:
			return failedPage
		}
		return frontendURL + "/success?" + q.Encode()
	case internalpayments.EventCancel:
		return frontendURL + "/cart"
	}
	return failedPage
}

func parseGateway(raw string) (enums.PaymentMethod, error) {
	method, err := enums.ParsePaymentMethod(validators.NormalizeEnum(raw))
	if err != nil || !method.IsGateway() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported gateway").WithDetails(map[string]any{"gateway": raw})
	}
	return method, nil
}

// callbackValues merges the posted form with the query string. Gateways post
// form bodies on redirects and IPN but some retry with GET.
func callbackValues(r *http.Request) url.Values {
	if err := r.ParseForm(); err != nil {
		return r.URL.Query()
	}
	return r.Form
}

func firstValue(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// acknowledge answers the gateway: a bare 200 for IPN, a redirect otherwise.
func acknowledge(w http.ResponseWriter, r *http.Request, event internalpayments.Event, target string) {
	if event == internalpayments.EventIPN || event == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func logCallback(ctx context.Context, logg *logger.Logger, msg string, fields map[string]any, err error) {
	if logg == nil {
		return
	}
	logCtx := logg.WithFields(ctx, fields)
	if err != nil {
		logg.Error(logCtx, msg, err)
		return
	}
	logg.Info(logCtx, msg)
}
