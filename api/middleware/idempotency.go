package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/shophub-settlement/api/responses"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	pkgredis "github.com/angelmondragon/shophub-settlement/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

type idempotencyRule struct {
	method   string
	segments []string
	critical bool
}

// Money-moving routes keep their keys for a week so a client retrying after a
// long outage still gets the original response.
var idempotencyRules = []idempotencyRule{
	rule(http.MethodPost, "/api/v1/orders", true),
	rule(http.MethodPost, "/api/v1/orders/{orderId}/payments/{gateway}", true),
	rule(http.MethodPost, "/api/v1/refunds", true),
	rule(http.MethodPost, "/api/v1/disputes", false),
	rule(http.MethodPost, "/api/v1/vendor/coupons", false),
	rule(http.MethodPatch, "/api/admin/v1/orders/{orderId}", false),
	rule(http.MethodPatch, "/api/admin/v1/disputes/{disputeId}", true),
	rule(http.MethodPost, "/api/admin/v1/vendors/{vendorId}/payout", true),
	rule(http.MethodPost, "/api/admin/v1/coupons", false),
}

func rule(method, template string, critical bool) idempotencyRule {
	return idempotencyRule{method: method, segments: splitPath(template), critical: critical}
}

func (r idempotencyRule) matches(method string, segments []string) bool {
	if r.method != method || len(r.segments) != len(segments) {
		return false
	}
	for i, want := range r.segments {
		if strings.HasPrefix(want, "{") {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if want != segments[i] {
			return false
		}
	}
	return true
}

type idempotencyRecord struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// inFlight marks a key whose first request has not finished yet. It expires on
// its own if the process dies mid-request.
const (
	inFlight    = "in-flight"
	inFlightTTL = time.Minute
)

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the routes listed above. ttl overrides the default tier when positive.
// A retry that arrives while the first request is still running gets 409.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyTTL, ok := routeTTL(r.Method, r.URL.Path, ttl)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := hashBody(body)
			key := store.IdempotencyKey(buildScope(r), clientKey)

			stored, err := store.Get(ctx, key)
			switch {
			case err != nil && !errors.Is(err, pkgredis.ErrNil):
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			case stored == inFlight:
				fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this key is still in progress"))
				return
			case stored != "":
				var record idempotencyRecord
				if err := json.Unmarshal([]byte(stored), &record); err != nil {
					fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				if record.RequestHash != requestHash {
					fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				writeStoredResponse(w, &record)
				return
			}

			claimed, err := store.SetNX(ctx, key, inFlight, inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this key is still in progress"))
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			finished := false
			defer func() {
				if !finished {
					release(ctx, store, key, logg)
				}
			}()
			next.ServeHTTP(ww, r)
			finished = true

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// 5xx leaves the key free so the client may retry
			if status >= http.StatusInternalServerError {
				release(ctx, store, key, logg)
				return
			}
			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(captured.Bytes()),
				RequestHash: requestHash,
			}
			if ct := ww.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				release(ctx, store, key, logg)
				return
			}
			if err := store.Set(context.WithoutCancel(ctx), key, string(payload), keyTTL); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func release(ctx context.Context, store pkgredis.IdempotencyStore, key string, logg *logger.Logger) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
	}
}

func buildScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func routeTTL(method, path string, base time.Duration) (time.Duration, bool) {
	segments := splitPath(path)
	for _, rule := range idempotencyRules {
		if !rule.matches(method, segments) {
			continue
		}
		if rule.critical && base < criticalIdempotencyTTL {
			return criticalIdempotencyTTL, true
		}
		return base, true
	}
	return 0, false
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
