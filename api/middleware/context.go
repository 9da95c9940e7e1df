package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxVendorID contextKey = "vendor_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the authenticated caller. ok is false when the
// request did not pass through Auth.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return types.Actor{}, false
	}
	actor := types.Actor{UserID: userID, Role: enums.Role(RoleFromContext(ctx))}
	if raw, ok := ctx.Value(ctxVendorID).(string); ok {
		if vendorID, err := uuid.Parse(raw); err == nil {
			actor.VendorID = &vendorID
		}
	}
	return actor, true
}

// WithActor seeds the context the way Auth does. Used by tests and internal callers.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	if actor.VendorID != nil {
		ctx = context.WithValue(ctx, ctxVendorID, actor.VendorID.String())
	}
	return ctx
}
