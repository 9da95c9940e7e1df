package controllers

import (
	"net/http"

	"github.com/angelmondragon/shophub-settlement/api/middleware"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

// Actor returns the authenticated caller or an unauthorized error.
func Actor(r *http.Request) (types.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}
