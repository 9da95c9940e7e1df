package types

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	UserID   uuid.UUID
	Role     enums.Role
	VendorID *uuid.UUID
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// Owns reports whether the actor may act on a resource belonging to userID.
func (a Actor) Owns(userID uuid.UUID) bool {
	return a.IsAdmin() || (a.UserID != uuid.Nil && a.UserID == userID)
}
