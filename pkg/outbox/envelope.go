package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Source tags every envelope this service writes.
const Source = "shophub-settlement"

// ActorRef identifies who produced the event. Nil for system events such as
// gateway callbacks and order expiry.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the body stored in outbox_events.payload and published
// to Pub/Sub unchanged.
type PayloadEnvelope struct {
	Version    int                   `json:"version"`
	EventID    string                `json:"eventId"`
	Type       enums.OutboxEventType `json:"type,omitempty"`
	Source     string                `json:"source,omitempty"`
	OccurredAt time.Time             `json:"occurredAt"`
	Actor      *ActorRef             `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}
