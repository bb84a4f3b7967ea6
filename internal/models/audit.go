package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor types
const (
	ActorTypeUser      = "user"
	ActorTypeSystem    = "system"
	ActorTypeProcessor = "processor"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"` // user/system/processor
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	FromStatus  *string    `json:"from_status,omitempty"`
	ToStatus    *string    `json:"to_status,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
