package models

import (
	"time"

	"github.com/google/uuid"
)

// Property is a listed unit. Owned by the listing side of the product and
// only read by the agreement engine.
type Property struct {
	ID           uuid.UUID `json:"id"`
	ListerUserID uuid.UUID `json:"lister_user_id"`
	Title        string    `json:"title"`
	Address      string    `json:"address"`
	MonthlyRent  int64     `json:"monthly_rent"` // smallest currency unit
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
}
