package events

import (
	"context"

	"github.com/sublease-marketplace/backend/internal/models"
)

// StreamAgreements is the pub/sub channel carrying every agreement event.
const StreamAgreements = "events:agreement"

// Event types
const (
	EventAgreementLocked    = "agreement.locked"
	EventAgreementRecalled  = "agreement.recalled"
	EventAgreementSigned    = "agreement.signed"
	EventAgreementCompleted = "agreement.completed"
	EventAgreementCancelled = "agreement.cancelled"
	EventPaymentUpdated     = "agreement.payment_updated"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// AgreementEvent builds an event addressed to both parties of a.
func AgreementEvent(eventType string, a *models.Agreement, extra map[string]any) Event {
	payload := map[string]any{
		"agreement_id":   a.ID.String(),
		"property_id":    a.PropertyID.String(),
		"lister_user_id": a.ListerUserID.String(),
		"tenant_user_id": a.TenantUserID.String(),
		"status":         a.Status,
		"version":        a.Version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{Type: eventType, Payload: payload}
}

// Recipients returns the user ids an event should be delivered to.
func (e Event) Recipients() []string {
	var out []string
	for _, key := range []string{"lister_user_id", "tenant_user_id"} {
		if id, ok := e.Payload[key].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}
