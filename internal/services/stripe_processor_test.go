package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/models"
)

var _ PaymentProcessor = (*StripeProcessor)(nil)

func TestStripeProcessor_ParseWebhook(t *testing.T) {
	p := NewStripeProcessor("sk_test_x", "whsec_test", zap.NewNop())
	agreementID := uuid.New()

	event := func(typ, agreement string) []byte {
		return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":{"id":"pi_1","object":"payment_intent","amount":7000,"metadata":{"agreement_id":%q,"party":"tenant","method":"card"}}}}`, typ, agreement))
	}
	sign := func(payload []byte) string {
		return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"}).Header
	}

	t.Run("succeeded", func(t *testing.T) {
		payload := event("payment_intent.succeeded", agreementID.String())
		res, err := p.ParseWebhook(payload, sign(payload))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		want := PaymentResult{
			AgreementID: agreementID,
			Party:       models.PartyTenant,
			Outcome:     models.PaymentStatusSucceeded,
			IntentRef:   "pi_1",
			EventID:     "evt_1",
			Method:      models.PaymentMethodCard,
			Amount:      7000,
		}
		if res == nil || *res != want {
			t.Fatalf("got %+v, want %+v", res, want)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		payload := event("payment_intent.succeeded", agreementID.String())
		if _, err := p.ParseWebhook(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidWebhookSignature) {
			t.Fatalf("expected ErrInvalidWebhookSignature, got %v", err)
		}
	})

	t.Run("unrelated event", func(t *testing.T) {
		payload := event("customer.created", agreementID.String())
		res, err := p.ParseWebhook(payload, sign(payload))
		if err != nil || res != nil {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})

	t.Run("foreign intent", func(t *testing.T) {
		payload := event("payment_intent.succeeded", "")
		res, err := p.ParseWebhook(payload, sign(payload))
		if err != nil || res != nil {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})
}
