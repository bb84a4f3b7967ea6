package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/models"
)

var (
	// ErrInvalidWebhookSignature is returned by ParseWebhook for an unauthenticated payload.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
	// ErrIntentNotCancellable means the intent is processing or already succeeded.
	ErrIntentNotCancellable = errors.New("payment intent cannot be cancelled")
)

var stripeMethodTypes = map[string][]string{
	models.PaymentMethodCard:         {"card"},
	models.PaymentMethodBankTransfer: {"us_bank_account"},
}

var stripeOutcomes = map[stripe.EventType]string{
	"payment_intent.processing":     models.PaymentStatusProcessing,
	"payment_intent.succeeded":      models.PaymentStatusSucceeded,
	"payment_intent.payment_failed": models.PaymentStatusFailed,
}

// StripeProcessor issues PaymentIntents and decodes their webhooks.
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func NewStripeProcessor(secretKey, webhookSecret string, log *zap.Logger) *StripeProcessor {
	return &StripeProcessor{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	types, ok := stripeMethodTypes[req.Method]
	if !ok {
		return nil, fmt.Errorf("no stripe payment method for %s", req.Method)
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice(types),
		Description:        stripe.String(fmt.Sprintf("Platform fee (%s) for agreement %s", req.Party, req.AgreementID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("agreement_id", req.AgreementID.String())
	params.AddMetadata("party", req.Party)
	params.AddMetadata("method", req.Method)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	p.log.Debug("payment intent created",
		zap.String("intent", pi.ID),
		zap.String("agreement_id", req.AgreementID.String()),
		zap.String("party", req.Party))
	return &Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// CancelIntent voids an intent that was superseded by a newer one so it can
// no longer be confirmed client-side.
func (p *StripeProcessor) CancelIntent(ctx context.Context, ref string) error {
	get := &stripe.PaymentIntentParams{}
	get.Context = ctx
	pi, err := p.api.PaymentIntents.Get(ref, get)
	if err != nil {
		return fmt.Errorf("get payment intent: %w", err)
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return nil
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusSucceeded:
		return fmt.Errorf("%w: %s is %s", ErrIntentNotCancellable, ref, pi.Status)
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("cancel payment intent: %w", err)
	}
	p.log.Info("payment intent cancelled", zap.String("intent", ref))
	return nil
}

// ParseWebhook verifies and decodes a Stripe event. Events that carry no
// payment outcome return nil, nil.
func (p *StripeProcessor) ParseWebhook(payload []byte, signatureHeader string) (*PaymentResult, error) {
	if err := webhook.ValidatePayload(payload, signatureHeader, p.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, models.NewValidationError("payload", "malformed event")
	}
	outcome, ok := stripeOutcomes[event.Type]
	if !ok || event.Data == nil {
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, models.NewValidationError("payload", "malformed payment intent")
	}
	agreementID, err := uuid.Parse(pi.Metadata["agreement_id"])
	if err != nil {
		// not one of ours
		p.log.Debug("ignoring payment intent without agreement", zap.String("intent", pi.ID))
		return nil, nil
	}

	return &PaymentResult{
		AgreementID: agreementID,
		Party:       pi.Metadata["party"],
		Outcome:     outcome,
		IntentRef:   pi.ID,
		EventID:     event.ID,
		Method:      pi.Metadata["method"],
		Amount:      pi.Amount,
	}, nil
}
