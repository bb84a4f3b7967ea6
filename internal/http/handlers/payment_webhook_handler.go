package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/services"
)

const stripeSignatureHeader = "Stripe-Signature"

// WebhookParser authenticates and decodes a processor callback. A nil result
// means the event is not a payment outcome.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (*services.PaymentResult, error)
}

type PaymentRecorder interface {
	RecordPaymentResult(ctx context.Context, res services.PaymentResult) (*models.Agreement, bool, error)
}

type PaymentWebhookHandler struct {
	parser   WebhookParser
	recorder PaymentRecorder
	log      *zap.Logger
}

func NewPaymentWebhookHandler(parser WebhookParser, recorder PaymentRecorder, log *zap.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{parser: parser, recorder: recorder, log: log}
}

// HandlePaymentWebhook answers 2xx for anything that must not be redelivered,
// and an error status when the processor should retry.
func (h *PaymentWebhookHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)

	res, err := h.parser.ParseWebhook(payload, c.Get(stripeSignatureHeader))
	if errors.Is(err, services.ErrInvalidWebhookSignature) {
		h.log.Warn("payment webhook rejected", zap.String("ip", c.IP()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "invalid_signature", Error: "invalid signature"})
	}
	if err != nil {
		return writeError(c, h.log, err)
	}
	if res == nil {
		return c.JSON(dto.WebhookAck{Received: true})
	}

	_, applied, err := h.recorder.RecordPaymentResult(c.UserContext(), *res)
	var nf *models.NotFoundError
	var ve *models.ValidationError
	var ite *models.InvalidTransitionError
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ite) {
		// redelivery cannot fix these; intents are only issued on completed
		// agreements and completion is final
		h.log.Warn("payment webhook dropped",
			zap.String("agreement_id", res.AgreementID.String()),
			zap.String("event_id", res.EventID),
			zap.Error(err))
		return c.JSON(dto.WebhookAck{Received: true})
	}
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.WebhookAck{Received: true, Applied: applied})
}
