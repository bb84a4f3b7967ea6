package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/fees"
	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/templates"
)

type MetaHandler struct {
	schedule fees.Schedule
	currency string
	library  *templates.Library
	log      *zap.Logger
}

func NewMetaHandler(schedule fees.Schedule, currency string, library *templates.Library, log *zap.Logger) *MetaHandler {
	return &MetaHandler{schedule: schedule, currency: currency, library: library, log: log}
}

type MetaPaymentMethod struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	RateBPS int64  `json:"rate_bps"`
}

var paymentMethodLabels = map[string]string{
	models.PaymentMethodCard:         "Card",
	models.PaymentMethodBankTransfer: "Bank transfer",
}

type TemplateSummary struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body"`
}

func (h *MetaHandler) GetPaymentMethods(c *fiber.Ctx) error {
	methods := make([]MetaPaymentMethod, 0, len(models.AllPaymentMethods))
	for _, m := range models.AllPaymentMethods {
		rate, _ := h.schedule.RateBPS(m)
		methods = append(methods, MetaPaymentMethod{ID: m, Label: paymentMethodLabels[m], RateBPS: rate})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: methods})
}

// GetFeeQuote previews what one party would be charged: ?rent=<minor units>&method=.
func (h *MetaHandler) GetFeeQuote(c *fiber.Ctx) error {
	rent, err := strconv.ParseInt(c.Query("rent"), 10, 64)
	if err != nil {
		return badRequest(c, "rent must be an integer amount in minor units")
	}
	method := c.Query("method", models.PaymentMethodCard)

	q, err := h.schedule.Calculate(rent, method)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"quote":    q,
		"currency": h.currency,
	}})
}

func (h *MetaHandler) GetTemplates(c *fiber.Ctx) error {
	list := h.library.List()
	out := make([]TemplateSummary, 0, len(list))
	for _, t := range list {
		out = append(out, TemplateSummary{Key: t.Key, Name: t.Name, Description: t.Description, Body: t.Body})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}
