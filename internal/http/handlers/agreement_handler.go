package handlers

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/middleware"
	"github.com/sublease-marketplace/backend/internal/services"
)

type AgreementHandler struct {
	agreements        *services.AgreementService
	payments          *services.PaymentService
	maxSignatureBytes int
	log               *zap.Logger
}

func NewAgreementHandler(agreements *services.AgreementService, payments *services.PaymentService, maxSignatureBytes int, log *zap.Logger) *AgreementHandler {
	return &AgreementHandler{agreements: agreements, payments: payments, maxSignatureBytes: maxSignatureBytes, log: log}
}

func (h *AgreementHandler) CreateAgreement(c *fiber.Ctx) error {
	var req dto.InitiateAgreementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return badRequest(c, "invalid property_id")
	}
	tenantID, err := uuid.Parse(req.TenantUserID)
	if err != nil {
		return badRequest(c, "invalid tenant_user_id")
	}

	a, created, err := h.agreements.Initiate(c.UserContext(), middleware.GetUserID(c), services.InitiateInput{
		PropertyID:          propertyID,
		TenantUserID:        tenantID,
		TemplateKey:         req.TemplateKey,
		TemplateBody:        req.TemplateBody,
		Variables:           req.Variables,
		ListerPaymentMethod: req.ListerPaymentMethod,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: services.NewAgreementView(a, "lister")})
}

func (h *AgreementHandler) ListAgreements(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	list, err := h.agreements.List(c.UserContext(), middleware.GetUserID(c), c.Query("role"), c.Query("status"), limit, offset)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *AgreementHandler) GetAgreement(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	view, err := h.agreements.Get(c.UserContext(), middleware.GetUserID(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

func (h *AgreementHandler) UpdateDraft(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	var req dto.UpdateDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ExpectedVersion, err = expectedVersion(c, req.ExpectedVersion); err != nil {
		return badRequest(c, err.Error())
	}

	a, err := h.agreements.UpdateDraft(c.UserContext(), middleware.GetUserID(c), id, services.UpdateDraftInput{
		ExpectedVersion:     req.ExpectedVersion,
		TemplateBody:        req.TemplateBody,
		Variables:           req.Variables,
		RentAmount:          req.RentAmount,
		ListerPaymentMethod: req.ListerPaymentMethod,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: services.NewAgreementView(a, "lister")})
}

func (h *AgreementHandler) DeleteAgreement(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	if err := h.agreements.Delete(c.UserContext(), middleware.GetUserID(c), id); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AgreementHandler) LockAgreement(c *fiber.Ctx) error {
	id, req, err := transitionRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.agreements.Lock(c.UserContext(), middleware.GetUserID(c), id, req.ExpectedVersion)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

func (h *AgreementHandler) RecallAgreement(c *fiber.Ctx) error {
	id, req, err := transitionRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.agreements.Recall(c.UserContext(), middleware.GetUserID(c), id, req.ExpectedVersion)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

func (h *AgreementHandler) CancelAgreement(c *fiber.Ctx) error {
	id, req, err := transitionRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.agreements.Cancel(c.UserContext(), middleware.GetUserID(c), id, req.ExpectedVersion, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

func (h *AgreementHandler) DeclineAgreement(c *fiber.Ctx) error {
	id, req, err := transitionRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.agreements.Decline(c.UserContext(), middleware.GetUserID(c), id, req.ExpectedVersion, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

func (h *AgreementHandler) SignAgreement(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	var req dto.SignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SignatureImageRef == "" {
		return badRequest(c, "signature_image_ref is required")
	}
	if req.ExpectedVersion, err = expectedVersion(c, req.ExpectedVersion); err != nil {
		return badRequest(c, err.Error())
	}

	a, err := h.agreements.Sign(c.UserContext(), middleware.GetUserID(c), id, services.SignInput{
		SignatureImageRef: req.SignatureImageRef,
		PaymentMethod:     req.PaymentMethod,
		ExpectedVersion:   req.ExpectedVersion,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

// UploadSignature accepts a multipart "signature" file or a raw image body.
func (h *AgreementHandler) UploadSignature(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}

	var data []byte
	if fh, err := c.FormFile("signature"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return badRequest(c, "cannot read signature file")
		}
		defer f.Close()
		if data, err = io.ReadAll(io.LimitReader(f, int64(h.maxSignatureBytes)+1)); err != nil {
			return badRequest(c, "cannot read signature file")
		}
	} else {
		data = c.Body()
	}

	url, err := h.agreements.UploadSignatureImage(c.UserContext(), middleware.GetUserID(c), id, data)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.SignatureUploadResponse{SignatureImageRef: url}})
}

func (h *AgreementHandler) BeginPayment(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	var req dto.BeginPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Method == "" {
		return badRequest(c, "method is required (card, bank_transfer)")
	}

	handle, err := h.payments.BeginPayment(c.UserContext(), middleware.GetUserID(c), id, req.Party, req.Method)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: handle})
}

func (h *AgreementHandler) GetAgreementEvents(c *fiber.Ctx) error {
	id, err := agreementID(c)
	if err != nil {
		return badRequest(c, "invalid agreement id")
	}
	limit, offset := pagination(c)
	logs, err := h.agreements.Events(c.UserContext(), middleware.GetUserID(c), id, limit, offset)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func agreementID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

// transitionRequest parses the id and the optional body of a status transition.
func transitionRequest(c *fiber.Ctx) (uuid.UUID, dto.TransitionRequest, error) {
	var req dto.TransitionRequest
	id, err := agreementID(c)
	if err != nil {
		return id, req, fiber.NewError(fiber.StatusBadRequest, "invalid agreement id")
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return id, req, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	req.ExpectedVersion, err = expectedVersion(c, req.ExpectedVersion)
	return id, req, err
}

// expectedVersion prefers the body field and falls back to an If-Match
// header carrying the version, quoted or not.
func expectedVersion(c *fiber.Ctx, fromBody *int) (*int, error) {
	if fromBody != nil {
		return fromBody, nil
	}
	raw := c.Get(fiber.HeaderIfMatch)
	if raw == "" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(strings.TrimSpace(raw), "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return nil, errors.New("If-Match must carry the agreement version")
	}
	return &v, nil
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
