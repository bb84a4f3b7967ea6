package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/middleware"
	"github.com/sublease-marketplace/backend/internal/models"
)

// Error codes for failures that carry no code of their own.
const (
	CodeBadRequest             = "bad_request"
	CodeConcurrentModification = "concurrent_modification"
	CodeValidationFailed       = "validation_failed"
	CodeDependencyUnavailable  = "dependency_unavailable"
	CodeNotFound               = "not_found"
	CodeForbidden              = "forbidden"
	CodeInternal               = "internal"
)

// ErrorStatus maps a domain error to its HTTP status and response body.
func ErrorStatus(err error) (int, dto.ErrorResponse) {
	var (
		ite *models.InvalidTransitionError
		cme *models.ConcurrentModificationError
		ve  *models.ValidationError
		de  *models.DependencyError
		nf  *models.NotFoundError
		pe  *models.PermissionError
	)
	switch {
	case errors.As(err, &ite):
		return fiber.StatusConflict, dto.ErrorResponse{Code: ite.Code, Error: err.Error(), CurrentStatus: ite.Status}
	case errors.As(err, &cme):
		return fiber.StatusConflict, dto.ErrorResponse{Code: CodeConcurrentModification, Error: err.Error(), CurrentStatus: cme.Status}
	case errors.As(err, &ve):
		return fiber.StatusUnprocessableEntity, dto.ErrorResponse{Code: CodeValidationFailed, Error: err.Error(), Field: ve.Field}
	case errors.As(err, &de):
		return fiber.StatusServiceUnavailable, dto.ErrorResponse{Code: CodeDependencyUnavailable, Error: de.Dependency + " unavailable, retry later"}
	case errors.As(err, &nf):
		return fiber.StatusNotFound, dto.ErrorResponse{Code: CodeNotFound, Error: err.Error()}
	case errors.As(err, &pe):
		return fiber.StatusForbidden, dto.ErrorResponse{Code: CodeForbidden, Error: err.Error()}
	}
	return fiber.StatusInternalServerError, dto.ErrorResponse{Code: CodeInternal, Error: "internal error"}
}

func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, body := ErrorStatus(err)
	body.RequestID = middleware.GetRequestID(c)
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", body.RequestID),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Code:      CodeBadRequest,
		Error:     msg,
		RequestID: middleware.GetRequestID(c),
	})
}
