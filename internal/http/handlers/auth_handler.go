package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/auth"
	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/middleware"
)

// AuthHandler only renews tokens; sign-in is handled by the identity
// provider in front of this service.
type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// Refresh exchanges a still-valid token for one with a fresh expiry.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, userID, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.String("user_id", userID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: CodeInternal, Error: "failed to generate token"})
	}
	return c.JSON(dto.AuthResponse{Token: token})
}
