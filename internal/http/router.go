package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/http/handlers"
	"github.com/sublease-marketplace/backend/internal/middleware"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	User      *handlers.UserHandler
	Agreement *handlers.AgreementHandler
	Webhook   *handlers.PaymentWebhookHandler
	Meta      *handlers.MetaHandler
	WSHub     *handlers.WSHub
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Processor callbacks (public, signature-verified)
	app.Post("/webhooks/payments", h.Webhook.HandlePaymentWebhook)

	api := app.Group("/api/v1")

	rateLimit := middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log)

	// Meta (public, rate-limited by IP)
	api.Get("/meta/payment-methods", rateLimit, h.Meta.GetPaymentMethods)
	api.Get("/fees/quote", rateLimit, h.Meta.GetFeeQuote)
	api.Get("/templates", rateLimit, h.Meta.GetTemplates)

	// Protected endpoints, rate-limited per user
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), rateLimit)

	protected.Post("/auth/refresh", h.Auth.Refresh)

	// User
	protected.Get("/me", h.User.GetMe)
	protected.Post("/me/ping", h.User.Ping)

	// Agreements
	protected.Post("/agreements", h.Agreement.CreateAgreement)
	protected.Get("/agreements", h.Agreement.ListAgreements)
	protected.Get("/agreements/:id", h.Agreement.GetAgreement)
	protected.Put("/agreements/:id/draft", h.Agreement.UpdateDraft)
	protected.Delete("/agreements/:id", h.Agreement.DeleteAgreement)
	protected.Post("/agreements/:id/lock", h.Agreement.LockAgreement)
	protected.Post("/agreements/:id/recall", h.Agreement.RecallAgreement)
	protected.Post("/agreements/:id/signature-image", h.Agreement.UploadSignature)
	protected.Post("/agreements/:id/sign", h.Agreement.SignAgreement)
	protected.Post("/agreements/:id/cancel", h.Agreement.CancelAgreement)
	protected.Post("/agreements/:id/decline", h.Agreement.DeclineAgreement)
	protected.Post("/agreements/:id/payments", h.Agreement.BeginPayment)
	protected.Get("/agreements/:id/events", h.Agreement.GetAgreementEvents)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
