package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/db"
	"github.com/sublease-marketplace/backend/internal/events"
	apphttp "github.com/sublease-marketplace/backend/internal/http"
	"github.com/sublease-marketplace/backend/internal/http/handlers"
	"github.com/sublease-marketplace/backend/internal/repositories"
	"github.com/sublease-marketplace/backend/internal/services"
	"github.com/sublease-marketplace/backend/internal/templates"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "sublease-api", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, os.DirFS(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	library, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		log.Fatal("failed to load agreement templates", zap.Error(err))
	}

	// Object storage
	storage, err := services.NewMinioStorage(services.MinioConfig{
		Endpoint:      cfg.StorageEndpoint,
		AccessKey:     cfg.StorageAccessKey,
		SecretKey:     cfg.StorageSecretKey,
		Bucket:        cfg.StorageBucket,
		UseSSL:        cfg.StorageUseSSL,
		PublicBaseURL: cfg.StoragePublicBaseURL,
	}, log)
	if err != nil {
		log.Fatal("failed to create object storage client", zap.Error(err))
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		log.Fatal("failed to prepare storage bucket", zap.Error(err))
	}

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	propertyRepo := repositories.NewPropertyRepo(pool)
	agreementRepo := repositories.NewAgreementRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	processor := services.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	directory := services.NewRepoDirectory(userRepo, propertyRepo)
	finalizer := services.NewFinalizer(storage, cfg.FeeSchedule(), log)
	agreementService := services.NewAgreementService(agreementRepo, auditRepo, directory, library, finalizer, storage, publisher, cfg, log)
	paymentService := services.NewPaymentService(agreementRepo, auditRepo, processor, publisher, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start websocket hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.MaxSignatureBytes + 64*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"code": "error", "error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Auth:      handlers.NewAuthHandler(cfg, log),
		User:      handlers.NewUserHandler(userRepo, log),
		Agreement: handlers.NewAgreementHandler(agreementService, paymentService, cfg.MaxSignatureBytes, log),
		Webhook:   handlers.NewPaymentWebhookHandler(processor, paymentService, log),
		Meta:      handlers.NewMetaHandler(cfg.FeeSchedule(), cfg.Currency, library, log),
		WSHub:     wsHub,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting API server", zap.String("addr", addr))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		return app.Shutdown()
	})
	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
