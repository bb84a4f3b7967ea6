package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/db"
	"github.com/sublease-marketplace/backend/internal/events"
	"github.com/sublease-marketplace/backend/internal/repositories"
	"github.com/sublease-marketplace/backend/internal/services"
	"github.com/sublease-marketplace/backend/internal/templates"
)

// The worker cancels agreements whose tenant never signed within the
// configured signature timeout.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "sublease-worker", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	library, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		log.Fatal("failed to load agreement templates", zap.Error(err))
	}
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

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	propertyRepo := repositories.NewPropertyRepo(pool)
	agreementRepo := repositories.NewAgreementRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	agreementService := services.NewAgreementService(
		agreementRepo,
		auditRepo,
		services.NewRepoDirectory(userRepo, propertyRepo),
		library,
		services.NewFinalizer(storage, cfg.FeeSchedule(), log),
		storage,
		publisher,
		cfg,
		log,
	)

	log.Info("worker started",
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("signature_timeout", cfg.SignatureTimeout))

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runSignatureTimeouts(ctx, agreementService, cfg.SignatureTimeout, log)
		case <-ctx.Done():
			log.Info("shutting down worker")
			return
		}
	}
}

func runSignatureTimeouts(ctx context.Context, svc *services.AgreementService, timeout time.Duration, log *zap.Logger) {
	n, err := svc.ExpireStale(ctx, timeout)
	if err != nil {
		log.Error("failed to expire stale agreements", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired stale agreements", zap.Int("count", n))
	}
}
