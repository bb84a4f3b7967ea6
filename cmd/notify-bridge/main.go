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
	"github.com/sublease-marketplace/backend/internal/services"
)

// Notify Bridge subscribes to agreement events and forwards them to the
// notification webhook configured by NOTIFY_WEBHOOK_URL.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is not set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	client := services.NewNotifyClient(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, log)

	err = subscriber.Subscribe(ctx, events.StreamAgreements, func(event events.Event) {
		sendCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if err := client.Send(sendCtx, event); err != nil {
			log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started")
	<-ctx.Done()
	log.Info("shutting down notify-bridge")
}
