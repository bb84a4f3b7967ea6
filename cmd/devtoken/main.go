package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/auth"
	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/db"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/repositories"
)

// devtoken upserts a user by email and prints a bearer token for it.
// With -property-rent it also lists a property owned by that user.
func main() {
	email := flag.String("email", "", "user email (required)")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to JWT_EXPIRATION_HOURS")
	rent := flag.Int64("property-rent", 0, "create a property with this monthly rent in minor units")
	address := flag.String("property-address", "1 Example Street", "address of the created property")
	flag.Parse()

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "sublease-devtoken", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	user, err := repositories.NewUserRepo(pool).UpsertByEmail(ctx, *email, *name)
	if err != nil {
		log.Fatal("failed to upsert user", zap.Error(err))
	}

	expiration := cfg.JWTExpiration
	if *ttl > 0 {
		expiration = *ttl
	}
	token, err := auth.GenerateJWT(cfg.JWTSecret, user.ID, expiration)
	if err != nil {
		log.Fatal("failed to generate token", zap.Error(err))
	}

	fmt.Printf("user_id=%s\ntoken=%s\n", user.ID, token)

	if *rent > 0 {
		p := &models.Property{
			ListerUserID: user.ID,
			Title:        "Sublease at " + *address,
			Address:      *address,
			MonthlyRent:  *rent,
			Currency:     cfg.Currency,
		}
		if err := repositories.NewPropertyRepo(pool).Create(ctx, p); err != nil {
			log.Fatal("failed to create property", zap.Error(err))
		}
		fmt.Printf("property_id=%s\n", p.ID)
	}
}
