package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sublease-marketplace/backend/internal/models"
)

// PropertyRepo reads the listing side's properties table.
type PropertyRepo struct {
	pool *pgxpool.Pool
}

func NewPropertyRepo(pool *pgxpool.Pool) *PropertyRepo {
	return &PropertyRepo{pool: pool}
}

func (r *PropertyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	var p models.Property
	err := r.pool.QueryRow(ctx, `
		SELECT id, lister_user_id, title, address, monthly_rent, currency, created_at
		FROM properties WHERE id = $1
	`, id).Scan(&p.ID, &p.ListerUserID, &p.Title, &p.Address, &p.MonthlyRent, &p.Currency, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "property", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create is used by seeding tools and tests; listings are owned elsewhere.
func (r *PropertyRepo) Create(ctx context.Context, p *models.Property) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO properties (lister_user_id, title, address, monthly_rent, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, p.ListerUserID, p.Title, p.Address, p.MonthlyRent, p.Currency).Scan(&p.ID, &p.CreatedAt)
}
