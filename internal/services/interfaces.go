package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/repositories"
)

// AgreementStore is the persistence contract of the agreement services.
// Implemented by repositories.AgreementRepo.
type AgreementStore interface {
	CreateOrGetActive(ctx context.Context, a *models.Agreement) (*models.Agreement, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agreement, error)
	List(ctx context.Context, f repositories.AgreementFilter) ([]models.Agreement, error)
	ListStale(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.Agreement, error)
	Update(ctx context.Context, id uuid.UUID, fn func(a *models.Agreement) error) (*models.Agreement, error)
	ApplyPaymentEvent(ctx context.Context, id uuid.UUID, eventID, party, outcome string, fn func(a *models.Agreement) error) (*models.Agreement, bool, error)
	DeleteDraft(ctx context.Context, id uuid.UUID, check func(a *models.Agreement) error) error
}

// AuditLogger is implemented by repositories.AuditRepo.
type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Directory is the read-only view of properties and users.
type Directory interface {
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ObjectStorage stores a blob under key and returns a dereferenceable URL.
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

type IntentRequest struct {
	AgreementID    uuid.UUID
	Party          string
	Method         string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// Intent is a client-completable payment handle issued by the processor.
type Intent struct {
	Ref          string
	ClientSecret string
}

// PaymentProcessor issues and cancels payment intents. CancelIntent returns
// an error wrapping ErrIntentNotCancellable when the intent already moved
// money or is moving it; cancelling a cancelled intent is not an error.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CancelIntent(ctx context.Context, ref string) error
}

// PaymentResult is a processor callback, keyed by agreement and party.
type PaymentResult struct {
	AgreementID uuid.UUID
	Party       string
	Outcome     string // processing / succeeded / failed
	IntentRef   string
	EventID     string
	Method      string // as issued; empty when unknown
	Amount      int64  // as issued; 0 when unknown
}

// RepoDirectory adapts the user and property repositories to Directory.
type RepoDirectory struct {
	users      *repositories.UserRepo
	properties *repositories.PropertyRepo
}

func NewRepoDirectory(users *repositories.UserRepo, properties *repositories.PropertyRepo) *RepoDirectory {
	return &RepoDirectory{users: users, properties: properties}
}

func (d *RepoDirectory) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	return d.properties.GetByID(ctx, id)
}

func (d *RepoDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return d.users.GetByID(ctx, id)
}
