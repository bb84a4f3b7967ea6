package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sublease-marketplace/backend/internal/db"
	"github.com/sublease-marketplace/backend/internal/models"
)

const pgUniqueViolation = "23505"

const agreementColumns = `
	id, property_id, lister_user_id, tenant_user_id, status, template_body, variables,
	rent_amount, currency, lister_payment_method, tenant_payment_method,
	tenant_signature_ref, tenant_signed_at, lister_signature_ref, lister_signed_at,
	final_document_ref, final_document_sha256, payment_snapshot,
	tenant_payment_status, tenant_payment_method_used, tenant_intent_ref, tenant_payment_amount,
	tenant_payment_attempts, tenant_payment_updated_at,
	lister_payment_status, lister_payment_method_used, lister_intent_ref, lister_payment_amount,
	lister_payment_attempts, lister_payment_updated_at,
	version, completed_at, cancelled_at, created_at, updated_at`

// activePredicate must match the partial unique index predicate.
const activePredicate = `status IN ('draft', 'pending_tenant_signature', 'pending_lister_signature')`

type AgreementRepo struct {
	pool *pgxpool.Pool
}

func NewAgreementRepo(pool *pgxpool.Pool) *AgreementRepo {
	return &AgreementRepo{pool: pool}
}

type AgreementFilter struct {
	UserID *uuid.UUID // lister or tenant
	Role   string     // lister / tenant / "" for either
	Status *string
	Limit  int
	Offset int
}

// CreateOrGetActive inserts a as a new draft unless the (property, tenant) pair
// already has a non-terminal agreement, in which case that one is returned
// and created is false.
func (r *AgreementRepo) CreateOrGetActive(ctx context.Context, a *models.Agreement) (*models.Agreement, bool, error) {
	vars, err := json.Marshal(a.Variables)
	if err != nil {
		return nil, false, fmt.Errorf("marshal variables: %w", err)
	}

	// The existing agreement may reach a terminal status between the failed
	// insert and the read; retry a few times in that case.
	for attempt := 0; attempt < 3; attempt++ {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO agreements (property_id, lister_user_id, tenant_user_id, status, template_body, variables,
			                        rent_amount, currency, lister_payment_method)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (property_id, tenant_user_id) WHERE `+activePredicate+` DO NOTHING
			RETURNING `+agreementColumns,
			a.PropertyID, a.ListerUserID, a.TenantUserID, models.AgreementStatusDraft, a.TemplateBody, vars,
			a.RentAmount, a.Currency, a.ListerPaymentMethod)
		created, err := scanAgreement(row)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("insert agreement: %w", err)
		}

		existing, err := scanAgreement(r.pool.QueryRow(ctx, `
			SELECT `+agreementColumns+` FROM agreements
			WHERE property_id = $1 AND tenant_user_id = $2 AND `+activePredicate,
			a.PropertyID, a.TenantUserID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("get active agreement: %w", err)
		}
	}
	return nil, false, models.ErrVersionConflict
}

func (r *AgreementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	a, err := scanAgreement(r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AgreementRepo) List(ctx context.Context, f AgreementFilter) ([]models.Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.UserID != nil {
		switch f.Role {
		case models.PartyLister:
			where = append(where, fmt.Sprintf("lister_user_id = $%d", argIdx))
		case models.PartyTenant:
			where = append(where, fmt.Sprintf("tenant_user_id = $%d", argIdx))
		default:
			where = append(where, fmt.Sprintf("(lister_user_id = $%d OR tenant_user_id = $%d)", argIdx, argIdx))
		}
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.query(ctx, query, args...)
}

// ListStale returns agreements that have been in status since before cutoff.
func (r *AgreementRepo) ListStale(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.Agreement, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+agreementColumns+` FROM agreements
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3
	`, status, cutoff, limit)
}

// Update locks the row, applies fn to the current state and writes the result
// back with a version bump. If fn returns an error nothing is written; if it
// returns models.ErrNoChange the current state is returned as is.
func (r *AgreementRepo) Update(ctx context.Context, id uuid.UUID, fn func(a *models.Agreement) error) (*models.Agreement, error) {
	var out *models.Agreement
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = r.lockedUpdate(ctx, tx, id, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyPaymentEvent records eventID and applies fn in the same transaction.
// A previously seen eventID leaves the agreement untouched and applied is false.
func (r *AgreementRepo) ApplyPaymentEvent(ctx context.Context, id uuid.UUID, eventID, party, outcome string, fn func(a *models.Agreement) error) (*models.Agreement, bool, error) {
	var out *models.Agreement
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		// lock first so an unknown agreement is reported as not found
		if _, err := lockAgreement(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO payment_events (event_id, agreement_id, party, outcome) VALUES ($1, $2, $3, $4)
		`, eventID, id, party, outcome)
		if err != nil {
			return err
		}
		out, err = r.lockedUpdate(ctx, tx, id, fn)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		a, getErr := r.GetByID(ctx, id)
		return a, false, getErr
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// DeleteDraft hard-deletes the agreement if check accepts its current state.
func (r *AgreementRepo) DeleteDraft(ctx context.Context, id uuid.UUID, check func(a *models.Agreement) error) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := lockAgreement(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := check(a); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM agreements WHERE id = $1 AND status = $2`, id, models.AgreementStatusDraft)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &models.InvalidTransitionError{Action: models.ActionDelete, Status: a.Status, Code: models.CodeNotDeletable}
		}
		return nil
	})
}

func (r *AgreementRepo) lockedUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn func(a *models.Agreement) error) (*models.Agreement, error) {
	a, err := lockAgreement(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	oldVersion := a.Version
	if err := fn(a); err != nil {
		if errors.Is(err, models.ErrNoChange) {
			return a, nil
		}
		return nil, err
	}
	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}

	vars, err := json.Marshal(a.Variables)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	var snapshot []byte
	if a.PaymentSnapshot != nil {
		if snapshot, err = json.Marshal(a.PaymentSnapshot); err != nil {
			return nil, fmt.Errorf("marshal payment snapshot: %w", err)
		}
	}
	tSigRef, tSigAt := signatureColumns(a.TenantSignature)
	lSigRef, lSigAt := signatureColumns(a.ListerSignature)
	tp, lp := a.TenantPayment, a.ListerPayment

	err = tx.QueryRow(ctx, `
		UPDATE agreements SET
			status = $3, template_body = $4, variables = $5, rent_amount = $6,
			lister_payment_method = $7, tenant_payment_method = $8,
			tenant_signature_ref = $9, tenant_signed_at = $10, lister_signature_ref = $11, lister_signed_at = $12,
			final_document_ref = $13, final_document_sha256 = $14, payment_snapshot = $15,
			tenant_payment_status = $16, tenant_payment_method_used = $17, tenant_intent_ref = $18,
			tenant_payment_amount = $19, tenant_payment_attempts = $20, tenant_payment_updated_at = $21,
			lister_payment_status = $22, lister_payment_method_used = $23, lister_intent_ref = $24,
			lister_payment_amount = $25, lister_payment_attempts = $26, lister_payment_updated_at = $27,
			completed_at = $28, cancelled_at = $29,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, id, oldVersion,
		a.Status, a.TemplateBody, vars, a.RentAmount,
		a.ListerPaymentMethod, a.TenantPaymentMethod,
		tSigRef, tSigAt, lSigRef, lSigAt,
		a.FinalDocumentRef, a.FinalDocumentSHA256, snapshot,
		tp.Status, tp.Method, tp.IntentRef, tp.Amount, tp.Attempts, tp.UpdatedAt,
		lp.Status, lp.Method, lp.IntentRef, lp.Amount, lp.Attempts, lp.UpdatedAt,
		a.CompletedAt, a.CancelledAt,
	).Scan(&a.Version, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update agreement: %w", err)
	}
	return a, nil
}

func lockAgreement(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Agreement, error) {
	a, err := scanAgreement(tx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	return a, err
}

func (r *AgreementRepo) query(ctx context.Context, query string, args ...any) ([]models.Agreement, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAgreement(row pgx.Row) (*models.Agreement, error) {
	var (
		a              models.Agreement
		vars, snapshot []byte
		tSigRef        *string
		tSigAt         *time.Time
		lSigRef        *string
		lSigAt         *time.Time
		tp, lp         = &a.TenantPayment, &a.ListerPayment
	)
	err := row.Scan(
		&a.ID, &a.PropertyID, &a.ListerUserID, &a.TenantUserID, &a.Status, &a.TemplateBody, &vars,
		&a.RentAmount, &a.Currency, &a.ListerPaymentMethod, &a.TenantPaymentMethod,
		&tSigRef, &tSigAt, &lSigRef, &lSigAt,
		&a.FinalDocumentRef, &a.FinalDocumentSHA256, &snapshot,
		&tp.Status, &tp.Method, &tp.IntentRef, &tp.Amount, &tp.Attempts, &tp.UpdatedAt,
		&lp.Status, &lp.Method, &lp.IntentRef, &lp.Amount, &lp.Attempts, &lp.UpdatedAt,
		&a.Version, &a.CompletedAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Variables = models.Variables{}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &a.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	if len(snapshot) > 0 {
		a.PaymentSnapshot = &models.PaymentSnapshot{}
		if err := json.Unmarshal(snapshot, a.PaymentSnapshot); err != nil {
			return nil, fmt.Errorf("decode payment snapshot: %w", err)
		}
	}
	if tSigRef != nil && tSigAt != nil {
		a.TenantSignature = &models.Signature{ImageRef: *tSigRef, SignedAt: *tSigAt}
	}
	if lSigRef != nil && lSigAt != nil {
		a.ListerSignature = &models.Signature{ImageRef: *lSigRef, SignedAt: *lSigAt}
	}
	return &a, nil
}

func signatureColumns(s *models.Signature) (*string, *time.Time) {
	if s == nil {
		return nil, nil
	}
	return &s.ImageRef, &s.SignedAt
}
