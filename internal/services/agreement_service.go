package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/binder"
	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/events"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/rbac"
	"github.com/sublease-marketplace/backend/internal/repositories"
	"github.com/sublease-marketplace/backend/internal/templates"
)

// events published after a successful transition
var transitionEvents = map[string]string{
	models.ActionLock:        events.EventAgreementLocked,
	models.ActionRecall:      events.EventAgreementRecalled,
	models.ActionSign:        events.EventAgreementSigned,
	models.ActionCountersign: events.EventAgreementCompleted,
	models.ActionCancel:      events.EventAgreementCancelled,
	models.ActionDecline:     events.EventAgreementCancelled,
}

type actor struct {
	userID uuid.UUID
	system bool
}

func userActor(id uuid.UUID) actor { return actor{userID: id} }

var systemActor = actor{system: true}

type AgreementService struct {
	store     AgreementStore
	audit     AuditLogger
	directory Directory
	library   *templates.Library
	finalizer *Finalizer
	storage   ObjectStorage
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewAgreementService(
	store AgreementStore,
	audit AuditLogger,
	directory Directory,
	library *templates.Library,
	finalizer *Finalizer,
	storage ObjectStorage,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AgreementService {
	return &AgreementService{
		store:     store,
		audit:     audit,
		directory: directory,
		library:   library,
		finalizer: finalizer,
		storage:   storage,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type InitiateInput struct {
	PropertyID          uuid.UUID
	TenantUserID        uuid.UUID
	TemplateKey         string
	TemplateBody        string
	Variables           map[string]string
	ListerPaymentMethod *string
}

// Initiate creates a draft for (property, tenant), or returns the active
// agreement for that pair if one exists. created reports which happened.
func (s *AgreementService) Initiate(ctx context.Context, listerID uuid.UUID, in InitiateInput) (*models.Agreement, bool, error) {
	if in.PropertyID == uuid.Nil {
		return nil, false, models.NewValidationError("property_id", "required")
	}
	if in.TenantUserID == uuid.Nil {
		return nil, false, models.NewValidationError("tenant_user_id", "required")
	}
	if in.TenantUserID == listerID {
		return nil, false, models.NewValidationError("tenant_user_id", "lister and tenant must be different users")
	}
	if m := in.ListerPaymentMethod; m != nil && !models.IsValidPaymentMethod(*m) {
		return nil, false, models.NewValidationError("lister_payment_method", "unsupported payment method "+*m)
	}

	property, err := s.directory.GetProperty(ctx, in.PropertyID)
	if err != nil {
		return nil, false, err
	}
	if property.ListerUserID != listerID {
		return nil, false, &models.PermissionError{Action: models.ActionInitiate, Reason: "only the property's lister can initiate an agreement"}
	}
	if property.MonthlyRent <= 0 {
		return nil, false, models.NewValidationError("rent_amount", "must be positive")
	}
	if !strings.EqualFold(property.Currency, s.cfg.Currency) {
		return nil, false, models.NewValidationError("currency", fmt.Sprintf("property is priced in %s, only %s is supported", property.Currency, s.cfg.Currency))
	}

	lister, err := s.directory.GetUser(ctx, listerID)
	if err != nil {
		return nil, false, err
	}
	tenant, err := s.directory.GetUser(ctx, in.TenantUserID)
	var nf *models.NotFoundError
	if errors.As(err, &nf) {
		return nil, false, models.NewValidationError("tenant_user_id", "unknown user")
	}
	if err != nil {
		return nil, false, err
	}

	body := in.TemplateBody
	if body == "" {
		key := in.TemplateKey
		if key == "" {
			key = templates.DefaultKey
		}
		tpl, ok := s.library.Get(key)
		if !ok {
			return nil, false, models.NewValidationError("template_key", "unknown template "+key)
		}
		body = tpl.Body
	}

	vars := models.Variables{
		"PropertyAddress": property.Address,
		"MonthlyRent":     formatAmount(property.MonthlyRent),
		"Currency":        strings.ToUpper(s.cfg.Currency),
		"ListerName":      lister.DisplayName,
		"TenantName":      tenant.DisplayName,
	}
	for k, v := range in.Variables {
		if err := binder.ValidateIdentifier(k); err != nil {
			return nil, false, err
		}
		vars[k] = v
	}
	reconciled, err := binder.Reconcile(body, vars)
	if err != nil {
		return nil, false, err
	}

	a := &models.Agreement{
		PropertyID:          property.ID,
		ListerUserID:        listerID,
		TenantUserID:        in.TenantUserID,
		Status:              models.AgreementStatusDraft,
		TemplateBody:        body,
		Variables:           reconciled,
		RentAmount:          property.MonthlyRent,
		Currency:            s.cfg.Currency,
		ListerPaymentMethod: in.ListerPaymentMethod,
		TenantPayment:       models.PartyPayment{Status: models.PaymentStatusNone},
		ListerPayment:       models.PartyPayment{Status: models.PaymentStatusNone},
	}

	saved, created, err := s.store.CreateOrGetActive(ctx, a)
	if errors.Is(err, models.ErrVersionConflict) {
		return nil, false, &models.ConcurrentModificationError{}
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logTransition(ctx, userActor(listerID), saved, models.ActionInitiate, "", nil)
	} else {
		s.log.Info("initiate returned existing agreement",
			zap.String("agreement_id", saved.ID.String()),
			zap.String("status", saved.Status))
	}
	return saved, created, nil
}

// AgreementView is the read projection returned to a party.
type AgreementView struct {
	*models.Agreement
	Role             string   `json:"role"`
	RenderedPreview  string   `json:"rendered_preview"`
	MissingVariables []string `json:"missing_variables"`
	FullySettled     bool     `json:"fully_settled"`
}

func (s *AgreementService) Get(ctx context.Context, userID, id uuid.UUID) (*AgreementView, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	role := rbac.RoleOf(a, userID)
	if role == rbac.RoleNone {
		return nil, &models.PermissionError{Action: "view", Reason: "not a party to this agreement"}
	}
	return NewAgreementView(a, role), nil
}

func NewAgreementView(a *models.Agreement, role string) *AgreementView {
	missing := binder.Missing(a.TemplateBody, a.Variables)
	if missing == nil {
		missing = []string{}
	}
	return &AgreementView{
		Agreement:        a,
		Role:             role,
		RenderedPreview:  binder.Render(a.TemplateBody, a.Variables),
		MissingVariables: missing,
		FullySettled:     a.FullySettled(),
	}
}

func (s *AgreementService) List(ctx context.Context, userID uuid.UUID, role, status string, limit, offset int) ([]models.Agreement, error) {
	if role != "" && !models.IsValidParty(role) {
		return nil, models.NewValidationError("role", "must be lister or tenant")
	}
	f := repositories.AgreementFilter{UserID: &userID, Role: role, Limit: limit, Offset: offset}
	if status != "" {
		if _, ok := models.ValidAgreementTransitions[status]; !ok {
			return nil, models.NewValidationError("status", "unknown status "+status)
		}
		f.Status = &status
	}
	return s.store.List(ctx, f)
}

type UpdateDraftInput struct {
	ExpectedVersion     *int
	TemplateBody        *string
	Variables           map[string]string // merged into the existing values
	RentAmount          *int64
	ListerPaymentMethod *string
}

func (s *AgreementService) UpdateDraft(ctx context.Context, userID, id uuid.UUID, in UpdateDraftInput) (*models.Agreement, error) {
	if in.TemplateBody != nil {
		if _, err := binder.Extract(*in.TemplateBody); err != nil {
			return nil, err
		}
	}
	for k := range in.Variables {
		if err := binder.ValidateIdentifier(k); err != nil {
			return nil, err
		}
	}
	if in.RentAmount != nil && *in.RentAmount <= 0 {
		return nil, models.NewValidationError("rent_amount", "must be positive")
	}
	if m := in.ListerPaymentMethod; m != nil && !models.IsValidPaymentMethod(*m) {
		return nil, models.NewValidationError("lister_payment_method", "unsupported payment method "+*m)
	}

	return s.transition(ctx, userActor(userID), id, models.ActionEdit, in.ExpectedVersion, nil, func(a *models.Agreement) error {
		if in.TemplateBody != nil {
			a.TemplateBody = *in.TemplateBody
		}
		for k, v := range in.Variables {
			a.Variables[k] = v
		}
		if in.RentAmount != nil {
			a.RentAmount = *in.RentAmount
		}
		if in.ListerPaymentMethod != nil {
			a.ListerPaymentMethod = in.ListerPaymentMethod
		}
		vars, err := binder.Reconcile(a.TemplateBody, a.Variables)
		if err != nil {
			return err
		}
		a.Variables = vars
		return nil
	})
}

func (s *AgreementService) Lock(ctx context.Context, userID, id uuid.UUID, expectedVersion *int) (*models.Agreement, error) {
	return s.transition(ctx, userActor(userID), id, models.ActionLock, expectedVersion, nil, func(a *models.Agreement) error {
		vars, err := binder.Reconcile(a.TemplateBody, a.Variables)
		if err != nil {
			return err
		}
		a.Variables = vars
		return nil
	})
}

// Recall is only legal before the tenant signed, so there is no signature to clear.
func (s *AgreementService) Recall(ctx context.Context, userID, id uuid.UUID, expectedVersion *int) (*models.Agreement, error) {
	return s.transition(ctx, userActor(userID), id, models.ActionRecall, expectedVersion, nil, nil)
}

func (s *AgreementService) Cancel(ctx context.Context, userID, id uuid.UUID, expectedVersion *int, reason string) (*models.Agreement, error) {
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	return s.transition(ctx, userActor(userID), id, models.ActionCancel, expectedVersion, meta, s.cancelMutation(meta))
}

func (s *AgreementService) Decline(ctx context.Context, userID, id uuid.UUID, expectedVersion *int, reason string) (*models.Agreement, error) {
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	return s.transition(ctx, userActor(userID), id, models.ActionDecline, expectedVersion, meta, s.cancelMutation(meta))
}

// cancelMutation stamps the cancellation. A tenant signature awaiting the
// lister is cleared from the row and kept in the audit entry.
func (s *AgreementService) cancelMutation(meta map[string]any) func(a *models.Agreement) error {
	return func(a *models.Agreement) error {
		now := s.now()
		a.CancelledAt = &now
		if a.TenantSignature != nil {
			meta["tenant_signature_ref"] = a.TenantSignature.ImageRef
			meta["tenant_signed_at"] = a.TenantSignature.SignedAt
			a.TenantSignature = nil
		}
		return nil
	}
}

type SignInput struct {
	SignatureImageRef string
	PaymentMethod     *string // intended method, frozen into the fee snapshot
	ExpectedVersion   *int
}

// Sign records the acting party's signature. The tenant signs first; the
// lister's countersignature completes and finalizes the agreement.
func (s *AgreementService) Sign(ctx context.Context, userID, id uuid.UUID, in SignInput) (*models.Agreement, error) {
	ref := strings.TrimSpace(in.SignatureImageRef)
	if ref == "" {
		return nil, models.NewValidationError("signature_image_ref", "required")
	}
	if m := in.PaymentMethod; m != nil && !models.IsValidPaymentMethod(*m) {
		return nil, models.NewValidationError("payment_method", "unsupported payment method "+*m)
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rbac.RoleOf(current, userID) {
	case rbac.RoleTenant:
		return s.transition(ctx, userActor(userID), id, models.ActionSign, in.ExpectedVersion, nil, func(a *models.Agreement) error {
			if a.TenantSignature != nil {
				return &models.InvalidTransitionError{Action: models.ActionSign, Status: a.Status, Code: models.CodeAlreadySigned}
			}
			a.TenantSignature = &models.Signature{ImageRef: ref, SignedAt: s.now()}
			if in.PaymentMethod != nil {
				a.TenantPaymentMethod = in.PaymentMethod
			}
			return nil
		})
	case rbac.RoleLister:
		return s.transition(ctx, userActor(userID), id, models.ActionCountersign, in.ExpectedVersion, nil, func(a *models.Agreement) error {
			if a.ListerSignature != nil {
				return &models.InvalidTransitionError{Action: models.ActionCountersign, Status: a.Status, Code: models.CodeAlreadySigned}
			}
			now := s.now()
			a.ListerSignature = &models.Signature{ImageRef: ref, SignedAt: now}
			if in.PaymentMethod != nil {
				a.ListerPaymentMethod = in.PaymentMethod
			}
			return s.finalizer.Finalize(ctx, a, now)
		})
	}
	return nil, &models.PermissionError{Action: models.ActionSign, Reason: "not a party to this agreement"}
}

// Delete hard-deletes a draft.
func (s *AgreementService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	var deleted *models.Agreement
	err := s.store.DeleteDraft(ctx, id, func(a *models.Agreement) error {
		if _, err := rbac.Authorize(a, userID, models.ActionDelete); err != nil {
			return err
		}
		if err := models.CheckAction(models.ActionDelete, a.Status); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return err
	}
	s.logTransition(ctx, userActor(userID), deleted, models.ActionDelete, deleted.Status, nil)
	return nil
}

var signatureImageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
}

// UploadSignatureImage stores a party's signature image and returns its URL,
// to be passed to Sign.
func (s *AgreementService) UploadSignatureImage(ctx context.Context, userID, id uuid.UUID, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.NewValidationError("signature", "empty image")
	}
	if s.cfg.MaxSignatureBytes > 0 && len(data) > s.cfg.MaxSignatureBytes {
		return "", models.NewValidationError("signature", fmt.Sprintf("image exceeds %d bytes", s.cfg.MaxSignatureBytes))
	}
	contentType := http.DetectContentType(data)
	ext, ok := signatureImageTypes[contentType]
	if !ok {
		return "", models.NewValidationError("signature", "image must be PNG or JPEG, got "+contentType)
	}

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	role := rbac.RoleOf(a, userID)
	if role == rbac.RoleNone {
		return "", &models.PermissionError{Action: "upload_signature", Reason: "not a party to this agreement"}
	}
	if models.IsTerminalStatus(a.Status) {
		return "", &models.InvalidTransitionError{Action: "upload_signature", Status: a.Status, Code: models.CodeTerminal}
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("agreements/%s/signatures/%s-%s.%s", id, role, hex.EncodeToString(sum[:8]), ext)
	url, err := s.storage.Put(ctx, key, contentType, data)
	if err != nil {
		return "", models.NewDependencyError("object storage", err)
	}

	s.log.Info("signature image stored",
		zap.String("agreement_id", id.String()),
		zap.String("role", role),
		zap.Int("bytes", len(data)))
	return url, nil
}

func (s *AgreementService) Events(ctx context.Context, userID, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rbac.IsParty(a, userID) {
		return nil, &models.PermissionError{Action: "view", Reason: "not a party to this agreement"}
	}
	return s.audit.GetByEntity(ctx, repositories.EntityAgreement, id, limit, offset)
}

// ExpireStale cancels agreements that waited for the tenant's signature longer
// than timeout. Returns how many were cancelled. A non-positive timeout
// disables expiry.
func (s *AgreementService) ExpireStale(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-timeout)
	stale, err := s.store.ListStale(ctx, models.AgreementStatusPendingTenantSignature, cutoff, 100)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, a := range stale {
		meta := map[string]any{"reason": "signature_timeout"}
		_, err := s.transition(ctx, systemActor, a.ID, models.ActionCancel, &a.Version, meta, s.cancelMutation(meta))
		var ite *models.InvalidTransitionError
		var cme *models.ConcurrentModificationError
		if errors.As(err, &ite) || errors.As(err, &cme) {
			// moved on since it was listed
			continue
		}
		if err != nil {
			s.log.Error("expire agreement failed", zap.String("agreement_id", a.ID.String()), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// transition runs one atomic read-modify-write: authorize, compare the
// expected version, check the action against the status table, move the
// status and apply mutate. Audit and notification happen after commit.
func (s *AgreementService) transition(
	ctx context.Context,
	act actor,
	id uuid.UUID,
	action string,
	expectedVersion *int,
	meta map[string]any,
	mutate func(a *models.Agreement) error,
) (*models.Agreement, error) {
	rule := models.AgreementActions[action]
	var from string

	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if !act.system {
			if _, err := rbac.Authorize(a, act.userID, action); err != nil {
				return err
			}
		}
		if expectedVersion != nil && *expectedVersion != a.Version {
			return &models.ConcurrentModificationError{Expected: *expectedVersion, Actual: a.Version, Status: a.Status}
		}
		if err := models.CheckAction(action, a.Status); err != nil {
			return err
		}
		from = a.Status
		if rule.To != "" {
			a.Status = rule.To
		}
		if mutate != nil {
			return mutate(a)
		}
		return nil
	})
	if errors.Is(err, models.ErrVersionConflict) {
		return nil, &models.ConcurrentModificationError{}
	}
	if err != nil {
		s.log.Debug("transition rejected",
			zap.String("agreement_id", id.String()),
			zap.String("action", action),
			zap.Error(err))
		return nil, err
	}

	s.logTransition(ctx, act, updated, action, from, meta)
	if eventType, ok := transitionEvents[action]; ok {
		s.publish(ctx, eventType, updated, map[string]any{"action": action, "from_status": from})
	}
	return updated, nil
}

func (s *AgreementService) logTransition(ctx context.Context, act actor, a *models.Agreement, action, from string, meta map[string]any) {
	entry := models.AuditLog{
		ActorType:  models.ActorTypeUser,
		Action:     action,
		EntityType: repositories.EntityAgreement,
		EntityID:   &a.ID,
		ToStatus:   &a.Status,
	}
	if act.system {
		entry.ActorType = models.ActorTypeSystem
	} else {
		uid := act.userID
		entry.ActorUserID = &uid
	}
	if from != "" {
		entry.FromStatus = &from
	}
	if len(meta) > 0 {
		entry.Meta = meta
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log failed", zap.String("agreement_id", a.ID.String()), zap.String("action", action), zap.Error(err))
	}

	s.log.Info("agreement transition",
		zap.String("agreement_id", a.ID.String()),
		zap.String("action", action),
		zap.String("from", from),
		zap.String("status", a.Status),
		zap.Int("version", a.Version))
}

func (s *AgreementService) publish(ctx context.Context, eventType string, a *models.Agreement, extra map[string]any) {
	if err := s.publisher.Publish(ctx, events.StreamAgreements, events.AgreementEvent(eventType, a, extra)); err != nil {
		s.log.Warn("publish event failed", zap.String("type", eventType), zap.String("agreement_id", a.ID.String()), zap.Error(err))
	}
}

// formatAmount renders an amount in the smallest unit with two decimals.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
