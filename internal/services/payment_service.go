package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/events"
	"github.com/sublease-marketplace/backend/internal/fees"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/rbac"
	"github.com/sublease-marketplace/backend/internal/repositories"
)

const (
	actionPaymentResult    = "payment_result"
	actionPaymentDuplicate = "payment_duplicate"
)

// PaymentHandle is what the paying party needs to complete the charge client-side.
type PaymentHandle struct {
	AgreementID  uuid.UUID `json:"agreement_id"`
	Party        string    `json:"party"`
	Method       string    `json:"method"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	IntentRef    string    `json:"intent_ref"`
	ClientSecret string    `json:"client_secret,omitempty"`
}

// PaymentService tracks each party's fee payment on a completed agreement.
// The two parties are fully independent.
type PaymentService struct {
	store     AgreementStore
	audit     AuditLogger
	processor PaymentProcessor
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewPaymentService(store AgreementStore, audit AuditLogger, processor PaymentProcessor, publisher events.Publisher, log *zap.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		audit:     audit,
		processor: processor,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func idempotencyKey(id uuid.UUID, party string, attempt int, method string) string {
	return fmt.Sprintf("%s:%s:%d:%s", id, party, attempt, method)
}

// FeeFromSnapshot returns the fee party owes for method, using the frozen
// snapshot. A fee precomputed at completion for the same method is used as is;
// otherwise it is computed from the frozen rent and rates.
func FeeFromSnapshot(s *models.PaymentSnapshot, party, method string) (int64, error) {
	if fee, ok := s.FeeFor(party, method); ok {
		return fee, nil
	}
	schedule := fees.Schedule{BaseBPS: s.BaseFeeBPS, CardSurchargeBPS: s.CardSurchargeBPS}
	q, err := schedule.Calculate(s.RentAmount, method)
	if err != nil {
		return 0, err
	}
	return q.FeeAmount, nil
}

// BeginPayment asks the processor for a payment handle for the actor's fee.
// The party's status is left unchanged; it moves when the processor reports.
// An empty party defaults to the actor's role. Repeating the call with the same
// method returns the same intent; any other earlier intent is cancelled first,
// so a party never holds two intents that could both be confirmed.
func (s *PaymentService) BeginPayment(ctx context.Context, userID, id uuid.UUID, party, method string) (*PaymentHandle, error) {
	if !models.IsValidPaymentMethod(method) {
		return nil, models.NewValidationError("method", "unsupported payment method "+method)
	}

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := rbac.Authorize(a, userID, models.ActionPay)
	if err != nil {
		return nil, err
	}
	if party == "" {
		party = role
	}
	if party != role {
		return nil, &models.PermissionError{Action: models.ActionPay, Reason: "a party can only pay its own fee"}
	}
	if err := models.CheckAction(models.ActionPay, a.Status); err != nil {
		return nil, err
	}
	p := a.Payment(party)
	if err := checkPayable(a.Status, p); err != nil {
		return nil, err
	}

	amount, err := FeeFromSnapshot(a.PaymentSnapshot, party, method)
	if err != nil {
		return nil, err
	}
	attempts := p.Attempts
	prevRef := intentRef(p)
	reuse := p.Method != nil && *p.Method == method && p.Status == models.PaymentStatusNone

	var cancelled string
	if prevRef != "" && !reuse {
		if err := s.processor.CancelIntent(ctx, prevRef); err != nil {
			if errors.Is(err, ErrIntentNotCancellable) {
				return nil, &models.InvalidTransitionError{Action: models.ActionPay, Status: a.Status, Code: models.CodePaymentInProgress}
			}
			s.log.Warn("cancel payment intent failed",
				zap.String("agreement_id", id.String()),
				zap.String("party", party),
				zap.String("intent", prevRef),
				zap.Error(err))
			return nil, models.NewDependencyError("payment processor", err)
		}
		cancelled = prevRef
	}

	intent, err := s.processor.CreateIntent(ctx, IntentRequest{
		AgreementID:    a.ID,
		Party:          party,
		Method:         method,
		Amount:         amount,
		Currency:       a.PaymentSnapshot.Currency,
		IdempotencyKey: idempotencyKey(a.ID, party, attempts+1, method),
	})
	if err != nil {
		s.log.Warn("create payment intent failed",
			zap.String("agreement_id", id.String()),
			zap.String("party", party),
			zap.Error(err))
		return nil, models.NewDependencyError("payment processor", err)
	}

	updated, err := s.store.Update(ctx, id, func(cur *models.Agreement) error {
		pp := cur.Payment(party)
		if err := checkPayable(cur.Status, pp); err != nil {
			return err
		}
		if intentRef(pp) == intent.Ref {
			return models.ErrNoChange
		}
		if pp.Attempts != attempts || intentRef(pp) != prevRef {
			return &models.ConcurrentModificationError{Status: cur.Status}
		}
		now := s.now()
		ref, m, amt := intent.Ref, method, amount
		pp.Method, pp.IntentRef, pp.Amount, pp.UpdatedAt = &m, &ref, &amt, &now
		return nil
	})
	if errors.Is(err, models.ErrVersionConflict) {
		err = &models.ConcurrentModificationError{}
	}
	if err != nil {
		if intent.Ref != prevRef {
			if cerr := s.processor.CancelIntent(ctx, intent.Ref); cerr != nil {
				s.log.Warn("cancel unused payment intent failed",
					zap.String("agreement_id", id.String()),
					zap.String("intent", intent.Ref),
					zap.Error(cerr))
			}
		}
		return nil, err
	}

	actorID := userID
	status := updated.Status
	meta := map[string]any{"party": party, "method": method, "amount": amount, "intent_ref": intent.Ref}
	if cancelled != "" {
		meta["cancelled_intent"] = cancelled
	}
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   models.ActorTypeUser,
		Action:      models.ActionPay,
		EntityType:  repositories.EntityAgreement,
		EntityID:    &updated.ID,
		FromStatus:  &status,
		ToStatus:    &status,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("agreement_id", id.String()), zap.Error(err))
	}

	s.log.Info("payment started",
		zap.String("agreement_id", id.String()),
		zap.String("party", party),
		zap.String("method", method),
		zap.Int64("amount", amount),
		zap.Int("attempt", attempts+1),
		zap.String("cancelled_intent", cancelled))

	return &PaymentHandle{
		AgreementID:  updated.ID,
		Party:        party,
		Method:       method,
		Amount:       amount,
		Currency:     updated.PaymentSnapshot.Currency,
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func intentRef(p *models.PartyPayment) string {
	if p.IntentRef == nil {
		return ""
	}
	return *p.IntentRef
}

func checkPayable(status string, p *models.PartyPayment) error {
	switch p.Status {
	case models.PaymentStatusProcessing:
		return &models.InvalidTransitionError{Action: models.ActionPay, Status: status, Code: models.CodePaymentInProgress}
	case models.PaymentStatusSucceeded:
		return &models.InvalidTransitionError{Action: models.ActionPay, Status: status, Code: models.CodeAlreadyPaid}
	}
	return nil
}

// RecordPaymentResult applies a processor callback. applied is false when the
// event was already seen or changed nothing: a same-status replay, a result
// after success, or a non-success result for an intent that has since been
// replaced. A success for a replaced intent still moved money, so it is applied
// and the party's intent becomes that one. If the party had already paid, the
// second charge is recorded in the audit log for refund and not applied.
func (s *PaymentService) RecordPaymentResult(ctx context.Context, res PaymentResult) (*models.Agreement, bool, error) {
	if !models.IsValidParty(res.Party) {
		return nil, false, models.NewValidationError("party", "must be lister or tenant")
	}
	switch res.Outcome {
	case models.PaymentStatusProcessing, models.PaymentStatusSucceeded, models.PaymentStatusFailed:
	default:
		return nil, false, models.NewValidationError("outcome", "unsupported outcome "+res.Outcome)
	}
	if res.IntentRef == "" {
		return nil, false, models.NewValidationError("intent_ref", "required")
	}
	eventID := res.EventID
	if eventID == "" {
		eventID = res.IntentRef + ":" + res.Outcome
	}

	var from, replaced string
	changed, superseded, duplicate := false, false, false
	a, fresh, err := s.store.ApplyPaymentEvent(ctx, res.AgreementID, eventID, res.Party, res.Outcome, func(a *models.Agreement) error {
		if a.Status != models.AgreementStatusCompleted {
			return &models.InvalidTransitionError{Action: actionPaymentResult, Status: a.Status, Code: models.CodeNotCompleted}
		}
		p := a.Payment(res.Party)
		switch {
		case intentRef(p) == res.IntentRef:
			if p.Status == models.PaymentStatusSucceeded || p.Status == res.Outcome {
				return models.ErrNoChange
			}
		case res.Outcome != models.PaymentStatusSucceeded:
			return models.ErrNoChange
		case p.Status == models.PaymentStatusSucceeded:
			duplicate = true
			return models.ErrNoChange
		default:
			superseded = true
		}

		from = p.Status
		now := s.now()
		p.Status = res.Outcome
		p.UpdatedAt = &now
		if res.Outcome == models.PaymentStatusFailed {
			p.Attempts++
		}
		if superseded {
			replaced = intentRef(p)
			ref := res.IntentRef
			p.IntentRef = &ref
			if models.IsValidPaymentMethod(res.Method) {
				m := res.Method
				p.Method = &m
			}
			if res.Amount > 0 {
				amt := res.Amount
				p.Amount = &amt
			}
		}
		changed = true
		return nil
	})
	if errors.Is(err, models.ErrVersionConflict) {
		return nil, false, &models.ConcurrentModificationError{}
	}
	if err != nil {
		return nil, false, err
	}

	if duplicate {
		s.recordDuplicateCharge(ctx, a, res, eventID)
		return a, false, nil
	}
	if !fresh || !changed {
		s.log.Info("payment result ignored",
			zap.String("agreement_id", res.AgreementID.String()),
			zap.String("party", res.Party),
			zap.String("outcome", res.Outcome),
			zap.String("event_id", eventID),
			zap.Bool("duplicate_event", !fresh))
		return a, false, nil
	}

	if superseded {
		s.log.Warn("payment succeeded on a replaced intent",
			zap.String("agreement_id", a.ID.String()),
			zap.String("party", res.Party),
			zap.String("intent", res.IntentRef),
			zap.String("replaced_intent", replaced))
	}

	meta := map[string]any{
		"party":      res.Party,
		"from":       from,
		"outcome":    res.Outcome,
		"intent_ref": res.IntentRef,
		"event_id":   eventID,
		"fully_paid": a.FullySettled(),
	}
	if superseded {
		meta["superseded"] = true
		meta["replaced_intent"] = replaced
	}
	status := a.Status
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorType:  models.ActorTypeProcessor,
		Action:     actionPaymentResult,
		EntityType: repositories.EntityAgreement,
		EntityID:   &a.ID,
		FromStatus: &status,
		ToStatus:   &status,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("agreement_id", a.ID.String()), zap.Error(err))
	}

	ev := events.AgreementEvent(events.EventPaymentUpdated, a, map[string]any{
		"party":         res.Party,
		"payment":       res.Outcome,
		"fully_settled": a.FullySettled(),
	})
	if err := s.publisher.Publish(ctx, events.StreamAgreements, ev); err != nil {
		s.log.Warn("publish event failed", zap.String("agreement_id", a.ID.String()), zap.Error(err))
	}

	s.log.Info("payment result recorded",
		zap.String("agreement_id", a.ID.String()),
		zap.String("party", res.Party),
		zap.String("from", from),
		zap.String("outcome", res.Outcome))
	return a, true, nil
}

// recordDuplicateCharge keeps a trace of a second successful charge for a party
// that had already paid, so it can be refunded.
func (s *PaymentService) recordDuplicateCharge(ctx context.Context, a *models.Agreement, res PaymentResult, eventID string) {
	paidRef := intentRef(a.Payment(res.Party))
	s.log.Error("duplicate payment received",
		zap.String("agreement_id", a.ID.String()),
		zap.String("party", res.Party),
		zap.String("intent", res.IntentRef),
		zap.String("paid_intent", paidRef),
		zap.Int64("amount", res.Amount))

	status := a.Status
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorType:  models.ActorTypeProcessor,
		Action:     actionPaymentDuplicate,
		EntityType: repositories.EntityAgreement,
		EntityID:   &a.ID,
		FromStatus: &status,
		ToStatus:   &status,
		Meta: map[string]any{
			"party":       res.Party,
			"intent_ref":  res.IntentRef,
			"paid_intent": paidRef,
			"amount":      res.Amount,
			"event_id":    eventID,
		},
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("agreement_id", a.ID.String()), zap.Error(err))
	}
}
