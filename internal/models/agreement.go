package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agreement statuses
const (
	AgreementStatusDraft                  = "draft"
	AgreementStatusPendingTenantSignature = "pending_tenant_signature"
	AgreementStatusPendingListerSignature = "pending_lister_signature"
	AgreementStatusCompleted              = "completed"
	AgreementStatusCancelled              = "cancelled"
)

// Valid state transitions: from -> []to
var ValidAgreementTransitions = map[string][]string{
	AgreementStatusDraft:                  {AgreementStatusPendingTenantSignature, AgreementStatusCancelled},
	AgreementStatusPendingTenantSignature: {AgreementStatusPendingListerSignature, AgreementStatusDraft, AgreementStatusCancelled},
	AgreementStatusPendingListerSignature: {AgreementStatusCompleted, AgreementStatusCancelled},
	AgreementStatusCompleted:              {},
	AgreementStatusCancelled:              {},
}

// ActiveAgreementStatuses are the non-terminal statuses. At most one agreement
// per (property, tenant) may be in one of them.
var ActiveAgreementStatuses = []string{
	AgreementStatusDraft,
	AgreementStatusPendingTenantSignature,
	AgreementStatusPendingListerSignature,
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidAgreementTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == AgreementStatusCompleted || status == AgreementStatusCancelled
}

// Parties
const (
	PartyLister = "lister"
	PartyTenant = "tenant"
)

func IsValidParty(p string) bool {
	return p == PartyLister || p == PartyTenant
}

// Payment statuses, tracked independently per party.
const (
	PaymentStatusNone       = "none"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
)

func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusNone, PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed:
		return true
	}
	return false
}

// Payment methods
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
)

var AllPaymentMethods = []string{PaymentMethodCard, PaymentMethodBankTransfer}

func IsValidPaymentMethod(m string) bool {
	for _, pm := range AllPaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

// Variables binds placeholder identifiers to their values.
type Variables map[string]string

func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

type Signature struct {
	ImageRef string    `json:"image_ref"`
	SignedAt time.Time `json:"signed_at"`
}

// PaymentSnapshot is the fee basis frozen at completion. A party's fee is only
// present when that party declared a payment method before completion.
type PaymentSnapshot struct {
	RentAmount       int64     `json:"rent_amount"`
	Currency         string    `json:"currency"`
	BaseFeeBPS       int64     `json:"base_fee_bps"`
	CardSurchargeBPS int64     `json:"card_surcharge_bps"`
	TenantMethod     *string   `json:"tenant_method,omitempty"`
	TenantFeeAmount  *int64    `json:"tenant_fee_amount,omitempty"`
	ListerMethod     *string   `json:"lister_method,omitempty"`
	ListerFeeAmount  *int64    `json:"lister_fee_amount,omitempty"`
	FrozenAt         time.Time `json:"frozen_at"`
}

// FeeFor returns the frozen fee for party if it was computed for method.
func (s *PaymentSnapshot) FeeFor(party, method string) (int64, bool) {
	var m *string
	var fee *int64
	switch party {
	case PartyTenant:
		m, fee = s.TenantMethod, s.TenantFeeAmount
	case PartyLister:
		m, fee = s.ListerMethod, s.ListerFeeAmount
	}
	if m == nil || fee == nil || *m != method {
		return 0, false
	}
	return *fee, true
}

type PartyPayment struct {
	Status    string     `json:"status"`
	Method    *string    `json:"method,omitempty"`
	IntentRef *string    `json:"intent_ref,omitempty"`
	Amount    *int64     `json:"amount,omitempty"`
	Attempts  int        `json:"attempts"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type Agreement struct {
	ID                  uuid.UUID        `json:"id"`
	PropertyID          uuid.UUID        `json:"property_id"`
	ListerUserID        uuid.UUID        `json:"lister_user_id"`
	TenantUserID        uuid.UUID        `json:"tenant_user_id"`
	Status              string           `json:"status"`
	TemplateBody        string           `json:"template_body"`
	Variables           Variables        `json:"variables"`
	RentAmount          int64            `json:"rent_amount"` // smallest currency unit
	Currency            string           `json:"currency"`
	ListerPaymentMethod *string          `json:"lister_payment_method,omitempty"`
	TenantPaymentMethod *string          `json:"tenant_payment_method,omitempty"`
	TenantSignature     *Signature       `json:"tenant_signature,omitempty"`
	ListerSignature     *Signature       `json:"lister_signature,omitempty"`
	FinalDocumentRef    *string          `json:"final_document_ref,omitempty"`
	FinalDocumentSHA256 *string          `json:"final_document_sha256,omitempty"`
	PaymentSnapshot     *PaymentSnapshot `json:"payment_snapshot,omitempty"`
	TenantPayment       PartyPayment     `json:"tenant_payment"`
	ListerPayment       PartyPayment     `json:"lister_payment"`
	Version             int              `json:"version"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	CancelledAt         *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Payment returns the payment state of party, or nil for an unknown party.
func (a *Agreement) Payment(party string) *PartyPayment {
	switch party {
	case PartyTenant:
		return &a.TenantPayment
	case PartyLister:
		return &a.ListerPayment
	}
	return nil
}

// FullySettled is true once both parties paid their fee.
func (a *Agreement) FullySettled() bool {
	return a.TenantPayment.Status == PaymentStatusSucceeded && a.ListerPayment.Status == PaymentStatusSucceeded
}

func (a *Agreement) IsActive() bool {
	return !IsTerminalStatus(a.Status)
}

// CheckInvariants verifies the cross-field rules that must hold for every
// persisted agreement.
func (a *Agreement) CheckInvariants() error {
	if _, ok := ValidAgreementTransitions[a.Status]; !ok {
		return fmt.Errorf("agreement: unknown status %q", a.Status)
	}
	if a.ListerUserID == a.TenantUserID {
		return fmt.Errorf("agreement: lister and tenant must differ")
	}
	if a.RentAmount <= 0 {
		return fmt.Errorf("agreement: rent amount must be positive")
	}
	completed := a.Status == AgreementStatusCompleted
	if a.TenantSignature != nil && a.Status != AgreementStatusPendingListerSignature && !completed {
		return fmt.Errorf("agreement: tenant signature present in status %s", a.Status)
	}
	if a.ListerSignature != nil && !completed {
		return fmt.Errorf("agreement: lister signature present in status %s", a.Status)
	}
	if (a.FinalDocumentRef != nil) != completed {
		return fmt.Errorf("agreement: final document must be set iff completed (status %s)", a.Status)
	}
	if (a.PaymentSnapshot != nil) != completed {
		return fmt.Errorf("agreement: payment snapshot must be set iff completed (status %s)", a.Status)
	}
	if !completed && (a.TenantPayment.Status != PaymentStatusNone || a.ListerPayment.Status != PaymentStatusNone) {
		return fmt.Errorf("agreement: payment statuses must be none before completion")
	}
	return nil
}

// Clone returns a deep copy.
func (a *Agreement) Clone() *Agreement {
	c := *a
	c.Variables = a.Variables.Clone()
	c.ListerPaymentMethod = clonePtr(a.ListerPaymentMethod)
	c.TenantPaymentMethod = clonePtr(a.TenantPaymentMethod)
	c.TenantSignature = clonePtr(a.TenantSignature)
	c.ListerSignature = clonePtr(a.ListerSignature)
	c.FinalDocumentRef = clonePtr(a.FinalDocumentRef)
	c.FinalDocumentSHA256 = clonePtr(a.FinalDocumentSHA256)
	c.PaymentSnapshot = a.PaymentSnapshot.Clone()
	c.TenantPayment = a.TenantPayment.Clone()
	c.ListerPayment = a.ListerPayment.Clone()
	c.CompletedAt = clonePtr(a.CompletedAt)
	c.CancelledAt = clonePtr(a.CancelledAt)
	return &c
}

func (s *PaymentSnapshot) Clone() *PaymentSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.TenantMethod = clonePtr(s.TenantMethod)
	c.TenantFeeAmount = clonePtr(s.TenantFeeAmount)
	c.ListerMethod = clonePtr(s.ListerMethod)
	c.ListerFeeAmount = clonePtr(s.ListerFeeAmount)
	return &c
}

func (p PartyPayment) Clone() PartyPayment {
	p.Method = clonePtr(p.Method)
	p.IntentRef = clonePtr(p.IntentRef)
	p.Amount = clonePtr(p.Amount)
	p.UpdatedAt = clonePtr(p.UpdatedAt)
	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
