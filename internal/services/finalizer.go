package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/binder"
	"github.com/sublease-marketplace/backend/internal/document"
	"github.com/sublease-marketplace/backend/internal/fees"
	"github.com/sublease-marketplace/backend/internal/models"
)

// Finalizer materializes a countersigned agreement: it renders the body,
// stores the PDF and freezes the fee snapshot. It mutates the agreement in
// place and is meant to run inside the countersign update.
type Finalizer struct {
	storage  ObjectStorage
	schedule fees.Schedule
	log      *zap.Logger
}

func NewFinalizer(storage ObjectStorage, schedule fees.Schedule, log *zap.Logger) *Finalizer {
	return &Finalizer{storage: storage, schedule: schedule, log: log}
}

func finalDocumentKey(id fmt.Stringer, digest string) string {
	return fmt.Sprintf("agreements/%s/final-%s.pdf", id, digest[:16])
}

// Finalize sets FinalDocumentRef, FinalDocumentSHA256, PaymentSnapshot and
// CompletedAt. Both signatures must already be present.
func (f *Finalizer) Finalize(ctx context.Context, a *models.Agreement, now time.Time) error {
	if a.FinalDocumentRef != nil || a.PaymentSnapshot != nil {
		return fmt.Errorf("agreement %s is already finalized", a.ID)
	}
	if a.TenantSignature == nil || a.ListerSignature == nil {
		return fmt.Errorf("agreement %s: both signatures are required to finalize", a.ID)
	}

	snapshot, err := f.snapshot(a, now)
	if err != nil {
		return err
	}

	pdf, err := document.RenderPDF(document.Input{
		Title:       "Sublease Agreement",
		AgreementID: a.ID.String(),
		HTML:        binder.Render(a.TemplateBody, a.Variables),
		Signatures: []document.SignatureLine{
			{Role: "Tenant", Name: partyName(a.Variables, "TenantName", "Tenant"), ImageRef: a.TenantSignature.ImageRef, SignedAt: a.TenantSignature.SignedAt},
			{Role: "Lister", Name: partyName(a.Variables, "ListerName", "Lister"), ImageRef: a.ListerSignature.ImageRef, SignedAt: a.ListerSignature.SignedAt},
		},
		IssuedAt: now,
	})
	if err != nil {
		return models.NewDependencyError("document renderer", err)
	}

	digest := document.Digest(pdf)
	url, err := f.storage.Put(ctx, finalDocumentKey(a.ID, digest), "application/pdf", pdf)
	if err != nil {
		return models.NewDependencyError("object storage", err)
	}

	a.FinalDocumentRef = &url
	a.FinalDocumentSHA256 = &digest
	a.PaymentSnapshot = snapshot
	a.CompletedAt = &now

	f.log.Info("agreement finalized",
		zap.String("agreement_id", a.ID.String()),
		zap.String("document", url),
		zap.Int("bytes", len(pdf)))
	return nil
}

// snapshot freezes the rates. A party's fee is computed only when that party
// declared a payment method.
func (f *Finalizer) snapshot(a *models.Agreement, now time.Time) (*models.PaymentSnapshot, error) {
	s := &models.PaymentSnapshot{
		RentAmount:       a.RentAmount,
		Currency:         a.Currency,
		BaseFeeBPS:       f.schedule.BaseBPS,
		CardSurchargeBPS: f.schedule.CardSurchargeBPS,
		FrozenAt:         now,
	}
	if m := a.TenantPaymentMethod; m != nil {
		q, err := f.schedule.Calculate(a.RentAmount, *m)
		if err != nil {
			return nil, err
		}
		method, fee := *m, q.FeeAmount
		s.TenantMethod, s.TenantFeeAmount = &method, &fee
	}
	if m := a.ListerPaymentMethod; m != nil {
		q, err := f.schedule.Calculate(a.RentAmount, *m)
		if err != nil {
			return nil, err
		}
		method, fee := *m, q.FeeAmount
		s.ListerMethod, s.ListerFeeAmount = &method, &fee
	}
	return s, nil
}

func partyName(vars models.Variables, key, fallback string) string {
	if v := vars[key]; v != "" {
		return v
	}
	return fallback
}
