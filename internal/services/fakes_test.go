package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/events"
	"github.com/sublease-marketplace/backend/internal/fees"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/repositories"
	"github.com/sublease-marketplace/backend/internal/templates"
)

// memStore mirrors AgreementRepo: every callback runs under one lock, against
// a copy, and is written back with a version bump.
type memStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*models.Agreement
	events map[string]bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]*models.Agreement{}, events: map[string]bool{}}
}

func (s *memStore) CreateOrGetActive(_ context.Context, a *models.Agreement) (*models.Agreement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.PropertyID == a.PropertyID && r.TenantUserID == a.TenantUserID && r.IsActive() {
			return r.Clone(), false, nil
		}
	}
	c := a.Clone()
	c.ID = uuid.New()
	c.Status = models.AgreementStatusDraft
	c.Version = 1
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if err := c.CheckInvariants(); err != nil {
		return nil, false, err
	}
	s.rows[c.ID] = c
	return c.Clone(), true, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	return r.Clone(), nil
}

func (s *memStore) List(_ context.Context, f repositories.AgreementFilter) ([]models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Agreement
	for _, r := range s.rows {
		if f.UserID != nil {
			switch f.Role {
			case models.PartyLister:
				if r.ListerUserID != *f.UserID {
					continue
				}
			case models.PartyTenant:
				if r.TenantUserID != *f.UserID {
					continue
				}
			default:
				if r.ListerUserID != *f.UserID && r.TenantUserID != *f.UserID {
					continue
				}
			}
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListStale(_ context.Context, status string, cutoff time.Time, limit int) ([]models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Agreement
	for _, r := range s.rows {
		if r.Status == status && r.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, id uuid.UUID, fn func(a *models.Agreement) error) (*models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(id, fn)
}

func (s *memStore) update(id uuid.UUID, fn func(a *models.Agreement) error) (*models.Agreement, error) {
	r, ok := s.rows[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	c := r.Clone()
	if err := fn(c); err != nil {
		if errors.Is(err, models.ErrNoChange) {
			return r.Clone(), nil
		}
		return nil, err
	}
	if err := c.CheckInvariants(); err != nil {
		return nil, err
	}
	c.Version = r.Version + 1
	c.UpdatedAt = time.Now().UTC()
	s.rows[id] = c
	return c.Clone(), nil
}

func (s *memStore) ApplyPaymentEvent(_ context.Context, id uuid.UUID, eventID, _, _ string, fn func(a *models.Agreement) error) (*models.Agreement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, false, &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	if s.events[eventID] {
		return r.Clone(), false, nil
	}
	out, err := s.update(id, fn)
	if err != nil {
		return nil, false, err
	}
	s.events[eventID] = true
	return out, true, nil
}

func (s *memStore) DeleteDraft(_ context.Context, id uuid.UUID, check func(a *models.Agreement) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return &models.NotFoundError{Entity: "agreement", ID: id.String()}
	}
	if err := check(r.Clone()); err != nil {
		return err
	}
	if r.Status != models.AgreementStatusDraft {
		return &models.InvalidTransitionError{Action: models.ActionDelete, Status: r.Status, Code: models.CodeNotDeletable}
	}
	delete(s.rows, id)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (f *fakeAudit) Log(_ context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, _, _ int) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditLog
	for _, e := range f.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		if e.EntityID != nil && *e.EntityID == id {
			out = append(out, e.Action)
		}
	}
	return out
}

type fakeDirectory struct {
	users      map[uuid.UUID]*models.User
	properties map[uuid.UUID]*models.Property
}

func (d *fakeDirectory) GetProperty(_ context.Context, id uuid.UUID) (*models.Property, error) {
	p, ok := d.properties[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "property", ID: id.String()}
	}
	return p, nil
}

func (d *fakeDirectory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "user", ID: id.String()}
	}
	return u, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeStorage) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = append([]byte(nil), body...)
	return "mem://" + key, nil
}

func (f *fakeStorage) keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// fakeProcessor returns the same intent for a repeated idempotency key.
// Intents listed in settled cannot be cancelled.
type fakeProcessor struct {
	mu        sync.Mutex
	requests  []IntentRequest
	byKey     map[string]string
	cancelled []string
	settled   map[string]bool
	err       error
	cancelErr error
}

func (f *fakeProcessor) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	if f.byKey == nil {
		f.byKey = map[string]string{}
	}
	ref, ok := f.byKey[req.IdempotencyKey]
	if !ok {
		ref = fmt.Sprintf("pi_%d", len(f.byKey)+1)
		f.byKey[req.IdempotencyKey] = ref
	}
	return &Intent{Ref: ref, ClientSecret: ref + "_secret"}, nil
}

func (f *fakeProcessor) CancelIntent(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if f.settled[ref] {
		return fmt.Errorf("%w: %s", ErrIntentNotCancellable, ref)
	}
	f.cancelled = append(f.cancelled, ref)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc       *AgreementService
	payments  *PaymentService
	store     *memStore
	audit     *fakeAudit
	storage   *fakeStorage
	processor *fakeProcessor
	publisher *fakePublisher

	lister   uuid.UUID
	tenant   uuid.UUID
	stranger uuid.UUID
	property uuid.UUID
}

const testRent = 200000

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lib, err := templates.Load("")
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	env := &testEnv{
		store:     newMemStore(),
		audit:     &fakeAudit{},
		storage:   &fakeStorage{},
		processor: &fakeProcessor{},
		publisher: &fakePublisher{},
		lister:    uuid.New(),
		tenant:    uuid.New(),
		stranger:  uuid.New(),
		property:  uuid.New(),
	}
	dir := &fakeDirectory{
		users: map[uuid.UUID]*models.User{
			env.lister:   {ID: env.lister, Email: "lister@example.com", DisplayName: "Lena Lister"},
			env.tenant:   {ID: env.tenant, Email: "tenant@example.com", DisplayName: "Tom Tenant"},
			env.stranger: {ID: env.stranger, Email: "other@example.com", DisplayName: "Olga Other"},
		},
		properties: map[uuid.UUID]*models.Property{
			env.property: {ID: env.property, ListerUserID: env.lister, Title: "Loft", Address: "12 Main St", MonthlyRent: testRent, Currency: "usd"},
		},
	}
	cfg := &config.Config{Currency: "usd", PlatformFeeBPS: 250, CardSurchargeBPS: 100, MaxSignatureBytes: 1024}
	log := zap.NewNop()

	finalizer := NewFinalizer(env.storage, fees.DefaultSchedule(), log)
	env.svc = NewAgreementService(env.store, env.audit, dir, lib, finalizer, env.storage, env.publisher, cfg, log)
	env.payments = NewPaymentService(env.store, env.audit, env.processor, env.publisher, log)
	return env
}

func (e *testEnv) initiate(t *testing.T) *models.Agreement {
	t.Helper()
	a, _, err := e.svc.Initiate(context.Background(), e.lister, InitiateInput{
		PropertyID:   e.property,
		TenantUserID: e.tenant,
		Variables:    map[string]string{"StartDate": "2026-11-01", "EndDate": "2027-04-30"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return a
}

func (e *testEnv) locked(t *testing.T) *models.Agreement {
	t.Helper()
	a := e.initiate(t)
	a, err := e.svc.Lock(context.Background(), e.lister, a.ID, nil)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	return a
}

func (e *testEnv) tenantSigned(t *testing.T, method *string) *models.Agreement {
	t.Helper()
	a := e.locked(t)
	a, err := e.svc.Sign(context.Background(), e.tenant, a.ID, SignInput{SignatureImageRef: "mem://tenant.png", PaymentMethod: method})
	if err != nil {
		t.Fatalf("tenant sign: %v", err)
	}
	return a
}

func (e *testEnv) completed(t *testing.T, tenantMethod, listerMethod *string) *models.Agreement {
	t.Helper()
	a := e.tenantSigned(t, tenantMethod)
	a, err := e.svc.Sign(context.Background(), e.lister, a.ID, SignInput{SignatureImageRef: "mem://lister.png", PaymentMethod: listerMethod})
	if err != nil {
		t.Fatalf("countersign: %v", err)
	}
	return a
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var ite *models.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError(%s), got %v", code, err)
	}
	if ite.Code != code {
		t.Fatalf("expected code %s, got %s", code, ite.Code)
	}
}

func assertErrType[T error](t *testing.T, err error) {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
}
