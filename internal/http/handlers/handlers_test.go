package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/auth"
	"github.com/sublease-marketplace/backend/internal/config"
	"github.com/sublease-marketplace/backend/internal/fees"
	"github.com/sublease-marketplace/backend/internal/http/dto"
	"github.com/sublease-marketplace/backend/internal/middleware"
	"github.com/sublease-marketplace/backend/internal/models"
	"github.com/sublease-marketplace/backend/internal/services"
	"github.com/sublease-marketplace/backend/internal/templates"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantCurrent string
	}{
		{"invalid transition", &models.InvalidTransitionError{Action: "lock", Status: "pending_tenant_signature", Code: models.CodeAlreadyLocked}, 409, models.CodeAlreadyLocked, "pending_tenant_signature"},
		{"concurrent", &models.ConcurrentModificationError{Expected: 1, Actual: 2, Status: "draft"}, 409, CodeConcurrentModification, "draft"},
		{"validation", models.NewValidationError("rent_amount", "must be positive"), 422, CodeValidationFailed, ""},
		{"dependency", models.NewDependencyError("object storage", errors.New("down")), 503, CodeDependencyUnavailable, ""},
		{"not found", &models.NotFoundError{Entity: "agreement"}, 404, CodeNotFound, ""},
		{"permission", &models.PermissionError{Action: "lock"}, 403, CodeForbidden, ""},
		{"wrapped", fmt.Errorf("outer: %w", &models.NotFoundError{Entity: "user"}), 404, CodeNotFound, ""},
		{"unknown", errors.New("boom"), 500, CodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorStatus(tt.err)
			if status != tt.wantStatus || body.Code != tt.wantCode || body.CurrentStatus != tt.wantCurrent {
				t.Fatalf("got %d %+v", status, body)
			}
		})
	}
}

func TestErrorStatus_HidesInternalDetail(t *testing.T) {
	_, body := ErrorStatus(models.NewDependencyError("payment processor", errors.New("secret key sk_live_123 rejected")))
	if strings.Contains(body.Error, "sk_live") {
		t.Fatalf("dependency detail leaked: %s", body.Error)
	}
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestMetaHandler(t *testing.T) {
	lib, err := templates.Load("")
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	h := NewMetaHandler(fees.DefaultSchedule(), "usd", lib, zap.NewNop())
	app := fiber.New()
	app.Get("/fees/quote", h.GetFeeQuote)
	app.Get("/templates", h.GetTemplates)
	app.Get("/meta/payment-methods", h.GetPaymentMethods)

	tests := []struct {
		target     string
		wantStatus int
		wantFee    float64
	}{
		{"/fees/quote?rent=200000&method=card", 200, 7000},
		{"/fees/quote?rent=200000&method=bank_transfer", 200, 5000},
		{"/fees/quote?rent=153333", 200, 5367},
		{"/fees/quote?rent=abc", 400, 0},
		{"/fees/quote?rent=0&method=card", 422, 0},
		{"/fees/quote?rent=1000&method=cash", 422, 0},
	}
	for _, tt := range tests {
		status, body := doRequest(t, app, "GET", tt.target, "", nil)
		if status != tt.wantStatus {
			t.Errorf("%s: status %d, want %d (%v)", tt.target, status, tt.wantStatus, body)
			continue
		}
		if tt.wantStatus != 200 {
			continue
		}
		quote := body["data"].(map[string]any)["quote"].(map[string]any)
		if quote["fee_amount"].(float64) != tt.wantFee || quote["total_charge"].(float64) != tt.wantFee {
			t.Errorf("%s: quote %v", tt.target, quote)
		}
	}

	status, body := doRequest(t, app, "GET", "/templates", "", nil)
	if status != 200 || len(body["data"].([]any)) < 2 {
		t.Fatalf("templates: %d %v", status, body)
	}
	status, body = doRequest(t, app, "GET", "/meta/payment-methods", "", nil)
	if status != 200 || len(body["data"].([]any)) != len(models.AllPaymentMethods) {
		t.Fatalf("payment methods: %d %v", status, body)
	}
}

type fakeParser struct {
	res *services.PaymentResult
	err error
}

func (f *fakeParser) ParseWebhook(_ []byte, _ string) (*services.PaymentResult, error) {
	return f.res, f.err
}

type fakeRecorder struct {
	calls   int
	applied bool
	err     error
}

func (f *fakeRecorder) RecordPaymentResult(_ context.Context, _ services.PaymentResult) (*models.Agreement, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Agreement{}, f.applied, nil
}

func TestPaymentWebhookHandler(t *testing.T) {
	result := &services.PaymentResult{AgreementID: uuid.New(), Party: models.PartyTenant, Outcome: models.PaymentStatusSucceeded, IntentRef: "pi_1", EventID: "evt_1"}

	tests := []struct {
		name        string
		parser      *fakeParser
		recorder    *fakeRecorder
		wantStatus  int
		wantApplied bool
		wantCalls   int
	}{
		{"bad signature", &fakeParser{err: fmt.Errorf("%w: mismatch", services.ErrInvalidWebhookSignature)}, &fakeRecorder{}, 401, false, 0},
		{"irrelevant event", &fakeParser{}, &fakeRecorder{}, 200, false, 0},
		{"applied", &fakeParser{res: result}, &fakeRecorder{applied: true}, 200, true, 1},
		{"duplicate", &fakeParser{res: result}, &fakeRecorder{applied: false}, 200, false, 1},
		{"unknown agreement is acked", &fakeParser{res: result}, &fakeRecorder{err: &models.NotFoundError{Entity: "agreement"}}, 200, false, 1},
		{"bad result is acked", &fakeParser{res: result}, &fakeRecorder{err: models.NewValidationError("party", "must be lister or tenant")}, 200, false, 1},
		{"agreement not completed is acked", &fakeParser{res: result}, &fakeRecorder{err: &models.InvalidTransitionError{Action: "payment_result", Status: models.AgreementStatusCancelled, Code: models.CodeNotCompleted}}, 200, false, 1},
		{"store down is retried", &fakeParser{res: result}, &fakeRecorder{err: models.NewDependencyError("database", errors.New("timeout"))}, 503, false, 1},
		{"transient conflict is retried", &fakeParser{res: result}, &fakeRecorder{err: &models.ConcurrentModificationError{}}, 409, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentWebhookHandler(tt.parser, tt.recorder, zap.NewNop())
			app := fiber.New()
			app.Post("/webhooks/payments", h.HandlePaymentWebhook)

			status, body := doRequest(t, app, "POST", "/webhooks/payments", `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
			if status != tt.wantStatus {
				t.Fatalf("status %d, want %d (%v)", status, tt.wantStatus, body)
			}
			if status == 200 && body["applied"] != tt.wantApplied {
				t.Fatalf("applied = %v", body["applied"])
			}
			if tt.recorder.calls != tt.wantCalls {
				t.Fatalf("recorder calls = %d", tt.recorder.calls)
			}
		})
	}
}

func TestAgreementHandler_BadRequests(t *testing.T) {
	h := NewAgreementHandler(nil, nil, 1024, zap.NewNop())
	app := fiber.New()
	app.Post("/agreements", h.CreateAgreement)
	app.Get("/agreements/:id", h.GetAgreement)
	app.Post("/agreements/:id/lock", h.LockAgreement)
	app.Post("/agreements/:id/sign", h.SignAgreement)
	app.Post("/agreements/:id/payments", h.BeginPayment)

	tests := []struct {
		method, target, body string
	}{
		{"POST", "/agreements", `{"property_id":"nope","tenant_user_id":"` + uuid.NewString() + `"}`},
		{"POST", "/agreements", `{"property_id":"` + uuid.NewString() + `","tenant_user_id":""}`},
		{"POST", "/agreements", `not json`},
		{"GET", "/agreements/not-a-uuid", ""},
		{"POST", "/agreements/not-a-uuid/lock", ""},
		{"POST", "/agreements/" + uuid.NewString() + "/lock", `{"expected_version":"x"}`},
		{"POST", "/agreements/" + uuid.NewString() + "/sign", `{}`},
		{"POST", "/agreements/" + uuid.NewString() + "/payments", `{"party":"tenant"}`},
	}
	for _, tt := range tests {
		status, body := doRequest(t, app, tt.method, tt.target, tt.body, nil)
		if status != fiber.StatusBadRequest || body["code"] != CodeBadRequest {
			t.Errorf("%s %s: %d %v", tt.method, tt.target, status, body)
		}
	}

	status, body := doRequest(t, app, "POST", "/agreements/"+uuid.NewString()+"/lock", "", map[string]string{"If-Match": `"v3"`})
	if status != fiber.StatusBadRequest {
		t.Errorf("malformed If-Match: %d %v", status, body)
	}
}

func TestExpectedVersion(t *testing.T) {
	five := 5
	tests := []struct {
		name     string
		header   string
		fromBody *int
		want     int // 0 means nil
		wantErr  bool
	}{
		{"none", "", nil, 0, false},
		{"plain", "3", nil, 3, false},
		{"quoted", `"4"`, nil, 4, false},
		{"weak", `W/"7"`, nil, 7, false},
		{"body wins", "3", &five, 5, false},
		{"garbage", "abc", nil, 0, true},
		{"zero", "0", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				got, err := expectedVersion(c, tt.fromBody)
				if (err != nil) != tt.wantErr {
					t.Errorf("err = %v", err)
				}
				switch {
				case tt.want == 0 && got != nil:
					t.Errorf("got %d, want nil", *got)
				case tt.want != 0 && (got == nil || *got != tt.want):
					t.Errorf("got %v, want %d", got, tt.want)
				}
				return c.SendStatus(fiber.StatusNoContent)
			})
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("If-Match", tt.header)
			}
			if _, err := app.Test(req, -1); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	app := fiber.New()
	app.Use(middleware.AuthMiddleware(cfg, zap.NewNop()))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(dto.SuccessResponse{OK: true, Data: middleware.GetUserID(c).String()})
	})

	userID := uuid.New()
	token, err := auth.GenerateJWT(cfg.JWTSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, _ := auth.GenerateJWT("other-secret", userID, time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing", "", 401},
		{"not bearer", "Token " + token, 401},
		{"wrong secret", "Bearer " + other, 401},
		{"valid", "Bearer " + token, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			status, body := doRequest(t, app, "GET", "/whoami", "", headers)
			if status != tt.wantStatus {
				t.Fatalf("status %d, want %d", status, tt.wantStatus)
			}
			if status == 200 && body["data"] != userID.String() {
				t.Fatalf("user id = %v", body["data"])
			}
		})
	}
}
