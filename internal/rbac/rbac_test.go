package rbac

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sublease-marketplace/backend/internal/models"
)

func TestRoleOf(t *testing.T) {
	a := &models.Agreement{ListerUserID: uuid.New(), TenantUserID: uuid.New()}

	tests := []struct {
		name string
		user uuid.UUID
		want string
	}{
		{"lister", a.ListerUserID, RoleLister},
		{"tenant", a.TenantUserID, RoleTenant},
		{"stranger", uuid.New(), RoleNone},
		{"nil user", uuid.Nil, RoleNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleOf(a, tt.user); got != tt.want {
				t.Errorf("RoleOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     string
		action   string
		expected bool
	}{
		{RoleLister, models.ActionLock, true},
		{RoleLister, models.ActionCountersign, true},
		{RoleLister, models.ActionSign, false},
		{RoleLister, models.ActionDecline, false},
		{RoleTenant, models.ActionSign, true},
		{RoleTenant, models.ActionDecline, true},
		{RoleTenant, models.ActionPay, true},
		{RoleTenant, models.ActionLock, false},
		{RoleTenant, models.ActionCancel, false},
		{RoleNone, models.ActionPay, false},
		{"unknown", models.ActionLock, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"_"+tt.action, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.action); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.expected)
			}
		})
	}
}

// The permission table must agree with the party named by each action rule.
func TestPermissionsMatchActionRules(t *testing.T) {
	for action, rule := range models.AgreementActions {
		if !HasPermission(rule.Party, action) {
			t.Errorf("%s may %s per action rules but not per permissions", rule.Party, action)
		}
	}
}

func TestAuthorize(t *testing.T) {
	a := &models.Agreement{ListerUserID: uuid.New(), TenantUserID: uuid.New()}

	if role, err := Authorize(a, a.TenantUserID, models.ActionSign); err != nil || role != RoleTenant {
		t.Fatalf("tenant sign: role=%q err=%v", role, err)
	}

	var pe *models.PermissionError
	if _, err := Authorize(a, a.TenantUserID, models.ActionLock); !errors.As(err, &pe) {
		t.Fatalf("tenant lock: expected PermissionError, got %v", err)
	}
	if _, err := Authorize(a, uuid.New(), models.ActionPay); !errors.As(err, &pe) {
		t.Fatalf("stranger pay: expected PermissionError, got %v", err)
	}
}
