// Package rbac answers "which party is this user on this agreement" and
// whether that party may perform an action.
package rbac

import (
	"github.com/google/uuid"

	"github.com/sublease-marketplace/backend/internal/models"
)

// Role constants
const (
	RoleLister = models.PartyLister
	RoleTenant = models.PartyTenant
	RoleNone   = "none"
)

// RolePermissions defines what each role can do on an agreement.
var RolePermissions = map[string][]string{
	RoleLister: {
		models.ActionEdit, models.ActionLock, models.ActionRecall, models.ActionCountersign,
		models.ActionCancel, models.ActionDelete, models.ActionPay,
	},
	RoleTenant: {
		models.ActionSign, models.ActionDecline, models.ActionPay,
	},
	// RoleNone: nothing
}

// RoleOf returns the role userID plays on a.
func RoleOf(a *models.Agreement, userID uuid.UUID) string {
	switch {
	case userID == uuid.Nil:
		return RoleNone
	case userID == a.ListerUserID:
		return RoleLister
	case userID == a.TenantUserID:
		return RoleTenant
	}
	return RoleNone
}

// IsParty reports whether userID is the lister or the tenant of a.
func IsParty(a *models.Agreement, userID uuid.UUID) bool {
	return RoleOf(a, userID) != RoleNone
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, action string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == action {
			return true
		}
	}
	return false
}

// Authorize returns a PermissionError unless userID's role on a allows action.
func Authorize(a *models.Agreement, userID uuid.UUID, action string) (string, error) {
	role := RoleOf(a, userID)
	if role == RoleNone {
		return role, &models.PermissionError{Action: action, Reason: "not a party to this agreement"}
	}
	if !HasPermission(role, action) {
		return role, &models.PermissionError{Action: action, Reason: "only the " + otherRole(role) + " can do this"}
	}
	return role, nil
}

func otherRole(role string) string {
	if role == RoleLister {
		return RoleTenant
	}
	return RoleLister
}
