// Package authz centralizes role checks so every mutating endpoint asks the
// same question the same way instead of comparing role strings ad hoc.
package authz

import "github.com/clubpoint/backend/internal/models"

// Action identifies a capability a caller may or may not hold.
type Action string

const (
	ActionTopUp           Action = "balance.topup"
	ActionManageCatalog   Action = "catalog.manage"
	ActionManageUsers     Action = "users.manage"
	ActionUpdateBooking   Action = "bookings.update"
	ActionDeleteBooking   Action = "bookings.delete"
	ActionListAllBookings Action = "bookings.list_all"
)

var staffActions = map[Action]bool{
	ActionTopUp:           true,
	ActionManageCatalog:   true,
	ActionManageUsers:     true,
	ActionUpdateBooking:   true,
	ActionDeleteBooking:   true,
	ActionListAllBookings: true,
}

// Can reports whether a role is allowed to perform an action. Every action
// defined here requires admin or owner; regular users only operate on their
// own bookings and balance through the open endpoints.
func Can(role string, action Action) bool {
	if !staffActions[action] {
		return false
	}
	return role == models.RoleAdmin || role == models.RoleOwner
}
