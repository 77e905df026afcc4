package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	staffOnly := []Action{
		ActionTopUp,
		ActionManageCatalog,
		ActionManageUsers,
		ActionUpdateBooking,
		ActionDeleteBooking,
		ActionListAllBookings,
	}

	for _, action := range staffOnly {
		t.Run(string(action), func(t *testing.T) {
			assert.True(t, Can("admin", action))
			assert.True(t, Can("owner", action))
			assert.False(t, Can("user", action))
			assert.False(t, Can("", action))
			assert.False(t, Can("superuser", action))
		})
	}
}
