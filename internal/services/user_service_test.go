package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/stretchr/testify/assert"
)

func TestUserService_ListUsers(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)

	t.Run("regular users are forbidden", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/users", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), 1, "user"))
		w := httptest.NewRecorder()
		service.ListUsers(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin sees the paginated list", func(t *testing.T) {
		mock.ExpectQuery(`FROM users ORDER BY id LIMIT \$1 OFFSET \$2`).
			WithArgs(5, 10).
			WillReturnRows(userRows(11, "0.00"))

		req := httptest.NewRequest("GET", "/api/v1/users?skip=10&limit=5", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), 1, "admin"))
		w := httptest.NewRecorder()
		service.ListUsers(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserService_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)

	t.Run("patch applies role and active flag", func(t *testing.T) {
		role := "admin"
		active := false

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "0.00"))
		mock.ExpectExec(`UPDATE users SET first_name = \$1, last_name = \$2, role = \$3, is_active = \$4, updated_at = NOW\(\)`).
			WithArgs("John", "Doe", "admin", false, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		u, err := service.update(context.Background(), 1, UserUpdateRequest{Role: &role, IsActive: &active})
		assert.NoError(t, err)
		assert.Equal(t, "admin", u.Role)
		assert.False(t, u.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "first_name", "last_name", "phone_number", "role",
				"is_active", "is_verified", "balance", "created_at", "updated_at",
			}))
		mock.ExpectRollback()

		_, err := service.update(context.Background(), 99, UserUpdateRequest{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
