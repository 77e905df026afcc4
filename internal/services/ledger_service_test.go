package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func userRows(id int, balance string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "phone_number", "role",
		"is_active", "is_verified", "balance", "created_at", "updated_at",
	}).AddRow(id, "John", "Doe", "+998901234567", "user", true, true, balance, now, now)
}

func TestLedgerService_TopUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful top-up", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "100.00"))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("topup-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`UPDATE users SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO balance_transactions`).
			WithArgs(1, nil, "topup", sqlmock.AnyArg(), "topup-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		user, err := service.TopUp(context.Background(), 1, decimal.RequireFromString("50.00"), "topup-1")
		assert.NoError(t, err)
		assert.True(t, user.Balance.Equal(decimal.RequireFromString("150.00")),
			"expected balance 150.00, got %s", user.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay with known key changes nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "150.00"))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("topup-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectCommit()

		user, err := service.TopUp(context.Background(), 1, decimal.RequireFromString("50.00"), "topup-1")
		assert.NoError(t, err)
		assert.True(t, user.Balance.Equal(decimal.RequireFromString("150.00")),
			"expected balance unchanged at 150.00, got %s", user.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "first_name", "last_name", "phone_number", "role",
				"is_active", "is_verified", "balance", "created_at", "updated_at",
			}))
		mock.ExpectRollback()

		_, err := service.TopUp(context.Background(), 99, decimal.RequireFromString("10.00"), "topup-x")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopUpBalanceHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	topUp := func(role, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/balance/topup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		req = req.WithContext(middleware.WithUser(req.Context(), 9, role))
		w := httptest.NewRecorder()
		service.TopUpBalance(w, req)
		return w
	}

	t.Run("regular users cannot top up", func(t *testing.T) {
		w := topUp("user", "k1", `{"user_id": 1, "amount": "50.00"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("idempotency key is mandatory", func(t *testing.T) {
		w := topUp("admin", "", `{"user_id": 1, "amount": "50.00"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		w := topUp("admin", "k1", `{"user_id": 1, "amount": "-5.00"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("admin tops up a user", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "0.00"))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("k1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`UPDATE users SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO balance_transactions`).
			WithArgs(1, nil, "topup", sqlmock.AnyArg(), "k1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := topUp("admin", "k1", `{"user_id": 1, "amount": "50.00"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	now := time.Now()
	earlier := now.Add(-time.Hour)

	cols := []string{
		"id", "user_id", "booking_id", "type", "amount", "created_at",
		"b_id", "b_user_id", "b_place_id", "b_start", "b_end", "b_status", "b_amount", "b_created", "b_updated",
	}

	t.Run("orders newest first and joins bookings", func(t *testing.T) {
		mock.ExpectQuery(`ORDER BY t.created_at DESC, t.id DESC`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(2, 1, 7, "freeze", "20.00", now, 7, 1, 3, earlier, now, "pending", "20.00", earlier, earlier).
				AddRow(1, 1, nil, "topup", "100.00", earlier, nil, nil, nil, nil, nil, nil, nil, nil, nil))

		txns, err := service.History(context.Background(), 1)
		assert.NoError(t, err)
		assert.Len(t, txns, 2)

		assert.Equal(t, "freeze", txns[0].Type)
		assert.NotNil(t, txns[0].BookingID)
		assert.Equal(t, 7, *txns[0].BookingID)
		assert.NotNil(t, txns[0].Booking)
		assert.Equal(t, 3, txns[0].Booking.PlaceID)
		assert.True(t, txns[0].Booking.Amount.Equal(decimal.RequireFromString("20.00")))

		assert.Equal(t, "topup", txns[1].Type)
		assert.Nil(t, txns[1].BookingID)
		assert.Nil(t, txns[1].Booking)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
