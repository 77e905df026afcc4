package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clubpoint/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var bookingCols = []string{
	"id", "user_id", "place_id", "start_datetime", "end_datetime",
	"status", "amount", "idempotency_key", "created_at", "updated_at",
}

func TestBookingService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBookingService(db)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	req := CreateBookingRequest{
		PlaceID:       3,
		StartDatetime: start,
		EndDatetime:   end,
		Amount:        decimal.RequireFromString("20.00"),
	}

	t.Run("freezes funds and inserts booking", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE user_id = \$1 AND idempotency_key = \$2`).
			WithArgs(1, "book-1").
			WillReturnRows(sqlmock.NewRows(bookingCols))
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "100.00"))
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1, \$2\)`).
			WithArgs(placeLockClass, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
			WithArgs(3, models.BookingCancelled, end, start).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO bookings`).
			WithArgs(1, 3, start, end, models.BookingPending, req.Amount, "book-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
		mock.ExpectExec(`UPDATE users SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(decimal.RequireFromString("80.00"), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO balance_transactions`).
			WithArgs(1, 7, "freeze", req.Amount, "booking:7:freeze").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		booking, err := service.Create(context.Background(), 1, req, "book-1")
		assert.NoError(t, err)
		assert.Equal(t, 7, booking.ID)
		assert.Equal(t, models.BookingPending, booking.Status)
		assert.True(t, booking.Amount.Equal(req.Amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay with known key returns original booking", func(t *testing.T) {
		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE user_id = \$1 AND idempotency_key = \$2`).
			WithArgs(1, "book-1").
			WillReturnRows(sqlmock.NewRows(bookingCols).
				AddRow(7, 1, 3, start, end, "pending", "20.00", "book-1", now, now))
		mock.ExpectCommit()

		booking, err := service.Create(context.Background(), 1, req, "book-1")
		assert.NoError(t, err)
		assert.Equal(t, 7, booking.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds roll back before any write", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE user_id = \$1 AND idempotency_key = \$2`).
			WithArgs(1, "book-2").
			WillReturnRows(sqlmock.NewRows(bookingCols))
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "10.00"))
		mock.ExpectRollback()

		_, err := service.Create(context.Background(), 1, req, "book-2")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("slot conflict rolls back after funds check", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE user_id = \$1 AND idempotency_key = \$2`).
			WithArgs(1, "book-3").
			WillReturnRows(sqlmock.NewRows(bookingCols))
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "100.00"))
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1, \$2\)`).
			WithArgs(placeLockClass, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).
			WithArgs(3, models.BookingCancelled, end, start).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.Create(context.Background(), 1, req, "book-3")
		assert.ErrorIs(t, err, ErrSlotConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingService_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBookingService(db)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	now := time.Now()

	lockedBooking := func(status string) *sqlmock.Rows {
		return sqlmock.NewRows(bookingCols).
			AddRow(7, 1, 3, start, end, status, "20.00", "book-1", now, now)
	}

	t.Run("confirming settles the frozen amount as payment", func(t *testing.T) {
		confirmed := models.BookingConfirmed

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(lockedBooking("pending"))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("booking:7:payment").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`INSERT INTO balance_transactions`).
			WithArgs(1, 7, "payment", sqlmock.AnyArg(), "booking:7:payment").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(start, end, "confirmed", sqlmock.AnyArg(), 7).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit()

		booking, err := service.Update(context.Background(), 7, BookingUpdateRequest{Status: &confirmed})
		assert.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, booking.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retried confirmation does not duplicate the payment entry", func(t *testing.T) {
		confirmed := models.BookingConfirmed

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(lockedBooking("pending"))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("booking:7:payment").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(start, end, "confirmed", sqlmock.AnyArg(), 7).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit()

		_, err := service.Update(context.Background(), 7, BookingUpdateRequest{Status: &confirmed})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelling refunds the frozen amount", func(t *testing.T) {
		cancelled := models.BookingCancelled

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(lockedBooking("pending"))
		mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(userRows(1, "80.00"))
		mock.ExpectExec(`UPDATE users SET balance = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(decimal.RequireFromString("100.00"), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT id FROM balance_transactions WHERE idempotency_key = \$1`).
			WithArgs("booking:7:release").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`INSERT INTO balance_transactions`).
			WithArgs(1, 7, "release", sqlmock.AnyArg(), "booking:7:release").
			WillReturnResult(sqlmock.NewResult(3, 1))
		mock.ExpectQuery(`UPDATE bookings`).
			WithArgs(start, end, "cancelled", sqlmock.AnyArg(), 7).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit()

		booking, err := service.Update(context.Background(), 7, BookingUpdateRequest{Status: &cancelled})
		assert.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, booking.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled bookings reject further updates", func(t *testing.T) {
		pending := models.BookingPending

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
			WithArgs(7).
			WillReturnRows(lockedBooking("cancelled"))
		mock.ExpectRollback()

		_, err := service.Update(context.Background(), 7, BookingUpdateRequest{Status: &pending})
		assert.ErrorIs(t, err, ErrBookingCancelled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing booking", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows(bookingCols))
		mock.ExpectRollback()

		_, err := service.Update(context.Background(), 99, BookingUpdateRequest{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
