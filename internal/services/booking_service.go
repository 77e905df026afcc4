package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/clubpoint/backend/internal/authz"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/clubpoint/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// Lock class for pg_advisory_xact_lock, namespacing the per-place booking
// locks away from any other advisory lock user in the database.
const placeLockClass = 2201

// BookingService orchestrates booking creation against the ledger: it
// validates funds, checks slot conflicts and freezes the amount in one
// database transaction. An advisory lock on the place serializes
// concurrent attempts on the same place so two overlapping requests
// cannot both pass the conflict check.
type BookingService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewBookingService(db *sql.DB) *BookingService {
	return &BookingService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreateBookingRequest represents the booking creation payload
// @Description Booking creation request structure
type CreateBookingRequest struct {
	PlaceID       int             `json:"place_id" validate:"required,min=1" example:"3"`
	StartDatetime time.Time       `json:"start_datetime" validate:"required"`
	EndDatetime   time.Time       `json:"end_datetime" validate:"required"`
	Amount        decimal.Decimal `json:"amount" example:"20.00"`
}

// BookingUpdateRequest represents a partial booking update
// @Description Booking update request structure; all fields optional
type BookingUpdateRequest struct {
	Status        *string          `json:"status,omitempty" validate:"omitempty,oneof=pending confirmed cancelled"`
	StartDatetime *time.Time       `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time       `json:"end_datetime,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// Create runs the booking state machine in one atomic unit:
//
//	1. idempotency check on (user, key) — replay returns the original booking
//	2. user lookup (row locked)
//	3. funds check
//	4. conflict check under the place advisory lock
//	5. commit: insert booking, debit balance, append freeze transaction
//
// A failure at any step rolls back every prior effect.
func (s *BookingService) Create(ctx context.Context, userID int, req CreateBookingRequest, key string) (*models.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := findBookingByKeyTx(tx, userID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return existing, nil
	}

	user, err := lockUserTx(tx, userID)
	if err != nil {
		return nil, err
	}

	if user.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	// Serialize all booking attempts on this place for the rest of the
	// transaction; released automatically at commit or rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, placeLockClass, req.PlaceID); err != nil {
		return nil, err
	}

	conflict, err := hasConflictTx(tx, req.PlaceID, req.StartDatetime, req.EndDatetime)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	booking := &models.Booking{
		UserID:         userID,
		PlaceID:        req.PlaceID,
		StartDatetime:  req.StartDatetime,
		EndDatetime:    req.EndDatetime,
		Status:         models.BookingPending,
		Amount:         req.Amount,
		IdempotencyKey: key,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bookings (user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		userID, req.PlaceID, req.StartDatetime, req.EndDatetime, models.BookingPending, req.Amount, key).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := updateBalanceTx(tx, userID, user.Balance.Sub(req.Amount)); err != nil {
		return nil, err
	}
	if err := appendTransactionTx(tx, userID, &booking.ID, models.TxFreeze, req.Amount,
		fmt.Sprintf("booking:%d:freeze", booking.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return booking, nil
}

// Get fetches a single booking.
func (s *BookingService) Get(ctx context.Context, bookingID int) (*models.Booking, error) {
	var b models.Booking
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at
		FROM bookings WHERE id = $1`, bookingID).
		Scan(&b.ID, &b.UserID, &b.PlaceID, &b.StartDatetime, &b.EndDatetime,
			&b.Status, &b.Amount, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns bookings, optionally filtered to one user, with pagination.
func (s *BookingService) List(ctx context.Context, userID *int, skip, limit int) ([]models.Booking, error) {
	var rows *sql.Rows
	var err error
	if userID != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at
			FROM bookings WHERE user_id = $1 ORDER BY id LIMIT $2 OFFSET $3`, *userID, limit, skip)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at
			FROM bookings ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []models.Booking{}
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.PlaceID, &b.StartDatetime, &b.EndDatetime,
			&b.Status, &b.Amount, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Update applies a partial update to a booking. Cancelled bookings are
// terminal and reject further updates. Status transitions reconcile the
// ledger: confirmation settles the frozen amount as a payment entry,
// cancellation refunds it to the balance with a release entry. Both use
// derived idempotency keys so a retried transition is a no-op.
func (s *BookingService) Update(ctx context.Context, bookingID int, patch BookingUpdateRequest) (*models.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := lockBookingTx(tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingCancelled {
		return nil, ErrBookingCancelled
	}

	if patch.Status != nil && *patch.Status != b.Status {
		switch *patch.Status {
		case models.BookingConfirmed:
			if err := reconcileTx(tx, b, models.TxPayment); err != nil {
				return nil, err
			}
		case models.BookingCancelled:
			user, err := lockUserTx(tx, b.UserID)
			if err != nil {
				return nil, err
			}
			if err := updateBalanceTx(tx, b.UserID, user.Balance.Add(b.Amount)); err != nil {
				return nil, err
			}
			if err := reconcileTx(tx, b, models.TxRelease); err != nil {
				return nil, err
			}
		}
		b.Status = *patch.Status
	}

	if patch.StartDatetime != nil {
		b.StartDatetime = *patch.StartDatetime
	}
	if patch.EndDatetime != nil {
		b.EndDatetime = *patch.EndDatetime
	}
	if patch.Amount != nil {
		b.Amount = *patch.Amount
	}

	err = tx.QueryRow(`
		UPDATE bookings
		SET start_datetime = $1, end_datetime = $2, status = $3, amount = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		b.StartDatetime, b.EndDatetime, b.Status, b.Amount, b.ID).
		Scan(&b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes a booking row. Admin surface only; business logic never
// hard-deletes bookings.
func (s *BookingService) Delete(ctx context.Context, bookingID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, bookingID)
	return err
}

// reconcileTx appends a payment or release entry for a booking transition
// using a key derived from the booking, making repeated transitions no-ops.
func reconcileTx(tx *sql.Tx, b *models.Booking, txType string) error {
	key := fmt.Sprintf("booking:%d:%s", b.ID, txType)
	exists, err := transactionExistsTx(tx, key)
	if err != nil || exists {
		return err
	}
	return appendTransactionTx(tx, b.UserID, &b.ID, txType, b.Amount, key)
}

// hasConflictTx reports whether any non-cancelled booking on the place
// overlaps [start, end]. Intervals are closed: a booking ending exactly
// when another starts conflicts.
func hasConflictTx(tx *sql.Tx, placeID int, start, end time.Time) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM bookings
		WHERE place_id = $1 AND status <> $2 AND start_datetime <= $3 AND end_datetime >= $4`,
		placeID, models.BookingCancelled, end, start).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func findBookingByKeyTx(tx *sql.Tx, userID int, key string) (*models.Booking, error) {
	var b models.Booking
	err := tx.QueryRow(`
		SELECT id, user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at
		FROM bookings WHERE user_id = $1 AND idempotency_key = $2`, userID, key).
		Scan(&b.ID, &b.UserID, &b.PlaceID, &b.StartDatetime, &b.EndDatetime,
			&b.Status, &b.Amount, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func lockBookingTx(tx *sql.Tx, bookingID int) (*models.Booking, error) {
	var b models.Booking
	err := tx.QueryRow(`
		SELECT id, user_id, place_id, start_datetime, end_datetime, status, amount, idempotency_key, created_at, updated_at
		FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).
		Scan(&b.ID, &b.UserID, &b.PlaceID, &b.StartDatetime, &b.EndDatetime,
			&b.Status, &b.Amount, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking handles booking creation
// @Summary Create a booking
// @Description Create a booking for a place and time range. Idempotent via the Idempotency-Key header.
// @Tags bookings
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param request body CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Booking
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse "Insufficient funds"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Slot conflict"
// @Router /bookings [post]
func (s *BookingService) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		SendErrorResponse(w, "Idempotency-Key header required", http.StatusBadRequest, nil)
		return
	}

	var req CreateBookingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}
	if !req.EndDatetime.After(req.StartDatetime) {
		SendErrorResponse(w, "end_datetime must be after start_datetime", http.StatusBadRequest, nil)
		return
	}

	booking, err := s.Create(r.Context(), userID, req, key)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrInsufficientFunds):
			SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
		case errors.Is(err, ErrSlotConflict):
			SendErrorResponse(w, "Place already booked for this time range", http.StatusConflict, nil)
		default:
			log.Printf("[BOOKING] Create failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to create booking", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusCreated, booking)
}

// ListBookings lists bookings
// @Summary List bookings
// @Description Regular users see their own bookings; admin/owner see all.
// @Tags bookings
// @Produce json
// @Param skip query int false "Records to skip" default(0)
// @Param limit query int false "Max records" default(10)
// @Success 200 {array} models.Booking
// @Router /bookings [get]
func (s *BookingService) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	skip, limit := paginationParams(r, 10)

	var filter *int
	if !authz.Can(middleware.Role(r.Context()), authz.ActionListAllBookings) {
		filter = &userID
	}

	bookings, err := s.List(r.Context(), filter, skip, limit)
	if err != nil {
		log.Printf("[BOOKING] List failed: %v", err)
		SendErrorResponse(w, "Failed to list bookings", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, bookings)
}

// GetBooking fetches one booking
// @Summary Get a booking
// @Description Fetch a single booking; owners see their own, admin/owner see any
// @Tags bookings
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /bookings/{bookingId} [get]
func (s *BookingService) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bookingID, err := strconv.Atoi(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking ID", http.StatusBadRequest, nil)
		return
	}

	booking, err := s.Get(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch booking", http.StatusInternalServerError, nil)
		}
		return
	}

	if booking.UserID != userID && !authz.Can(middleware.Role(r.Context()), authz.ActionListAllBookings) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	SendJSON(w, http.StatusOK, booking)
}

// UpdateBooking applies a partial update
// @Summary Update a booking
// @Description Patch booking fields (admin/owner only). Confirming settles the frozen amount; cancelling refunds it.
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body BookingUpdateRequest true "Fields to update"
// @Success 200 {object} models.Booking
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Booking cancelled"
// @Router /bookings/{bookingId} [patch]
func (s *BookingService) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionUpdateBooking) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	bookingID, err := strconv.Atoi(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking ID", http.StatusBadRequest, nil)
		return
	}

	var patch BookingUpdateRequest
	if err := decodeJSONBody(w, r, &patch); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&patch); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	booking, err := s.Update(r.Context(), bookingID, patch)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrBookingCancelled):
			SendErrorResponse(w, "Booking is cancelled", http.StatusConflict, nil)
		default:
			log.Printf("[BOOKING] Update failed for booking %d: %v", bookingID, err)
			SendErrorResponse(w, "Failed to update booking", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, booking)
}

// DeleteBooking removes a booking
// @Summary Delete a booking
// @Description Hard-delete a booking row (admin/owner only)
// @Tags bookings
// @Param bookingId path int true "Booking ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Router /bookings/{bookingId} [delete]
func (s *BookingService) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionDeleteBooking) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	bookingID, err := strconv.Atoi(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking ID", http.StatusBadRequest, nil)
		return
	}

	if err := s.Delete(r.Context(), bookingID); err != nil {
		log.Printf("[BOOKING] Delete failed for booking %d: %v", bookingID, err)
		SendErrorResponse(w, "Failed to delete booking", http.StatusInternalServerError, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BookingQR renders a check-in QR code for a booking
// @Summary Booking check-in QR
// @Description Returns a PNG QR code encoding the booking reference, shown at the venue on arrival
// @Tags bookings
// @Produce png
// @Param bookingId path int true "Booking ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /bookings/{bookingId}/qr [get]
func (s *BookingService) BookingQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bookingID, err := strconv.Atoi(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking ID", http.StatusBadRequest, nil)
		return
	}

	booking, err := s.Get(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch booking", http.StatusInternalServerError, nil)
		}
		return
	}

	if booking.UserID != userID && !authz.Can(middleware.Role(r.Context()), authz.ActionListAllBookings) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id": booking.ID,
		"user_id":    booking.UserID,
		"place_id":   booking.PlaceID,
		"start":      booking.StartDatetime,
		"end":        booking.EndDatetime,
		"status":     booking.Status,
	})
	if err != nil {
		SendErrorResponse(w, "Failed to build QR payload", http.StatusInternalServerError, nil)
		return
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "Failed to render QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// paginationParams reads skip/limit query params with bounds matching the
// original API (limit 1..100).
func paginationParams(r *http.Request, defaultLimit int) (int, int) {
	skip, limit := 0, defaultLimit
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}
	return skip, limit
}
