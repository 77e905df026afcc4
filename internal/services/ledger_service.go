package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/clubpoint/backend/internal/authz"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/clubpoint/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService owns the per-user balance and the append-only transaction
// log. Every mutation runs inside one database transaction: the idempotency
// check, the balance update and the log append commit together or not at
// all. The unique index on idempotency_key backstops the in-transaction
// check against concurrent writers.
type LedgerService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// TopUpRequest represents the top-up request payload
// @Description Balance top-up request structure
type TopUpRequest struct {
	UserID int             `json:"user_id" validate:"required,min=1" example:"1"` // Target user ID
	Amount decimal.Decimal `json:"amount" example:"50.00"`                        // Amount to credit
}

// TopUp credits a user's balance. Replays with a known idempotency key
// return the current user state without a second credit or log entry.
func (s *LedgerService) TopUp(ctx context.Context, userID int, amount decimal.Decimal, key string) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Locking the user row first serializes concurrent retries of the
	// same logical operation before the key check runs.
	user, err := lockUserTx(tx, userID)
	if err != nil {
		return nil, err
	}

	var existingID int
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM balance_transactions WHERE idempotency_key = $1`, key).
		Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	user.Balance = user.Balance.Add(amount)
	if err := updateBalanceTx(tx, userID, user.Balance); err != nil {
		return nil, err
	}
	if err := appendTransactionTx(tx, userID, nil, models.TxTopUp, amount, key); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

// History returns a user's transactions newest first, each joined to its
// booking when one is linked.
func (s *LedgerService) History(ctx context.Context, userID int) ([]models.BalanceTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.booking_id, t.type, t.amount, t.created_at,
		       b.id, b.user_id, b.place_id, b.start_datetime, b.end_datetime, b.status, b.amount, b.created_at, b.updated_at
		FROM balance_transactions t
		LEFT JOIN bookings b ON b.id = t.booking_id
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []models.BalanceTransaction{}
	for rows.Next() {
		var t models.BalanceTransaction
		var bookingID sql.NullInt64
		var bID, bUserID, bPlaceID sql.NullInt64
		var bStart, bEnd, bCreated, bUpdated sql.NullTime
		var bStatus sql.NullString
		var bAmount decimal.NullDecimal

		if err := rows.Scan(&t.ID, &t.UserID, &bookingID, &t.Type, &t.Amount, &t.CreatedAt,
			&bID, &bUserID, &bPlaceID, &bStart, &bEnd, &bStatus, &bAmount, &bCreated, &bUpdated); err != nil {
			return nil, err
		}
		if bookingID.Valid {
			id := int(bookingID.Int64)
			t.BookingID = &id
		}
		if bID.Valid {
			t.Booking = &models.Booking{
				ID:            int(bID.Int64),
				UserID:        int(bUserID.Int64),
				PlaceID:       int(bPlaceID.Int64),
				StartDatetime: bStart.Time,
				EndDatetime:   bEnd.Time,
				Status:        bStatus.String,
				Amount:        bAmount.Decimal,
				CreatedAt:     bCreated.Time,
				UpdatedAt:     bUpdated.Time,
			}
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// GetUser fetches a single user without locking.
func (s *LedgerService) GetUser(ctx context.Context, userID int) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, phone_number, role, is_active, is_verified, balance, created_at, updated_at
		FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role,
			&u.IsActive, &u.IsVerified, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetBalance returns the caller's account including the current balance
// @Summary Get own balance
// @Description Get the authenticated user's account with current balance
// @Tags balance
// @Produce json
// @Success 200 {object} models.User
// @Failure 404 {object} ErrorResponse
// @Router /balance [get]
func (s *LedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	user, err := s.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, user)
}

// TopUpBalance handles the top-up endpoint
// @Summary Top up a user's balance
// @Description Credit a user's balance. Idempotent via the Idempotency-Key header. Admin/owner only.
// @Tags balance
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param request body TopUpRequest true "Top-up request"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /balance/topup [post]
func (s *LedgerService) TopUpBalance(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionTopUp) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		SendErrorResponse(w, "Idempotency-Key header required", http.StatusBadRequest, nil)
		return
	}

	var req TopUpRequest
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

	user, err := s.TopUp(r.Context(), req.UserID, req.Amount, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] Top-up failed for user %d: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to top up balance", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LEDGER] Top-up of %s for user %d (key %s)", req.Amount.String(), req.UserID, key)
	SendJSON(w, http.StatusOK, user)
}

// TransactionHistory lists the caller's transactions
// @Summary Transaction history
// @Description List the authenticated user's balance transactions, newest first
// @Tags transactions
// @Produce json
// @Success 200 {array} models.BalanceTransaction
// @Router /transactions [get]
func (s *LedgerService) TransactionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txns, err := s.History(r.Context(), userID)
	if err != nil {
		log.Printf("[LEDGER] History fetch failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, txns)
}

// lockUserTx fetches a user row with FOR UPDATE, serializing balance
// mutations on that user for the duration of the transaction.
func lockUserTx(tx *sql.Tx, userID int) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(`
		SELECT id, first_name, last_name, phone_number, role, is_active, is_verified, balance, created_at, updated_at
		FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role,
			&u.IsActive, &u.IsVerified, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func updateBalanceTx(tx *sql.Tx, userID int, newBalance decimal.Decimal) error {
	_, err := tx.Exec(`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		newBalance, userID)
	return err
}

// appendTransactionTx writes one ledger row. Rows are never updated or
// deleted afterwards.
func appendTransactionTx(tx *sql.Tx, userID int, bookingID *int, txType string, amount decimal.Decimal, key string) error {
	_, err := tx.Exec(`
		INSERT INTO balance_transactions (user_id, booking_id, type, amount, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		userID, bookingID, txType, amount, key)
	return err
}

// transactionExistsTx reports whether a ledger row with the key exists.
func transactionExistsTx(tx *sql.Tx, key string) (bool, error) {
	var id int
	err := tx.QueryRow(`SELECT id FROM balance_transactions WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
