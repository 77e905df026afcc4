package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance transaction types.
const (
	TxTopUp   = "topup"   // balance increased by an admin/owner
	TxFreeze  = "freeze"  // balance reserved against a pending booking
	TxRelease = "release" // frozen amount refunded on cancellation
	TxPayment = "payment" // frozen amount settled on confirmation
)

// BalanceTransaction is an append-only ledger entry. Rows are never updated
// or deleted; the idempotency key is globally unique and is the source of
// truth for "this operation already happened".
type BalanceTransaction struct {
	ID             int             `json:"id"`
	UserID         int             `json:"user_id"`
	BookingID      *int            `json:"booking_id"` // nil for top-ups
	Type           string          `json:"type" example:"topup"`
	Amount         decimal.Decimal `json:"amount" example:"50.00"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`

	// Booking is populated by the history query when booking_id is set.
	Booking *Booking `json:"booking,omitempty"`
}
