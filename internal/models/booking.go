package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking statuses. Cancelled is terminal.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking reserves a place for a time range. The amount is frozen from the
// user's balance when the booking is created.
type Booking struct {
	ID             int             `json:"id" example:"1"`
	UserID         int             `json:"user_id" example:"1"`
	PlaceID        int             `json:"place_id" example:"3"`
	StartDatetime  time.Time       `json:"start_datetime"`
	EndDatetime    time.Time       `json:"end_datetime"`
	Status         string          `json:"status" example:"pending"`
	Amount         decimal.Decimal `json:"amount" example:"20.00"`
	IdempotencyKey string          `json:"-"` // unique per user
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Overlaps reports whether the booking's range conflicts with [start, end].
// Ranges are treated as closed intervals, so a booking ending exactly when
// another starts still counts as a conflict.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return !b.StartDatetime.After(end) && !b.EndDatetime.Before(start)
}
