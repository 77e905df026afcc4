package services

import "errors"

// Sentinel errors returned by the service layer. Handlers map these to
// HTTP statuses; nothing is retried or recovered silently.
var (
	// ErrNotFound is returned when a user, booking or catalog row is absent.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when a debit would take the balance
	// below zero. The operation fails closed; the balance is never clamped.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSlotConflict is returned when an active booking overlaps the
	// requested range on the same place.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrBookingCancelled is returned when updating a cancelled booking.
	// Cancelled is a terminal state.
	ErrBookingCancelled = errors.New("booking is cancelled")

	// ErrPhoneTaken is returned on registration with a known phone number.
	ErrPhoneTaken = errors.New("phone already registered")
)
