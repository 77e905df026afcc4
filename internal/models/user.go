package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role levels. Owners can do everything admins can.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// User represents a club member account
// @Description User account structure
type User struct {
	ID          int             `json:"id" example:"1"`                       // User ID
	FirstName   string          `json:"first_name" example:"John"`            // First name
	LastName    string          `json:"last_name" example:"Doe"`              // Last name
	PhoneNumber string          `json:"phone_number" example:"+998901234567"` // Phone number (unique)
	Role        string          `json:"role" example:"user"`                  // user, admin or owner
	IsActive    bool            `json:"is_active"`
	IsVerified  bool            `json:"is_verified"` // set after OTP verification
	Balance     decimal.Decimal `json:"balance" example:"100.00"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
