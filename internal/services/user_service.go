package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/clubpoint/backend/internal/authz"
	"github.com/clubpoint/backend/internal/middleware"
	"github.com/clubpoint/backend/internal/models"
	"github.com/go-chi/chi/v5"
)

// UserService exposes the admin user surface: listing, lookup and partial
// updates. Accounts are created through registration and deleted only by
// the unverified-account sweep, never here.
type UserService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewUserService(db *sql.DB) *UserService {
	return &UserService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// UserUpdateRequest represents a partial user update
// @Description User update request structure; all fields optional
type UserUpdateRequest struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,min=2"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,min=2"`
	Password  *string `json:"password,omitempty" validate:"omitempty,min=6"`
	Role      *string `json:"role,omitempty" validate:"omitempty,oneof=user admin owner"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

func (s *UserService) list(ctx context.Context, skip, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, phone_number, role, is_active, is_verified, balance, created_at, updated_at
		FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role,
			&u.IsActive, &u.IsVerified, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserService) get(ctx context.Context, userID int) (*models.User, error) {
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

func (s *UserService) update(ctx context.Context, userID int, patch UserUpdateRequest) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := lockUserTx(tx, userID)
	if err != nil {
		return nil, err
	}

	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}

	passwordHash := ""
	if patch.Password != nil {
		passwordHash, err = hashPassword(*patch.Password)
		if err != nil {
			return nil, err
		}
	}

	if passwordHash != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET first_name = $1, last_name = $2, role = $3, is_active = $4, password_hash = $5, updated_at = NOW()
			WHERE id = $6`,
			u.FirstName, u.LastName, u.Role, u.IsActive, passwordHash, userID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET first_name = $1, last_name = $2, role = $3, is_active = $4, updated_at = NOW()
			WHERE id = $5`,
			u.FirstName, u.LastName, u.Role, u.IsActive, userID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers lists users
// @Summary List users
// @Description Paginated user list (admin/owner only)
// @Tags users
// @Produce json
// @Param skip query int false "Records to skip" default(0)
// @Param limit query int false "Max records" default(10)
// @Success 200 {array} models.User
// @Failure 403 {object} ErrorResponse
// @Router /users [get]
func (s *UserService) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionManageUsers) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	skip, limit := paginationParams(r, 10)
	users, err := s.list(r.Context(), skip, limit)
	if err != nil {
		log.Printf("[USERS] List failed: %v", err)
		SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, users)
}

// GetUser fetches one user
// @Summary Get a user
// @Description Fetch a single user by ID (admin/owner only)
// @Tags users
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {object} models.User
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{userId} [get]
func (s *UserService) GetUser(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionManageUsers) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		SendErrorResponse(w, "Invalid user ID", http.StatusBadRequest, nil)
		return
	}

	user, err := s.get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, user)
}

// UpdateUser applies a partial update
// @Summary Update a user
// @Description Patch user fields (admin/owner only)
// @Tags users
// @Accept json
// @Produce json
// @Param userId path int true "User ID"
// @Param request body UserUpdateRequest true "Fields to update"
// @Success 200 {object} models.User
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{userId} [patch]
func (s *UserService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !authz.Can(middleware.Role(r.Context()), authz.ActionManageUsers) {
		SendErrorResponse(w, "Not enough permissions", http.StatusForbidden, nil)
		return
	}

	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		SendErrorResponse(w, "Invalid user ID", http.StatusBadRequest, nil)
		return
	}

	var patch UserUpdateRequest
	if err := decodeJSONBody(w, r, &patch); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&patch); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.update(r.Context(), userID, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[USERS] Update failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, user)
}
