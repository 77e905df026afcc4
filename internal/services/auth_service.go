package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/clubpoint/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService handles registration, login and the token lifecycle.
// Access tokens are short-lived HS256 JWTs; refresh tokens are tracked in
// Redis by JTI and rotated on every refresh.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	viper.SetDefault("jwt.expiry_minutes", 60)
	viper.SetDefault("jwt.refresh_expiry_days", 30)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// RegisterRequest represents the registration payload
// @Description Registration request structure
type RegisterRequest struct {
	FirstName   string `json:"first_name" validate:"required,min=2" example:"John"`
	LastName    string `json:"last_name" validate:"required,min=2" example:"Doe"`
	PhoneNumber string `json:"phone_number" validate:"required,e164" example:"+998901234567"`
	Password    string `json:"password" validate:"required,min=6" example:"password123"`
}

// LoginRequest represents the login payload
// @Description Login request structure
type LoginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required" example:"+998901234567"`
	Password    string `json:"password" validate:"required,min=6" example:"password123"`
}

// RefreshRequest represents the token refresh payload
// @Description Token refresh request structure
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenResponse represents an issued token pair
// @Description Authentication token pair
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type" example:"bearer"`
}

// Register creates an unverified account
// @Summary Register a new user
// @Description Register with phone number and password; account stays unverified until OTP confirmation
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Phone already registered"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.PhoneNumber, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}

	var user models.User
	err = s.db.QueryRowContext(r.Context(), `
		INSERT INTO users (first_name, last_name, phone_number, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, first_name, last_name, phone_number, role, is_active, is_verified, balance, created_at, updated_at`,
		req.FirstName, req.LastName, req.PhoneNumber, hashedPassword, models.RoleUser).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.PhoneNumber, &user.Role,
			&user.IsActive, &user.IsVerified, &user.Balance, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", req.PhoneNumber, err)
		SendErrorResponse(w, ErrPhoneTaken.Error(), http.StatusConflict, nil)
		return
	}

	log.Printf("[AUTH] User created - ID: %d, phone: %s", user.ID, user.PhoneNumber)
	SendJSON(w, http.StatusCreated, user)
}

// Login authenticates a user
// @Summary Login
// @Description Authenticate with phone number and password, returns an access/refresh token pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var userID int
	var role, hashedPassword string
	err := s.db.QueryRowContext(r.Context(),
		`SELECT id, role, password_hash FROM users WHERE phone_number = $1 AND is_active = TRUE`,
		req.PhoneNumber).Scan(&userID, &role, &hashedPassword)
	if err != nil {
		log.Printf("[AUTH] User not found for phone: %s", req.PhoneNumber)
		SendErrorResponse(w, "Incorrect phone number or password", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for phone: %s", req.PhoneNumber)
		SendErrorResponse(w, "Incorrect phone number or password", http.StatusUnauthorized, nil)
		return
	}

	tokens, err := s.issueTokenPair(r.Context(), userID, role)
	if err != nil {
		log.Printf("[AUTH] Token issuance failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d", userID)
	SendJSON(w, http.StatusOK, tokens)
}

// Refresh exchanges a refresh token for a new pair
// @Summary Refresh tokens
// @Description Accepts a valid refresh token, rotates it and returns a new token pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (s *AuthService) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	userID, jti, err := parseRefreshToken(req.RefreshToken)
	if err != nil {
		SendErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized, nil)
		return
	}

	if s.redis != nil {
		key := fmt.Sprintf("refresh:%s", jti)
		if err := s.redis.Get(r.Context(), key).Err(); err != nil {
			SendErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized, nil)
			return
		}
		// Rotation: the presented token is single-use.
		s.redis.Del(r.Context(), key)
	}

	var role string
	err = s.db.QueryRowContext(r.Context(),
		`SELECT role FROM users WHERE id = $1 AND is_active = TRUE`, userID).Scan(&role)
	if err != nil {
		SendErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized, nil)
		return
	}

	tokens, err := s.issueTokenPair(r.Context(), userID, role)
	if err != nil {
		log.Printf("[AUTH] Token refresh failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, tokens)
}

// Logout revokes the presented access token
// @Summary Logout
// @Description Blacklist the presented access token until its natural expiry
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimPrefix(token, "Bearer ")

		if s.redis != nil {
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_minutes")) * time.Minute
			if err := s.redis.Set(r.Context(), key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (s *AuthService) issueTokenPair(ctx context.Context, userID int, role string) (*TokenResponse, error) {
	now := time.Now()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"typ":     "access",
		"exp":     now.Add(time.Duration(viper.GetInt("jwt.expiry_minutes")) * time.Minute).Unix(),
	})
	accessToken, err := access.SignedString([]byte(viper.GetString("jwt.secret_key")))
	if err != nil {
		return nil, err
	}

	jti := uuid.NewString()
	refreshTTL := time.Duration(viper.GetInt("jwt.refresh_expiry_days")) * 24 * time.Hour
	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"typ":     "refresh",
		"jti":     jti,
		"exp":     now.Add(refreshTTL).Unix(),
	})
	refreshToken, err := refresh.SignedString([]byte(viper.GetString("jwt.secret_key")))
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		key := fmt.Sprintf("refresh:%s", jti)
		if err := s.redis.Set(ctx, key, userID, refreshTTL).Err(); err != nil {
			return nil, err
		}
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}

func parseRefreshToken(tokenString string) (int, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("invalid claims")
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return 0, "", errors.New("not a refresh token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, "", errors.New("missing user_id claim")
	}
	jti, _ := claims["jti"].(string)

	return int(userID), jti, nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
