package services

import (
	"bytes"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// OTPService verifies phone numbers. Codes live in Redis under a short TTL;
// the latest requested code wins and a successful verification is one-shot.
type OTPService struct {
	db        *sql.DB
	redis     *redis.Client
	sms       *SMSSender
	validator *ValidationHelper
}

func NewOTPService(db *sql.DB, redisClient *redis.Client) *OTPService {
	viper.SetDefault("otp.expiry_minutes", 5)

	return &OTPService{
		db:        db,
		redis:     redisClient,
		sms:       NewSMSSender(),
		validator: NewValidationHelper(),
	}
}

// OTPRequest represents the OTP request payload
// @Description OTP request structure
type OTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required" example:"+998901234567"`
}

// OTPVerifyRequest represents the OTP verification payload
// @Description OTP verification structure
type OTPVerifyRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required" example:"+998901234567"`
	Code        string `json:"code" validate:"required,len=6" example:"123456"`
}

// RequestOTP sends a verification code
// @Summary Request an OTP
// @Description Generate a 6-digit code for the phone number and deliver it by SMS
// @Tags auth
// @Accept json
// @Produce json
// @Param request body OTPRequest true "OTP request"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /auth/otp [post]
func (s *OTPService) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var userID int
	err := s.db.QueryRowContext(r.Context(),
		`SELECT id FROM users WHERE phone_number = $1`, req.PhoneNumber).Scan(&userID)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	code := generateOTP()
	if s.redis != nil {
		key := fmt.Sprintf("otp:%s", req.PhoneNumber)
		ttl := time.Duration(viper.GetInt("otp.expiry_minutes")) * time.Minute
		if err := s.redis.Set(r.Context(), key, code, ttl).Err(); err != nil {
			log.Printf("[OTP] Failed to store code: %v", err)
			SendErrorResponse(w, "Failed to generate OTP", http.StatusInternalServerError, nil)
			return
		}
	}

	go s.sms.Send(req.PhoneNumber, code)

	SendJSON(w, http.StatusOK, map[string]string{"message": "OTP sent successfully"})
}

// VerifyOTP confirms a code and marks the user verified
// @Summary Verify an OTP
// @Description Check the code for the phone number; on success the account is marked verified
// @Tags auth
// @Accept json
// @Produce json
// @Param request body OTPVerifyRequest true "Verification request"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse "Invalid or expired OTP"
// @Router /auth/verify [post]
func (s *OTPService) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPVerifyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if s.redis != nil {
		key := fmt.Sprintf("otp:%s", req.PhoneNumber)
		storedCode, err := s.redis.Get(r.Context(), key).Result()
		if err != nil || storedCode != req.Code {
			log.Printf("[OTP] Invalid or expired code for %s", req.PhoneNumber)
			SendErrorResponse(w, "Invalid or expired OTP", http.StatusBadRequest, nil)
			return
		}
		s.redis.Del(r.Context(), key)
	}

	result, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE phone_number = $1`,
		req.PhoneNumber)
	if err != nil {
		log.Printf("[OTP] Failed to mark %s verified: %v", req.PhoneNumber, err)
		SendErrorResponse(w, "Failed to verify user", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[OTP] Verified %s", req.PhoneNumber)
	SendJSON(w, http.StatusOK, map[string]any{
		"phone_number": req.PhoneNumber,
		"verified":     true,
	})
}

func generateOTP() string {
	b := make([]byte, 4)
	cryptorand.Read(b)
	n := (int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])) % 1000000
	if n < 0 {
		n = -n
	}
	return fmt.Sprintf("%06d", n)
}

// SMSSender delivers OTP codes through an Eskiz-style gateway: one call to
// obtain a bearer token, one to send the message. When unconfigured it
// logs the code instead, which is the development mode.
type SMSSender struct {
	client *http.Client
}

func NewSMSSender() *SMSSender {
	return &SMSSender{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMSSender) Send(phoneNumber, code string) {
	authURL := viper.GetString("sms.auth_url")
	sendURL := viper.GetString("sms.send_url")
	username := viper.GetString("sms.username")
	password := viper.GetString("sms.password")
	sender := viper.GetString("sms.sender")

	if authURL == "" || sendURL == "" || username == "" || password == "" {
		log.Printf("[SMS] Gateway not configured, code for %s: %s", phoneNumber, code)
		return
	}

	token, err := s.authenticate(authURL, username, password)
	if err != nil {
		log.Printf("[SMS] Gateway auth failed: %v", err)
		return
	}

	body, _ := json.Marshal(map[string]string{
		"mobile_phone": phoneNumber,
		"message":      fmt.Sprintf("Your verification code: %s", code),
		"from":         sender,
	})
	req, err := http.NewRequest(http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[SMS] Failed to build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[SMS] Send failed for %s: %v", phoneNumber, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[SMS] Gateway returned %d for %s", resp.StatusCode, phoneNumber)
	}
}

func (s *SMSSender) authenticate(authURL, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := s.client.Post(authURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Data.Token == "" {
		return "", fmt.Errorf("no token in gateway response")
	}
	return payload.Data.Token, nil
}
