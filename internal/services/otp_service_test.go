package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestGenerateOTP(t *testing.T) {
	for i := 0; i < 20; i++ {
		code := generateOTP()
		assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	}
}

func TestOTPService_RequestOTP(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewOTPService(db, redisClient)

	request := func(phone string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(OTPRequest{PhoneNumber: phone})
		req := httptest.NewRequest("POST", "/api/v1/auth/otp", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		service.RequestOTP(w, req)
		return w
	}

	t.Run("stores a 6-digit code with a 5 minute TTL", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM users WHERE phone_number = \$1`).
			WithArgs("+998901234567").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		redisMock.Regexp().ExpectSet(`otp:\+998901234567`, `[0-9]{6}`, 5*time.Minute).SetVal("OK")

		w := request("+998901234567")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unknown phone returns not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM users WHERE phone_number = \$1`).
			WithArgs("+998900000000").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		w := request("+998900000000")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOTPService_VerifyOTP(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewOTPService(db, redisClient)

	verify := func(phone, code string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(OTPVerifyRequest{PhoneNumber: phone, Code: code})
		req := httptest.NewRequest("POST", "/api/v1/auth/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		service.VerifyOTP(w, req)
		return w
	}

	t.Run("correct code marks the user verified and is one-shot", func(t *testing.T) {
		redisMock.ExpectGet("otp:+998901234567").SetVal("123456")
		redisMock.ExpectDel("otp:+998901234567").SetVal(1)
		mock.ExpectExec(`UPDATE users SET is_verified = TRUE, updated_at = NOW\(\) WHERE phone_number = \$1`).
			WithArgs("+998901234567").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := verify("+998901234567", "123456")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("wrong code is rejected without touching the database", func(t *testing.T) {
		redisMock.ExpectGet("otp:+998901234567").SetVal("123456")

		w := verify("+998901234567", "654321")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired code is rejected", func(t *testing.T) {
		redisMock.ExpectGet("otp:+998901234567").RedisNil()

		w := verify("+998901234567", "123456")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
