package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/spf13/viper"
)

// CleanupService deletes accounts that never completed OTP verification.
// Runs one sweep a day; bookings and transactions cascade with the user.
type CleanupService struct {
	db *sql.DB
}

func NewCleanupService(db *sql.DB) *CleanupService {
	viper.SetDefault("cleanup.unverified_max_age_hours", 48)
	return &CleanupService{db: db}
}

// Run blocks, sweeping every 24h until the context is cancelled. Intended
// to run on its own goroutine from main.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				log.Printf("[CLEANUP] Sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[CLEANUP] Removed %d unverified accounts", n)
			}
		}
	}
}

// Sweep removes unverified users older than the configured cutoff.
func (s *CleanupService) Sweep(ctx context.Context) (int64, error) {
	maxAge := time.Duration(viper.GetInt("cleanup.unverified_max_age_hours")) * time.Hour
	cutoff := time.Now().Add(-maxAge)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE is_verified = FALSE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
