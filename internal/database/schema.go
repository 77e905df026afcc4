package database

import "database/sql"

// Schema statements, applied in order on startup. The unique indexes on
// idempotency keys are the last line of defense behind the in-transaction
// checks: transaction keys are globally unique, booking keys are unique
// per user. The (place, start, end) constraint backstops the application
// level overlap check for exact duplicates.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            SERIAL PRIMARY KEY,
		first_name    VARCHAR(50) NOT NULL,
		last_name     VARCHAR(50) NOT NULL,
		phone_number  VARCHAR(20) NOT NULL UNIQUE,
		password_hash VARCHAR(128) NOT NULL,
		role          VARCHAR(10) NOT NULL DEFAULT 'user',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
		balance       NUMERIC(10,2) NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS branches (
		id      SERIAL PRIMARY KEY,
		name    VARCHAR(100) NOT NULL,
		address VARCHAR(200)
	)`,
	`CREATE TABLE IF NOT EXISTS zones (
		id        SERIAL PRIMARY KEY,
		branch_id INTEGER NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
		name      VARCHAR(100) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS places (
		id      SERIAL PRIMARY KEY,
		zone_id INTEGER NOT NULL REFERENCES zones(id) ON DELETE CASCADE,
		name    VARCHAR(50) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id              SERIAL PRIMARY KEY,
		user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		place_id        INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
		start_datetime  TIMESTAMP NOT NULL,
		end_datetime    TIMESTAMP NOT NULL,
		status          VARCHAR(10) NOT NULL DEFAULT 'pending',
		amount          NUMERIC(10,2) NOT NULL,
		idempotency_key VARCHAR(128) NOT NULL,
		created_at      TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMP NOT NULL DEFAULT NOW(),
		CONSTRAINT uix_booking_user_key UNIQUE (user_id, idempotency_key),
		CONSTRAINT uix_place_time UNIQUE (place_id, start_datetime, end_datetime)
	)`,
	`CREATE TABLE IF NOT EXISTS balance_transactions (
		id              SERIAL PRIMARY KEY,
		user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		booking_id      INTEGER REFERENCES bookings(id) ON DELETE SET NULL,
		type            VARCHAR(10) NOT NULL,
		amount          NUMERIC(10,2) NOT NULL,
		idempotency_key VARCHAR(128) NOT NULL UNIQUE,
		created_at      TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_place_time
		ON bookings (place_id, start_datetime, end_datetime)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON balance_transactions (user_id, created_at DESC)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
