// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS transaction_records (
			record_id SERIAL PRIMARY KEY,
			intent_id VARCHAR(64) NOT NULL UNIQUE,
			kind VARCHAR(16) NOT NULL,
			amount_micro NUMERIC(30, 0) NOT NULL,
			counterparty VARCHAR(64),
			chain_id BIGINT NOT NULL,
			phase VARCHAR(32) NOT NULL,
			tx_hash VARCHAR(80),
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_transaction_records_created ON transaction_records(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transaction_records_phase ON transaction_records(phase);

		CREATE TABLE IF NOT EXISTS apy_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			base_apy DOUBLE PRECISION NOT NULL,
			rewards_apy DOUBLE PRECISION NOT NULL,
			global_boost_apy DOUBLE PRECISION NOT NULL,
			personal_boost_apy DOUBLE PRECISION NOT NULL,
			program_boost_apy DOUBLE PRECISION NOT NULL,
			effective_apy DOUBLE PRECISION NOT NULL,
			snapshot_time TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_apy_snapshots_time ON apy_snapshots(snapshot_time DESC);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Info().Msg("Database schema ensured successfully")
	return nil
}
