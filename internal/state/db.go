// ./internal/state/db.go
package state

import (
	"context"
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
		CREATE TABLE IF NOT EXISTS positions (
			owner VARCHAR(64) PRIMARY KEY,
			collateral_balance NUMERIC(20, 0) NOT NULL DEFAULT 0,
			debt_balance NUMERIC(20, 0) NOT NULL DEFAULT 0,
			collateral_account VARCHAR(64) NOT NULL DEFAULT '',
			reserve_account VARCHAR(64) NOT NULL DEFAULT '',
			initialized BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_positions_updated_at ON positions(updated_at DESC);

		CREATE TABLE IF NOT EXISTS protocol_config (
			config_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			authority VARCHAR(64) NOT NULL,
			issued_asset VARCHAR(64) NOT NULL,
			liquidation_threshold BIGINT NOT NULL,
			liquidation_bonus BIGINT NOT NULL,
			min_health_factor NUMERIC(20, 0) NOT NULL,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_protocol_config_version UNIQUE (version)
		);
		CREATE INDEX IF NOT EXISTS idx_protocol_config_active ON protocol_config(is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS transition_receipts (
			receipt_id SERIAL PRIMARY KEY,
			trace_id VARCHAR(64) NOT NULL,
			transition_type VARCHAR(32) NOT NULL,
			owner VARCHAR(64) NOT NULL,
			caller VARCHAR(64) NOT NULL,
			collateral_amount NUMERIC(20, 0) NOT NULL DEFAULT 0,
			token_amount NUMERIC(20, 0) NOT NULL DEFAULT 0,
			price_used BIGINT NOT NULL DEFAULT 0,
			health_factor NUMERIC(20, 0) NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			message TEXT,
			signatures TEXT[],
			receipt_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_transition_receipts_timestamp ON transition_receipts(receipt_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_transition_receipts_owner ON transition_receipts(owner);
		CREATE INDEX IF NOT EXISTS idx_transition_receipts_type ON transition_receipts(transition_type);

		CREATE TABLE IF NOT EXISTS health_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			scan_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			price BIGINT NOT NULL,
			total_collateral NUMERIC(20, 0) NOT NULL,
			total_debt NUMERIC(20, 0) NOT NULL,
			position_count INTEGER NOT NULL,
			unhealthy_count INTEGER NOT NULL,
			unhealthy_owners JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_health_snapshots_timestamp ON health_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_health_snapshots_scan ON health_snapshots(scan_number DESC);

		-- Scan counter table for persistent global scan tracking
		CREATE TABLE IF NOT EXISTS scan_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_scan INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO scan_counter (id, current_scan)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
