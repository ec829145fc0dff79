// ./internal/state/protocol_store.go
package state

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/solmint/sce/internal/types"
)

// SaveProtocolConfig saves a new version of the protocol configuration.
// When makeActive is set, any previously active row is deactivated in the
// same transaction.
func SaveProtocolConfig(cfg types.ProtocolConfig, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid protocol config: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE protocol_config SET is_active = FALSE WHERE is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active config: %w", err)
		}
	}

	stmt := `
		INSERT INTO protocol_config (
			version, is_active, authority, issued_asset,
			liquidation_threshold, liquidation_bonus, min_health_factor,
			activated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING config_id;`

	var configID int64
	err = tx.QueryRow(stmt,
		cfg.Version,
		makeActive,
		cfg.Authority.String(),
		cfg.IssuedAsset.String(),
		cfg.LiquidationThreshold,
		cfg.LiquidationBonus,
		strconv.FormatUint(cfg.MinHealthFactor, 10),
	).Scan(&configID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert protocol config version %d: %w", cfg.Version, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit protocol config: %w", err)
	}

	log.Info().Int64("configID", configID).Int("version", cfg.Version).Bool("active", makeActive).Msg("Protocol config saved")
	return configID, nil
}

// LoadActiveProtocolConfig returns the currently active configuration row.
func LoadActiveProtocolConfig() (*types.ProtocolConfig, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT config_id, version, is_active, authority, issued_asset,
		       liquidation_threshold, liquidation_bonus, min_health_factor,
		       activated_at, created_at
		FROM protocol_config
		WHERE is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var (
		cfg          types.ProtocolConfig
		authorityStr string
		assetStr     string
		minHFStr     string
	)

	row := DB.QueryRow(query)
	err := row.Scan(&cfg.ConfigID, &cfg.Version, &cfg.IsActive, &authorityStr, &assetStr,
		&cfg.LiquidationThreshold, &cfg.LiquidationBonus, &minHFStr,
		&cfg.ActivatedAt, &cfg.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active protocol config found: %w", err)
		}
		return nil, fmt.Errorf("failed to load active protocol config: %w", err)
	}

	cfg.Authority, err = solana.PublicKeyFromBase58(authorityStr)
	if err != nil {
		return nil, fmt.Errorf("stored authority %q is not a valid public key: %w", authorityStr, err)
	}
	cfg.IssuedAsset, err = solana.PublicKeyFromBase58(assetStr)
	if err != nil {
		return nil, fmt.Errorf("stored issued asset %q is not a valid public key: %w", assetStr, err)
	}
	cfg.MinHealthFactor, err = strconv.ParseUint(minHFStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stored min health factor %q is not a valid uint64: %w", minHFStr, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("active protocol config is invalid: %w", err)
	}

	return &cfg, nil
}

// UpdateMinHealthFactor activates a new configuration version that differs
// from the current one only in the solvency floor. This is the only runtime
// mutation of the protocol configuration.
func UpdateMinHealthFactor(current types.ProtocolConfig, minHealthFactor uint64) (*types.ProtocolConfig, error) {
	next := current
	next.Version = current.Version + 1
	next.MinHealthFactor = minHealthFactor
	next.IsActive = true

	if _, err := SaveProtocolConfig(next, true); err != nil {
		return nil, err
	}
	return LoadActiveProtocolConfig()
}
