// ./internal/state/positions_store.go
package state

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/solmint/sce/internal/types"
)

// SavePosition upserts the durable image of a position. Balances are stored
// as NUMERIC(20,0) so the full uint64 range round-trips exactly.
func SavePosition(p types.Position) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO positions (owner, collateral_balance, debt_balance, collateral_account, reserve_account, initialized, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (owner) DO UPDATE SET
			collateral_balance = EXCLUDED.collateral_balance,
			debt_balance = EXCLUDED.debt_balance,
			collateral_account = EXCLUDED.collateral_account,
			reserve_account = EXCLUDED.reserve_account,
			initialized = EXCLUDED.initialized,
			updated_at = CURRENT_TIMESTAMP;`

	_, err := DB.Exec(stmt,
		p.Owner.String(),
		strconv.FormatUint(p.CollateralBalance, 10),
		strconv.FormatUint(p.DebtBalance, 10),
		p.CollateralAccount.String(),
		p.ReserveAccount.String(),
		p.Initialized,
	)
	if err != nil {
		return fmt.Errorf("failed to save position for %s: %w", p.Owner, err)
	}

	log.Debug().Str("owner", p.Owner.String()).Msg("Position persisted")
	return nil
}

// LoadPositions loads the durable ledger image, typically at startup.
func LoadPositions() ([]types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT owner, collateral_balance, debt_balance, collateral_account, reserve_account, initialized, updated_at
		FROM positions
		ORDER BY owner;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	log.Info().Int("count", len(positions)).Msg("Loaded positions from database")
	return positions, nil
}

// LoadPosition loads a single position by owner. Returns sql.ErrNoRows
// wrapped when absent.
func LoadPosition(owner solana.PublicKey) (types.Position, error) {
	if DB == nil {
		return types.Position{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT owner, collateral_balance, debt_balance, collateral_account, reserve_account, initialized, updated_at
		FROM positions
		WHERE owner = $1;`

	row := DB.QueryRow(query, owner.String())
	p, err := scanPosition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Position{}, fmt.Errorf("position for %s: %w", owner, err)
		}
		return types.Position{}, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (types.Position, error) {
	var (
		p                 types.Position
		ownerStr          string
		collateralStr     string
		debtStr           string
		collateralAcctStr string
		reserveAcctStr    string
	)

	err := row.Scan(&ownerStr, &collateralStr, &debtStr, &collateralAcctStr, &reserveAcctStr, &p.Initialized, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Position{}, err
		}
		return types.Position{}, fmt.Errorf("failed to scan position row: %w", err)
	}

	p.Owner, err = solana.PublicKeyFromBase58(ownerStr)
	if err != nil {
		return types.Position{}, fmt.Errorf("stored owner %q is not a valid public key: %w", ownerStr, err)
	}
	p.CollateralBalance, err = strconv.ParseUint(collateralStr, 10, 64)
	if err != nil {
		return types.Position{}, fmt.Errorf("stored collateral balance %q is not a valid uint64: %w", collateralStr, err)
	}
	p.DebtBalance, err = strconv.ParseUint(debtStr, 10, 64)
	if err != nil {
		return types.Position{}, fmt.Errorf("stored debt balance %q is not a valid uint64: %w", debtStr, err)
	}
	if collateralAcctStr != "" {
		p.CollateralAccount, err = solana.PublicKeyFromBase58(collateralAcctStr)
		if err != nil {
			return types.Position{}, fmt.Errorf("stored collateral account %q is invalid: %w", collateralAcctStr, err)
		}
	}
	if reserveAcctStr != "" {
		p.ReserveAccount, err = solana.PublicKeyFromBase58(reserveAcctStr)
		if err != nil {
			return types.Position{}, fmt.Errorf("stored reserve account %q is invalid: %w", reserveAcctStr, err)
		}
	}

	return p, nil
}
