// ./internal/state/receipts_store.go
package state

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/solmint/sce/internal/types"
)

// SaveTransitionReceipt appends one receipt row. Receipts are written for
// failed transitions too; the audit trail must show rejections.
func SaveTransitionReceipt(r types.TransitionReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO transition_receipts (
			trace_id, transition_type, owner, caller,
			collateral_amount, token_amount, price_used, health_factor,
			success, message, signatures, receipt_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(stmt,
		r.TraceID,
		string(r.Type),
		r.Owner.String(),
		r.Caller.String(),
		strconv.FormatUint(r.CollateralAmount, 10),
		strconv.FormatUint(r.TokenAmount, 10),
		r.PriceUsed,
		strconv.FormatUint(r.HealthFactor, 10),
		r.Success,
		r.Message,
		pq.Array(r.Signatures),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save transition receipt: %w", err)
	}

	log.Debug().Int64("receiptID", receiptID).Str("type", string(r.Type)).Bool("success", r.Success).Msg("Transition receipt saved")
	return receiptID, nil
}

// LoadRecentReceipts returns the newest receipts, most recent first.
func LoadRecentReceipts(limit int) ([]types.TransitionReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, trace_id, transition_type, owner, caller,
		       collateral_amount, token_amount, price_used, health_factor,
		       success, COALESCE(message, ''), signatures, receipt_timestamp
		FROM transition_receipts
		ORDER BY receipt_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.TransitionReceipt
	for rows.Next() {
		var (
			r             types.TransitionReceipt
			typeStr       string
			ownerStr      string
			callerStr     string
			collateralStr string
			tokenStr      string
			healthStr     string
		)
		err := rows.Scan(&r.ReceiptID, &r.TraceID, &typeStr, &ownerStr, &callerStr,
			&collateralStr, &tokenStr, &r.PriceUsed, &healthStr,
			&r.Success, &r.Message, pq.Array(&r.Signatures), &r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition receipt: %w", err)
		}

		r.Type = types.TransitionType(typeStr)
		r.Owner, err = solana.PublicKeyFromBase58(ownerStr)
		if err != nil {
			return nil, fmt.Errorf("stored owner %q is not a valid public key: %w", ownerStr, err)
		}
		r.Caller, err = solana.PublicKeyFromBase58(callerStr)
		if err != nil {
			return nil, fmt.Errorf("stored caller %q is not a valid public key: %w", callerStr, err)
		}
		r.CollateralAmount, err = strconv.ParseUint(collateralStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored collateral amount %q is not a valid uint64: %w", collateralStr, err)
		}
		r.TokenAmount, err = strconv.ParseUint(tokenStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored token amount %q is not a valid uint64: %w", tokenStr, err)
		}
		r.HealthFactor, err = strconv.ParseUint(healthStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored health factor %q is not a valid uint64: %w", healthStr, err)
		}

		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transition receipts: %w", err)
	}

	return receipts, nil
}
