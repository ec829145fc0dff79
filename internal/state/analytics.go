/*

This file persists the health snapshots produced by the monitor loop.

Snapshots are the engine's longitudinal record: total collateral and debt,
how many positions exist and how many of them are below the solvency floor
at the observed price. The dashboard reads them back for trend display.

*/

package state

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/solmint/sce/internal/types"
)

// SaveHealthSnapshot stores one monitor-scan observation.
func SaveHealthSnapshot(s types.HealthSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	ownersJSON, err := json.Marshal(s.UnhealthyOwners)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal unhealthy owners: %w", err)
	}

	stmt := `
		INSERT INTO health_snapshots (
			scan_number, snapshot_timestamp, price,
			total_collateral, total_debt, position_count, unhealthy_count, unhealthy_owners
		) VALUES ($1, CURRENT_TIMESTAMP, $2, $3, $4, $5, $6, $7)
		RETURNING snapshot_id;`

	var snapshotID int64
	err = DB.QueryRow(stmt,
		s.ScanNumber,
		s.Price,
		strconv.FormatUint(s.TotalCollateral, 10),
		strconv.FormatUint(s.TotalDebt, 10),
		s.PositionCount,
		s.UnhealthyCount,
		ownersJSON,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save health snapshot: %w", err)
	}

	log.Debug().Int64("snapshotID", snapshotID).Int("scan", s.ScanNumber).Msg("Health snapshot saved")
	return snapshotID, nil
}

// LoadRecentHealthSnapshots returns the newest snapshots, most recent first.
func LoadRecentHealthSnapshots(limit int) ([]types.HealthSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT snapshot_id, scan_number, snapshot_timestamp, price,
		       total_collateral, total_debt, position_count, unhealthy_count, unhealthy_owners
		FROM health_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.HealthSnapshot
	for rows.Next() {
		var (
			s             types.HealthSnapshot
			collateralStr string
			debtStr       string
			ownersJSON    []byte
		)
		err := rows.Scan(&s.SnapshotID, &s.ScanNumber, &s.Timestamp, &s.Price,
			&collateralStr, &debtStr, &s.PositionCount, &s.UnhealthyCount, &ownersJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health snapshot: %w", err)
		}

		s.TotalCollateral, err = strconv.ParseUint(collateralStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored total collateral %q is not a valid uint64: %w", collateralStr, err)
		}
		s.TotalDebt, err = strconv.ParseUint(debtStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored total debt %q is not a valid uint64: %w", debtStr, err)
		}
		if len(ownersJSON) > 0 {
			if err := json.Unmarshal(ownersJSON, &s.UnhealthyOwners); err != nil {
				return nil, fmt.Errorf("failed to unmarshal unhealthy owners: %w", err)
			}
		}

		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health snapshots: %w", err)
	}

	return snapshots, nil
}
