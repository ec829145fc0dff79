/*

This file manages the persistent global scan counter for the monitor loop.
The counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentScanNumber retrieves the current scan number from the database
func GetCurrentScanNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `SELECT current_scan FROM scan_counter WHERE id = 1;`

	var currentScan int
	row := DB.QueryRow(query)
	err := row.Scan(&currentScan)

	if err != nil {
		if err == sql.ErrNoRows {
			// This should not happen due to the INSERT in EnsureSchema
			log.Warn().Msg("No scan counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current scan number: %w", err)
	}

	return currentScan, nil
}

// IncrementScanNumber increments the scan counter and returns the new value
func IncrementScanNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	updateQuery := `
		UPDATE scan_counter
		SET current_scan = current_scan + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_scan;`

	var newScan int
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&newScan)

	if err != nil {
		return 0, fmt.Errorf("failed to increment scan number: %w", err)
	}

	log.Debug().Int("newScan", newScan).Msg("Incremented scan counter")
	return newScan, nil
}
