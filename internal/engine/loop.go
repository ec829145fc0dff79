/*

This file contains the periodic health monitor. Each scan takes one oracle
reading, values every position against it, and persists an aggregate snapshot
together with the list of positions that have fallen below the solvency
floor. The monitor never liquidates on its own; it surfaces candidates for
external liquidators and for the dashboard.

*/

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/solmint/sce/internal/state"
	"github.com/solmint/sce/internal/types"
	"github.com/solmint/sce/internal/utils"
)

// RunLoop runs health scans at the given interval until the context is
// cancelled. A scan failure is logged and the loop continues; a single bad
// oracle reading must not stop monitoring.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().Dur("interval", interval).Msg("Starting health monitor loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Health monitor loop stopped")
			return
		case <-ticker.C:
			if _, err := e.RunScan(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Health scan failed")
			}
		}
	}
}

// RunScan performs a single health scan over the whole ledger and returns the
// snapshot it recorded.
func (e *Engine) RunScan(ctx context.Context) (*types.HealthSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	traceID := uuid.New().String()
	slog := e.logger.With().Str("trace_id", traceID).Logger()

	scanNumber, err := state.IncrementScanNumber()
	if err != nil {
		slog.Warn().Err(err).Msg("Failed to increment scan counter, continuing without persistence")
		scanNumber = 0
	}

	reading, err := e.oracle.CurrentReading(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := types.HealthSnapshot{
		ScanNumber: scanNumber,
		Timestamp:  time.Now(),
		Price:      reading.Price,
	}

	for _, pos := range e.ledger.All() {
		snapshot.PositionCount++

		totalCollateral, err := utils.CheckedAdd(snapshot.TotalCollateral, pos.CollateralBalance)
		if err == nil {
			snapshot.TotalCollateral = totalCollateral
		}
		totalDebt, err := utils.CheckedAdd(snapshot.TotalDebt, pos.DebtBalance)
		if err == nil {
			snapshot.TotalDebt = totalDebt
		}

		healthFactor, err := calculateHealthFactor(pos.CollateralBalance, pos.DebtBalance, e.cfg, reading)
		if err != nil {
			slog.Error().Err(err).Str("owner", pos.Owner.String()).Msg("Failed to value position")
			continue
		}
		if healthFactor < e.cfg.MinHealthFactor {
			snapshot.UnhealthyCount++
			snapshot.UnhealthyOwners = append(snapshot.UnhealthyOwners, pos.Owner.String())
			slog.Warn().
				Str("owner", pos.Owner.String()).
				Uint64("healthFactor", healthFactor).
				Uint64("collateralBalance", pos.CollateralBalance).
				Uint64("debtBalance", pos.DebtBalance).
				Msg("Position below minimum health factor")
		}
	}

	if _, err := state.SaveHealthSnapshot(snapshot); err != nil {
		slog.Error().Err(err).Msg("Failed to persist health snapshot")
	}

	slog.Info().
		Int("scanNumber", scanNumber).
		Int64("price", reading.Price).
		Int("positions", snapshot.PositionCount).
		Int("unhealthy", snapshot.UnhealthyCount).
		Msg("Health scan complete")

	return &snapshot, nil
}
