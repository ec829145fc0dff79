/*

This file contains the health factor calculation.

The health factor is the integer ratio of risk-adjusted collateral value to
outstanding debt. It is deliberately coarse and integer-only: the result
gates solvency, so two observers valuing the same position at the same
reading must agree bit for bit. Floating point has no place here.

*/

package engine

import (
	"fmt"
	"math"

	"github.com/solmint/sce/internal/oracle"
	"github.com/solmint/sce/internal/types"
	"github.com/solmint/sce/internal/utils"
)

// MaxHealthFactor is returned for debt-free positions; they are maximally
// healthy and never liquidatable.
const MaxHealthFactor = math.MaxUint64

// calculateHealthFactor values the collateral at the given reading, scales
// it by the liquidation threshold and divides by the outstanding debt. All
// steps use checked arithmetic; overflow surfaces as a math error, never as
// a wrapped value.
func calculateHealthFactor(collateralLamports, debtBalance uint64, cfg types.ProtocolConfig, reading types.PriceReading) (uint64, error) {
	collateralUsd, err := oracle.UsdValue(reading, collateralLamports)
	if err != nil {
		return 0, err
	}

	numerator, err := utils.CheckedMul(collateralUsd, cfg.LiquidationThreshold)
	if err != nil {
		return 0, fmt.Errorf("%w: threshold adjustment: %s", types.ErrMath, err.Error())
	}
	// The threshold is a percentage, hence the division by 100. Integer
	// division truncates; the loss is at most one smallest USD unit and is
	// always against the borrower.
	adjustedCollateralUsd := numerator / 100

	if debtBalance == 0 {
		return MaxHealthFactor, nil
	}

	return adjustedCollateralUsd / debtBalance, nil
}
