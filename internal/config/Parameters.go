/*

This file contains the default protocol risk parameters.

These values are used to seed the very first protocol configuration row when
the database holds no active configuration. After seeding, the persisted row
is authoritative and changes go through the privileged update path.

*/

package config

import (
	"github.com/solmint/sce/internal/types"
)

// DefaultProtocolConfig provides the baseline risk parameters for a fresh
// deployment. Authority and IssuedAsset are filled in at seed time from the
// operator identity and the derived mint address.
var DefaultProtocolConfig = types.ProtocolConfig{
	Version:  1,
	IsActive: true,

	LiquidationThreshold: 50, // Percentage, 0-100 scale. Only 50% of collateral value counts as borrowing power.

	LiquidationBonus: 10, // Percentage premium paid to liquidators from the seized collateral.

	MinHealthFactor: 1, // Solvency floor on the coarse integer health-factor scale.
	// The health factor is an integer ratio, not a percentage: a floor of 1
	// means adjusted collateral value must cover outstanding debt in full.
}
