/*

This file contains the protocol configuration singleton.

The configuration is created once at protocol initialization, persisted as a
versioned row, and mutated only through the privileged authority path. Every
transition receives it as an explicit read-only value; there is no ambient
global configuration state.

*/

package types

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ProtocolConfig holds the risk parameters shared read-only by all
// transitions.
type ProtocolConfig struct {
	ConfigID int64  `json:"config_id,omitempty"` // Auto-incremented by DB
	Version  int    `json:"version"`
	IsActive bool   `json:"is_active"`

	// Authority is the only identity permitted to mutate the configuration.
	Authority solana.PublicKey `json:"authority"`
	// IssuedAsset is the mint of the token issued against collateral.
	IssuedAsset solana.PublicKey `json:"issued_asset"`

	// LiquidationThreshold is the percentage (0-100 scale) of collateral USD
	// value that counts toward borrowing power.
	LiquidationThreshold uint64 `json:"liquidation_threshold"`
	// LiquidationBonus is the percentage reward paid to liquidators from the
	// liquidated position's collateral.
	LiquidationBonus uint64 `json:"liquidation_bonus"`
	// MinHealthFactor is the solvency floor; a position is solvent iff its
	// health factor is >= this value.
	MinHealthFactor uint64 `json:"min_health_factor"`

	CreatedAt   time.Time `json:"created_at,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// Validate enforces the configuration invariants. It is called on every load
// and save so an out-of-range row can never reach a transition.
func (c ProtocolConfig) Validate() error {
	if c.LiquidationThreshold == 0 || c.LiquidationThreshold > 100 {
		return fmt.Errorf("liquidation threshold %d must be in (0,100]", c.LiquidationThreshold)
	}
	if c.LiquidationBonus > 100 {
		return fmt.Errorf("liquidation bonus %d must be at most 100", c.LiquidationBonus)
	}
	if c.MinHealthFactor < 1 {
		return fmt.Errorf("minimum health factor %d must be at least 1", c.MinHealthFactor)
	}
	return nil
}
