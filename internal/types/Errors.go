/*

This file defines the error taxonomy for the collateral engine.

Every transition aborts on the first failed step and surfaces one of these
sentinel errors (possibly wrapped) so that callers can present an actionable
message instead of a generic failure. The engine never retries and never
clamps out-of-range inputs.

*/

package types

import "errors"

var (
	// ErrMath covers any arithmetic overflow, underflow or division failure
	// in balance or valuation math.
	ErrMath = errors.New("overflow, underflow or some other math error occurred")

	// ErrInvalidPrice is returned when the oracle price is non-positive or
	// the feed identifier cannot be resolved.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrStalePrice is returned when the oracle reading is older than the
	// configured maximum age.
	ErrStalePrice = errors.New("price feed is stale")

	// ErrBelowMinimumHealthFactor rejects a transition that would leave the
	// position under the solvency floor.
	ErrBelowMinimumHealthFactor = errors.New("health factor below minimum")

	// ErrAboveMinimumHealthFactor rejects a liquidation attempt against a
	// position that is still solvent.
	ErrAboveMinimumHealthFactor = errors.New("health factor above minimum")

	// ErrUnauthorized rejects a caller that is not permitted to act on the
	// target position or configuration.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrPositionNotFound is returned when a transition targets an owner
	// that has never deposited.
	ErrPositionNotFound = errors.New("position not found")
)
