/*
This file contains common utility functions for converting between the wide
integers used in valuation math and the uint64 balances kept on positions.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAmountNil       = errors.New("amount is nil")
	ErrAmountNegative  = errors.New("amount is negative")
	ErrOverflowsUint64 = errors.New("amount does not fit in uint64")
)

// CheckedUint64 narrows an SDK Int to uint64. Valuation math is done at
// arbitrary precision and narrowed exactly once, here; any value that does
// not fit is a hard error, never a truncation.
func CheckedUint64(amount sdkmath.Int) (uint64, error) {
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflowsUint64, amount.String())
	}
	return amount.Uint64(), nil
}

// CheckedAdd adds two uint64 balances, failing on wraparound.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflowsUint64, a, b)
	}
	return sum, nil
}

// CheckedMul multiplies two uint64 values, failing when the product does not
// fit in 64 bits.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflowsUint64, a, b)
	}
	return lo, nil
}

// CheckedSub subtracts b from a, failing on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d underflows", ErrAmountNegative, a, b)
	}
	return a - b, nil
}

// AmountToDisplay converts a smallest-unit amount to a float for logging and
// the dashboard only. Engine math never touches floats.
func AmountToDisplay(amount uint64, decimals int) float64 {
	return float64(amount) / math.Pow10(decimals)
}
