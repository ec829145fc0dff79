package utils

import (
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedUint64(t *testing.T) {
	value, err := CheckedUint64(sdkmath.NewIntFromUint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), value)

	value, err = CheckedUint64(sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), value)

	_, err = CheckedUint64(sdkmath.Int{})
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = CheckedUint64(sdkmath.NewInt(-1))
	assert.ErrorIs(t, err, ErrAmountNegative)

	tooBig := sdkmath.NewIntFromUint64(math.MaxUint64).AddRaw(1)
	_, err = CheckedUint64(tooBig)
	assert.ErrorIs(t, err, ErrOverflowsUint64)
}

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	sum, err = CheckedAdd(math.MaxUint64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflowsUint64)
}

func TestCheckedMul(t *testing.T) {
	product, err := CheckedMul(1_000_000_000, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000_000), product)

	product, err = CheckedMul(math.MaxUint64, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), product)

	_, err = CheckedMul(math.MaxUint64, 2)
	assert.ErrorIs(t, err, ErrOverflowsUint64)
}

func TestCheckedSub(t *testing.T) {
	diff, err := CheckedSub(10, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), diff)

	diff, err = CheckedSub(10, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), diff)

	_, err = CheckedSub(4, 10)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestAmountToDisplay(t *testing.T) {
	assert.InDelta(t, 1.5, AmountToDisplay(1_500_000_000, 9), 1e-9)
	assert.InDelta(t, 0.0, AmountToDisplay(0, 9), 1e-9)
}
