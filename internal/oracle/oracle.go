/*

This file contains the valuation oracle adapter.

The adapter turns raw feed readings into USD values for reserve amounts and
back. It enforces a maximum feed age and a positive-price sanity check before
any reading reaches valuation math. The conversions themselves are pure
functions over a validated reading: every transition fetches exactly one
reading and threads it through all of its math, so the engine can never
disagree with itself about the price mid-transition.

All arithmetic runs on sdkmath.Int and is narrowed to uint64 exactly once,
which makes the 128-bit intermediate requirement trivially true and turns any
narrowing failure into a math error instead of a silent truncation.

*/

package oracle

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solmint/sce/internal/logger"
	"github.com/solmint/sce/internal/types"
	"github.com/solmint/sce/internal/utils"
)

const (
	// PriceFeedDecimalAdjustment lifts the feed's 10^8 price scale to the
	// reserve asset's 10^9 lamport scale.
	PriceFeedDecimalAdjustment = 10
)

// PriceSource supplies raw readings for a feed. Implementations surface
// "feed not found" and "feed paused" conditions as types.ErrInvalidPrice.
type PriceSource interface {
	CurrentPrice(ctx context.Context, feedID string) (types.PriceReading, error)
}

// Adapter validates readings from a PriceSource before they are used for
// valuation. It has no side effects and holds no mutable state.
type Adapter struct {
	source PriceSource
	feedID string
	maxAge time.Duration
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAdapter creates a price adapter for a single feed.
func NewAdapter(source PriceSource, feedID string, maxAge time.Duration) (*Adapter, error) {
	if source == nil {
		return nil, fmt.Errorf("price source cannot be nil")
	}
	if feedID == "" {
		return nil, fmt.Errorf("feed ID cannot be empty")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("maximum price age must be positive, got %s", maxAge)
	}
	return &Adapter{
		source: source,
		feedID: feedID,
		maxAge: maxAge,
		logger: logger.GetForComponent("oracle_adapter"),
		now:    time.Now,
	}, nil
}

// CurrentReading fetches and validates one reading. A reading older than the
// configured maximum age is rejected as stale; a non-positive price or an
// unresolvable feed is rejected as invalid.
func (a *Adapter) CurrentReading(ctx context.Context) (types.PriceReading, error) {
	reading, err := a.source.CurrentPrice(ctx, a.feedID)
	if err != nil {
		return types.PriceReading{}, fmt.Errorf("%w: %s", types.ErrInvalidPrice, err.Error())
	}

	if reading.Price <= 0 {
		return types.PriceReading{}, fmt.Errorf("%w: feed %s reported %d", types.ErrInvalidPrice, a.feedID, reading.Price)
	}

	age := a.now().Sub(reading.ObservedAt)
	if age > a.maxAge {
		return types.PriceReading{}, fmt.Errorf("%w: reading is %s old, maximum is %s", types.ErrStalePrice, age, a.maxAge)
	}

	a.logger.Debug().
		Int64("price", reading.Price).
		Time("observedAt", reading.ObservedAt).
		Msg("Validated price reading")

	return reading, nil
}

// UsdValue converts a reserve amount in lamports to its USD value at lamport
// precision: lamports * (price * 10) / LAMPORTS_PER_SOL.
func UsdValue(reading types.PriceReading, lamports uint64) (uint64, error) {
	priceScaled, err := scaledPrice(reading)
	if err != nil {
		return 0, err
	}

	usd := sdkmath.NewIntFromUint64(lamports).
		Mul(priceScaled).
		QuoRaw(int64(solana.LAMPORTS_PER_SOL))

	value, err := utils.CheckedUint64(usd)
	if err != nil {
		return 0, fmt.Errorf("%w: usd value: %s", types.ErrMath, err.Error())
	}
	return value, nil
}

// LamportsFromUsd is the inverse conversion: usd * LAMPORTS_PER_SOL / (price * 10).
func LamportsFromUsd(reading types.PriceReading, usd uint64) (uint64, error) {
	priceScaled, err := scaledPrice(reading)
	if err != nil {
		return 0, err
	}
	if priceScaled.IsZero() {
		return 0, fmt.Errorf("%w: division by zero scaled price", types.ErrMath)
	}

	lamports := sdkmath.NewIntFromUint64(usd).
		MulRaw(int64(solana.LAMPORTS_PER_SOL)).
		Quo(priceScaled)

	value, err := utils.CheckedUint64(lamports)
	if err != nil {
		return 0, fmt.Errorf("%w: lamport amount: %s", types.ErrMath, err.Error())
	}
	return value, nil
}

// scaledPrice lifts the raw 10^8 feed price to lamport (10^9) scale.
func scaledPrice(reading types.PriceReading) (sdkmath.Int, error) {
	if reading.Price <= 0 {
		return sdkmath.Int{}, fmt.Errorf("%w: price %d", types.ErrInvalidPrice, reading.Price)
	}
	return sdkmath.NewInt(reading.Price).MulRaw(PriceFeedDecimalAdjustment), nil
}
