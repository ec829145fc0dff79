/*

This file contains the ephemeral price reading consumed by the valuation
math. Readings are fetched per transition and never stored.

*/

package types

import "time"

// PriceFeedDecimals is the fixed exponent of the feed: prices arrive scaled
// by 10^8.
const PriceFeedDecimals = 8

// PriceReading is one observation from the price feed. Price is the USD price
// of one whole reserve unit at 10^8 scale; a reading of 100_00000000 means
// $100.
type PriceReading struct {
	FeedID     string    `json:"feed_id"`
	Price      int64     `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}
