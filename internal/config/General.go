package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// RPCEndpoint is the Solana JSON-RPC endpoint used by the custody client.
	RPCEndpoint string

	// ProgramID is the on-chain program whose seeds anchor the derived
	// storage addresses (config, mint, collateral, reserve accounts).
	ProgramID string

	// HermesEndpoint is the Pyth Hermes base URL the oracle adapter reads from.
	HermesEndpoint string
	// PriceFeedID is the hex feed identifier of the reserve asset / USD feed.
	PriceFeedID string
	// PriceMaxAge is the maximum accepted age of a price reading.
	PriceMaxAge time.Duration

	// OperatorKey is the base58-encoded private key that signs custody and
	// mint transactions in live mode.
	OperatorKey string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	RPCEndpoint, err = getEnv("SOLANA_RPC_ENDPOINT")
	if err != nil {
		return err
	}

	ProgramID, err = getEnv("PROGRAM_ID")
	if err != nil {
		return err
	}

	HermesEndpoint, err = getEnv("HERMES_ENDPOINT")
	if err != nil {
		return err
	}

	PriceFeedID, err = getEnv("PRICE_FEED_ID")
	if err != nil {
		return err
	}

	maxAgeSeconds, err := getEnvAsUint64("PRICE_MAX_AGE_SECONDS")
	if err != nil {
		return err
	}
	PriceMaxAge = time.Duration(maxAgeSeconds) * time.Second

	OperatorKey, err = getEnv("OPERATOR_KEY_BASE58")
	if err != nil {
		return err
	}

	log.Debug().
		Str("RPCEndpoint", RPCEndpoint).
		Str("ProgramID", ProgramID).
		Str("PriceFeedID", PriceFeedID).
		Dur("PriceMaxAge", PriceMaxAge).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " is not a valid uint64: " + valueStr)
	}
	return value, nil
}
