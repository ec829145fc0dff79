package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/solmint/sce/internal/accounts"
	"github.com/solmint/sce/internal/config"
	"github.com/solmint/sce/internal/custody"
	"github.com/solmint/sce/internal/engine"
	"github.com/solmint/sce/internal/ledger"
	"github.com/solmint/sce/internal/logger"
	"github.com/solmint/sce/internal/oracle"
	"github.com/solmint/sce/internal/state"
	"github.com/solmint/sce/internal/web"
)

const (
	SCAN_INTERVAL = 30 * time.Second
)

// main is the entry point for the issuance engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Collateral engine starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Derive the protocol storage addresses from the program ID
	deriver, err := accounts.NewDeriver(config.ProgramID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account deriver")
	}
	mintAddress, _, err := deriver.MintAccount()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive mint address")
	}

	// --- 2. Custody Client Initialization (with Safety Switch) ---
	engineMode := os.Getenv("ENGINE_MODE")
	if engineMode != "live" {
		log.Fatal().Msg("ENGINE_MODE is not set to 'live'. Halting to prevent accidental execution. Set ENGINE_MODE=live to run.")
	}

	log.Warn().Msg("Initializing engine in LIVE mode. Real transactions will be broadcast.")
	tokenLedger, err := custody.NewClient(config.RPCEndpoint, config.OperatorKey, mintAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize custody client")
	}
	defer tokenLedger.Close()

	// Load the active protocol configuration, seeding defaults on first run
	protocolConfig, err := state.LoadActiveProtocolConfig()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active protocol configuration, using defaults and saving.")
		defaults := config.DefaultProtocolConfig
		defaults.Authority = tokenLedger.Operator()
		defaults.IssuedAsset = mintAddress
		if _, err := state.SaveProtocolConfig(defaults, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default protocol configuration.")
		}
		protocolConfig = &defaults
	}
	log.Info().
		Uint64("liquidationThreshold", protocolConfig.LiquidationThreshold).
		Uint64("liquidationBonus", protocolConfig.LiquidationBonus).
		Uint64("minHealthFactor", protocolConfig.MinHealthFactor).
		Msg("Protocol configuration loaded successfully.")

	// --- 3. Oracle Initialization ---
	priceSource, err := oracle.NewHermesSource(config.HermesEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price source")
	}
	priceAdapter, err := oracle.NewAdapter(priceSource, config.PriceFeedID, config.PriceMaxAge)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create oracle adapter")
	}

	// --- 4. Position Ledger Hydration ---
	positionLedger := ledger.New()
	positions, err := state.LoadPositions()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load positions")
	}
	positionLedger.Load(positions)
	log.Info().Int("positions", positionLedger.Count()).Msg("Position ledger hydrated")

	// --- 5. Create Engine Instance with Dependency Injection ---
	engineInstance, err := engine.NewEngine(engine.Config{
		ProtocolConfig: *protocolConfig,
		Ledger:         positionLedger,
		Oracle:         priceAdapter,
		TokenLedger:    tokenLedger,
		Deriver:        deriver,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	// --- 6. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(engineInstance, webPort)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting engine dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 7. Start Health Monitor Loop ---
	log.Info().Str("interval", SCAN_INTERVAL.String()).Msg("Starting health monitor loop")

	ctx := context.Background()
	engineInstance.RunLoop(ctx, SCAN_INTERVAL)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
