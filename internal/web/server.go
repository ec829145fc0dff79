package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"

	"github.com/solmint/sce/internal/engine"
	"github.com/solmint/sce/internal/logger"
	"github.com/solmint/sce/internal/state"
	"github.com/solmint/sce/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the engine's state and transitions over HTTP.
type WebServer struct {
	router *mux.Router
	engine *engine.Engine
	port   string
}

// NewWebServer creates a new web server instance.
func NewWebServer(eng *engine.Engine, port string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		engine: eng,
		port:   port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/config", ws.handleGetConfig).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/{owner}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")

	api.HandleFunc("/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/redeem", ws.handleRedeem).Methods("POST")
	api.HandleFunc("/liquidate", ws.handleLiquidate).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := state.TestDBConnection() == nil
	snapshots, snapErr := state.LoadRecentHealthSnapshots(1)

	scanInfo := map[string]interface{}{
		"last_scan":      0,
		"last_scan_time": nil,
		"unhealthy":      0,
	}
	if snapErr == nil && len(snapshots) > 0 {
		scanInfo = map[string]interface{}{
			"last_scan":      snapshots[0].ScanNumber,
			"last_scan_time": snapshots[0].Timestamp,
			"unhealthy":      snapshots[0].UnhealthyCount,
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"database":  dbHealthy,
		"scan":      scanInfo,
		"runtime": map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": memStats.Alloc / 1024 / 1024,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetConfig returns the active protocol configuration
func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.ProtocolConfig())
}

// handleGetPositions returns all positions valued at one shared price reading
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	healths, price, err := ws.engine.PositionHealths(r.Context())
	if err != nil {
		ws.writeTransitionError(w, err)
		return
	}

	response := map[string]interface{}{
		"positions": healths,
		"count":     len(healths),
		"price":     price,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPosition returns a single position by owner address
func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := solana.PublicKeyFromBase58(mux.Vars(r)["owner"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}

	pos, ok := ws.engine.Position(owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Position not found")
		return
	}

	response := map[string]interface{}{
		"position": pos,
	}
	if hf, err := ws.engine.HealthFactor(r.Context(), owner); err == nil {
		response["health_factor"] = hf
	} else {
		response["health_error"] = err.Error()
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns recent transition receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	receipts, err := state.LoadRecentReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns recent health scan snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	snapshots, err := state.LoadRecentHealthSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

type depositRequest struct {
	Depositor     string `json:"depositor"`
	DepositAmount uint64 `json:"deposit_amount"`
	MintAmount    uint64 `json:"mint_amount"`
}

// handleDeposit executes a deposit-and-mint transition
func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	depositor, err := solana.PublicKeyFromBase58(req.Depositor)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid depositor address")
		return
	}

	receipt, err := ws.engine.DepositAndMint(r.Context(), depositor, req.DepositAmount, req.MintAmount)
	if err != nil {
		ws.writeTransitionError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type redeemRequest struct {
	Caller           string `json:"caller"`
	Owner            string `json:"owner"`
	CollateralAmount uint64 `json:"collateral_amount"`
	BurnAmount       uint64 `json:"burn_amount"`
}

// handleRedeem executes a redeem-and-burn transition
func (ws *WebServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	caller, err := solana.PublicKeyFromBase58(req.Caller)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid caller address")
		return
	}
	owner, err := solana.PublicKeyFromBase58(req.Owner)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}

	receipt, err := ws.engine.RedeemAndBurn(r.Context(), caller, owner, req.CollateralAmount, req.BurnAmount)
	if err != nil {
		ws.writeTransitionError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type liquidateRequest struct {
	Liquidator    string `json:"liquidator"`
	Owner         string `json:"owner"`
	BurnAmountUsd uint64 `json:"burn_amount_usd"`
}

// handleLiquidate executes a liquidation transition
func (ws *WebServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	liquidator, err := solana.PublicKeyFromBase58(req.Liquidator)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid liquidator address")
		return
	}
	owner, err := solana.PublicKeyFromBase58(req.Owner)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}

	receipt, err := ws.engine.Liquidate(r.Context(), liquidator, owner, req.BurnAmountUsd)
	if err != nil {
		ws.writeTransitionError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// writeTransitionError maps engine errors to HTTP status codes
func (ws *WebServer) writeTransitionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrPositionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrBelowMinimumHealthFactor),
		errors.Is(err, types.ErrAboveMinimumHealthFactor),
		errors.Is(err, types.ErrMath):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInvalidPrice), errors.Is(err, types.ErrStalePrice):
		status = http.StatusBadGateway
	case errors.Is(err, types.ErrUnauthorized):
		status = http.StatusForbidden
	}
	ws.writeErrorResponse(w, status, err.Error())
}

func (ws *WebServer) parseLimit(r *http.Request, def int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
