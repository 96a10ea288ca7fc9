package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/superlend/superfund-core/internal/datafetcher"
	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/orchestrator"
	"github.com/superlend/superfund-core/internal/state"
	"github.com/superlend/superfund-core/internal/types"
	"github.com/superlend/superfund-core/internal/utils"
	"github.com/superlend/superfund-core/internal/yield"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the yield snapshot and the transaction intent surface
// over HTTP.
type WebServer struct {
	router     *mux.Router
	port       string
	orch       *orchestrator.Orchestrator
	aggregator *yield.Aggregator
	rates      *datafetcher.RatesClient
	chainID    uint64
	startedAt  time.Time
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, orch *orchestrator.Orchestrator, aggregator *yield.Aggregator, rates *datafetcher.RatesClient, chainID uint64) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		orch:       orch,
		aggregator: aggregator,
		rates:      rates,
		chainID:    chainID,
		startedAt:  time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/yield", ws.handleGetYield).Methods("GET")
	api.HandleFunc("/yield/history", ws.handleGetYieldHistory).Methods("GET")
	api.HandleFunc("/transactions", ws.handleCreateTransaction).Methods("POST")
	api.HandleFunc("/transactions", ws.handleGetTransactions).Methods("GET")
	api.HandleFunc("/transactions/current", ws.handleGetCurrentTransaction).Methods("GET")
	api.HandleFunc("/transactions/current/retry", ws.handleRetryTransaction).Methods("POST")
	api.HandleFunc("/transactions/current/close", ws.handleCloseTransaction).Methods("POST")

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

	dbHealthy := true
	if state.DB == nil || state.DB.Ping() != nil {
		dbHealthy = false
	}

	_, _, yieldFresh := ws.aggregator.Snapshot()

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "superfund-core",
			"version": "1.0.0",
		},
		"fund_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"yield_fresh":      yieldFresh,
			"chain_id":         ws.chainID,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetYield returns the latest effective APY and its components.
func (ws *WebServer) handleGetYield(w http.ResponseWriter, r *http.Request) {
	components, effectiveApy, fresh := ws.aggregator.Snapshot()

	response := map[string]interface{}{
		"components":    components,
		"effective_apy": effectiveApy,
		"fresh":         fresh,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetYieldHistory returns persisted APY snapshots for a trailing
// window plus the window's average effective APY.
func (ws *WebServer) handleGetYieldHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsedDays, err := strconv.Atoi(daysStr); err == nil && parsedDays > 0 && parsedDays <= 365 {
			days = parsedDays
		}
	}

	snapshots, err := state.GetApyHistory(days)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get APY history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve APY history")
		return
	}

	series := make([]types.ApyPoint, 0, len(snapshots))
	for _, s := range snapshots {
		series = append(series, types.ApyPoint{
			Timestamp:  s.Timestamp,
			SpotApy:    s.EffectiveApy,
			BaseApy:    s.Components.BaseApy,
			RewardsApy: s.Components.RewardsApy,
		})
	}

	// Before the first snapshots accumulate, fall back to the rates feed's
	// own historical series for the averages.
	if len(series) == 0 && ws.rates != nil {
		feedSeries, err := ws.rates.History(r.Context(), days)
		if err != nil {
			webLogger.Warn().Err(err).Msg("Rates history fallback failed")
		} else {
			series = feedSeries
		}
	}

	response := map[string]interface{}{
		"snapshots":         snapshots,
		"count":             len(snapshots),
		"days":              days,
		"avg_effective_apy": yield.TrailingAverage(series, days, yield.FieldSpotApy),
		"avg_base_apy":      yield.TrailingAverage(series, days, yield.FieldBaseApy),
		"avg_rewards_apy":   yield.TrailingAverage(series, days, yield.FieldRewardsApy),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// createTransactionRequest is the wire shape for starting a vault action.
// Amount is in whole asset units (USDC), not micro units.
type createTransactionRequest struct {
	Kind         string  `json:"kind"`
	Amount       float64 `json:"amount"`
	Counterparty string  `json:"counterparty,omitempty"`
}

// handleCreateTransaction validates an intent and starts driving it. The
// drive runs in the background; the response carries the armed intent so
// the caller can poll the current-transaction endpoint.
func (ws *WebServer) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	kind := types.ActionKind(req.Kind)
	if kind != types.ActionDeposit && kind != types.ActionWithdraw && kind != types.ActionTransfer {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Unknown action kind")
		return
	}

	amount, err := utils.Float64ToMicro(req.Amount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	var counterparty common.Address
	if kind == types.ActionTransfer {
		counterparty, err = orchestrator.ValidateCounterparty(req.Counterparty)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	intent := orchestrator.NewIntent(kind, amount, counterparty, ws.chainID)
	if err := ws.orch.Begin(r.Context(), intent); err != nil {
		ws.writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}

	go ws.orch.Run(context.Background())

	response := map[string]interface{}{
		"intent": intent,
		"state":  ws.orch.Status(),
	}

	ws.writeJSONResponse(w, http.StatusAccepted, response)
}

// handleGetCurrentTransaction returns the active intent and its lifecycle
// state.
func (ws *WebServer) handleGetCurrentTransaction(w http.ResponseWriter, r *http.Request) {
	intent, ok := ws.orch.ActiveIntent()
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No transaction is in progress")
		return
	}

	response := map[string]interface{}{
		"intent": intent,
		"state":  ws.orch.Status(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleRetryTransaction re-runs a failed intent. Confirmed prior steps
// stay durable, so a deposit whose approval landed skips straight to
// execution on the retry.
func (ws *WebServer) handleRetryTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := ws.orch.ActiveIntent(); !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No transaction is in progress")
		return
	}
	if ws.orch.Status().Phase != types.PhaseFailed {
		ws.writeErrorResponse(w, http.StatusConflict, "Transaction is not in a retryable state")
		return
	}

	go func() {
		if _, err := ws.orch.Retry(context.Background()); err != nil {
			webLogger.Warn().Err(err).Msg("Retry did not start")
		}
	}()

	ws.writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{"retrying": true})
}

// handleCloseTransaction dismisses the active intent's surface and resets
// the state machine.
func (ws *WebServer) handleCloseTransaction(w http.ResponseWriter, r *http.Request) {
	ws.orch.Close()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"closed": true})
}

// handleGetTransactions returns the recent transaction ledger
func (ws *WebServer) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	records, err := state.GetRecentTransactions(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get transaction records")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}

	response := map[string]interface{}{
		"transactions": records,
		"count":        len(records),
		"limit":        limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
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

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
