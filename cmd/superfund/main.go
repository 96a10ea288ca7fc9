package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/superlend/superfund-core/internal/chain"
	"github.com/superlend/superfund-core/internal/config"
	"github.com/superlend/superfund-core/internal/datafetcher"
	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/orchestrator"
	"github.com/superlend/superfund-core/internal/refresher"
	"github.com/superlend/superfund-core/internal/state"
	"github.com/superlend/superfund-core/internal/types"
	"github.com/superlend/superfund-core/internal/web"
	"github.com/superlend/superfund-core/internal/yield"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the fund service.
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
	log.Info().Msg("Superfund Core Starting...")

	// Shutdown context, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// --- 2. Chain Client Initialization ---
	evmClient, err := chain.NewEvmClient(ctx, chain.EvmConfig{
		NodeRPC:         config.NodeRPC,
		ChainID:         config.ChainID,
		VaultAddress:    config.VaultAddress,
		AssetAddress:    config.AssetAddress,
		SignerKeyHex:    config.SignerKeyHex,
		PollInterval:    config.ReceiptPollInterval,
		PollMaxAttempts: config.ReceiptPollMaxAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize EVM vault client")
	}
	defer evmClient.Close()

	// --- 3. Yield Pipeline ---
	aggregator := yield.NewAggregator()
	ratesClient := datafetcher.NewRatesClient(config.RatesAPI)

	yieldRefresher, err := refresher.New(refresher.Config{
		Rates:      ratesClient,
		Boosts:     datafetcher.NewBoostsClient(config.RewardsAPI),
		Membership: datafetcher.NewMembershipClient(config.AllowlistAPI, config.ProgramTargetApyFallback),
		Aggregator: aggregator,
		Account:    evmClient.ActiveAccount(),
		Persist:    true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create yield refresher")
	}

	// --- 4. Orchestrator with Dependency Injection ---
	orch, err := orchestrator.New(orchestrator.Config{
		Wallet:            evmClient,
		Vault:             evmClient,
		Records:           state.NewTransactionStore(),
		ApproveRecheckMax: config.ApproveRecheckMaxAttempts,
		OnConfirmed: func(kind types.ActionKind) {
			log.Info().Str("kind", string(kind)).Msg("Vault action confirmed, refreshing yield snapshot")
			yieldRefresher.Invalidate()
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transaction orchestrator")
	}

	// --- 5. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, orch, aggregator, ratesClient, config.ChainID)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting fund API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Run Yield Refresh Loop ---
	log.Info().Str("interval", config.YieldRefreshInterval.String()).Msg("Starting yield refresh loop")
	yieldRefresher.RunLoop(ctx, config.YieldRefreshInterval)

	log.Info().Msg("Shutdown signal received, exiting")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
