package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NodeRPC is the JSON-RPC endpoint of the EVM node.
	NodeRPC string
	// RatesAPI serves current and historical base/rewards APY figures.
	RatesAPI string
	// RewardsAPI serves per-user boost entries.
	RewardsAPI string
	// AllowlistAPI serves the promotional program membership set.
	AllowlistAPI string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	NodeRPC, err = getEnv("NODE_RPC")
	if err != nil {
		return err
	}

	RatesAPI, err = getEnv("RATES_API")
	if err != nil {
		return err
	}

	RewardsAPI, err = getEnv("REWARDS_API")
	if err != nil {
		return err
	}

	AllowlistAPI, err = getEnv("ALLOWLIST_API")
	if err != nil {
		return err
	}

	log.Debug().
		Str("NodeRPC", NodeRPC).
		Str("RatesAPI", RatesAPI).
		Str("RewardsAPI", RewardsAPI).
		Str("AllowlistAPI", AllowlistAPI).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
