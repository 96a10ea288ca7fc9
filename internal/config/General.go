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
	// ChainID is the network the vault contract lives on. Intents created
	// against a wallet connected elsewhere must switch to this network.
	ChainID uint64

	// VaultAddress is the address of the ERC-4626 style vault contract.
	VaultAddress string
	// AssetAddress is the address of the vault's underlying USDC token.
	AssetAddress string

	// SignerKeyHex is the hex-encoded private key of the operator account.
	SignerKeyHex string

	// ReceiptPollInterval is the delay between receipt polling attempts.
	ReceiptPollInterval time.Duration
	// ReceiptPollMaxAttempts bounds receipt polling before the transaction
	// status is reported as unknown rather than failed.
	ReceiptPollMaxAttempts int

	// ApproveRecheckMaxAttempts bounds how many times a deposit will loop
	// back through approval when the post-approval allowance re-read still
	// comes up short.
	ApproveRecheckMaxAttempts int

	// YieldRefreshInterval is the cadence of the yield component refresh loop.
	YieldRefreshInterval time.Duration

	// ProgramTargetApyFallback is used when the allowlist feed omits the
	// program's target APY.
	ProgramTargetApyFallback float64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	ChainID, err = getEnvAsUint64("CHAIN_ID")
	if err != nil {
		return err
	}

	VaultAddress, err = getEnv("VAULT_ADDRESS")
	if err != nil {
		return err
	}

	AssetAddress, err = getEnv("ASSET_ADDRESS")
	if err != nil {
		return err
	}

	SignerKeyHex, err = getEnv("SIGNER_KEY")
	if err != nil {
		return err
	}

	pollIntervalMs, err := getEnvAsUint64("RECEIPT_POLL_INTERVAL_MS")
	if err != nil {
		return err
	}
	ReceiptPollInterval = time.Duration(pollIntervalMs) * time.Millisecond

	pollAttempts, err := getEnvAsUint64("RECEIPT_POLL_MAX_ATTEMPTS")
	if err != nil {
		return err
	}
	ReceiptPollMaxAttempts = int(pollAttempts)

	recheckAttempts, err := getEnvAsUint64("APPROVE_RECHECK_MAX_ATTEMPTS")
	if err != nil {
		return err
	}
	ApproveRecheckMaxAttempts = int(recheckAttempts)

	refreshSeconds, err := getEnvAsUint64("YIELD_REFRESH_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	YieldRefreshInterval = time.Duration(refreshSeconds) * time.Second

	ProgramTargetApyFallback, err = getEnvAsFloat64("PROGRAM_TARGET_APY_FALLBACK")
	if err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Uint64("ChainID", ChainID).
		Str("VaultAddress", VaultAddress).
		Str("AssetAddress", AssetAddress).
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

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
