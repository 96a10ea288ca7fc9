package chain

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions shared by every chain implementation. The orchestrator
// matches on these to classify failures.
var (
	// ErrWalletRejected is returned when the wallet declines to sign or the
	// user cancels a requested action.
	ErrWalletRejected = errors.New("wallet rejected the request")
	// ErrStatusUnknown is returned when receipt polling exhausted its
	// attempt budget without determining the transaction's fate.
	ErrStatusUnknown = errors.New("transaction status unknown")
	// ErrWrongNetwork is returned when the wallet cannot move to the
	// intent's required network.
	ErrWrongNetwork = errors.New("wallet is on the wrong network")
	// ErrReverted is returned when a mined transaction reverted on-chain.
	ErrReverted = errors.New("transaction reverted on-chain")
)

// ReceiptStatus is the outcome of waiting for a transaction receipt.
type ReceiptStatus int

const (
	ReceiptSuccess ReceiptStatus = iota
	ReceiptReverted
)

// Wallet abstracts the connected account and network context. Implementations
// must be safe for use from a single orchestrator goroutine; all blocking
// calls take a context.
type Wallet interface {
	// ActiveAccount returns the currently connected account.
	ActiveAccount() common.Address

	// ActiveChainID returns the network the wallet is currently on.
	ActiveChainID(ctx context.Context) (uint64, error)

	// SwitchChain asks the wallet to move to the given network. It blocks
	// until the switch is confirmed or returns ErrWalletRejected if the
	// user cancels, or ErrWrongNetwork if the switch is impossible.
	SwitchChain(ctx context.Context, chainID uint64) error
}

// VaultReader covers the authoritative balance and allowance reads every
// execution decision must be made from. Values are treated as caches with
// explicit invalidation: the orchestrator re-reads rather than trusting a
// previously fetched figure.
type VaultReader interface {
	// Allowance returns the amount of the underlying asset the owner has
	// authorized the vault to spend, in micro-USDC.
	Allowance(ctx context.Context, owner common.Address) (sdkmath.Int, error)

	// AssetBalance returns the owner's wallet balance of the underlying
	// asset, in micro-USDC.
	AssetBalance(ctx context.Context, owner common.Address) (sdkmath.Int, error)

	// MaxWithdraw returns the underlying-asset value currently redeemable
	// for the owner's vault shares, in micro-USDC.
	MaxWithdraw(ctx context.Context, owner common.Address) (sdkmath.Int, error)
}

// VaultClient is the full chain surface the orchestrator drives: reads,
// step submissions, and receipt polling.
type VaultClient interface {
	VaultReader

	// Approve submits an approval authorizing the vault to spend amount of
	// the underlying asset.
	Approve(ctx context.Context, amount sdkmath.Int) (common.Hash, error)

	// Deposit submits a deposit of amount into the vault.
	Deposit(ctx context.Context, amount sdkmath.Int) (common.Hash, error)

	// Withdraw submits a withdrawal of amount of the underlying asset.
	Withdraw(ctx context.Context, amount sdkmath.Int) (common.Hash, error)

	// TransferShares submits a transfer of the share-equivalent of amount
	// to the counterparty.
	TransferShares(ctx context.Context, to common.Address, amount sdkmath.Int) (common.Hash, error)

	// WaitForReceipt polls for the transaction's receipt. Transport errors
	// are retried against the same hash; after the bounded attempt budget
	// is spent it returns ErrStatusUnknown rather than guessing.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (ReceiptStatus, error)

	// Close releases the underlying connection.
	Close() error
}
