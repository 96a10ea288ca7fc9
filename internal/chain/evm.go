/*

This file contains the live EVM implementation of the vault chain surface.
Reads and submissions go through go-ethereum bound contracts against the
ERC-4626 style vault and its underlying USDC token.

*/

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/superlend/superfund-core/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrRPCConnectionFailed = errors.New("RPC connection failed")
	ErrInvalidSignerKey    = errors.New("signer key is invalid")
	ErrABIParseFailed      = errors.New("contract ABI parse failed")
	ErrChainIDMismatch     = errors.New("node chain ID does not match configuration")
	ErrCallFailed          = errors.New("contract call failed")
	ErrSubmitFailed        = errors.New("transaction submission failed")
)

var chainLogger = logger.GetForComponent("evm_client")

// Minimal ABI fragments for the calls this client makes. The vault is an
// ERC-4626 vault and therefore also the share token.
const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const vaultABI = `[
	{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"name":"maxWithdraw","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"convertToShares","type":"function","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// EvmConfig holds everything needed to build a live client.
type EvmConfig struct {
	NodeRPC         string
	ChainID         uint64
	VaultAddress    string
	AssetAddress    string
	SignerKeyHex    string
	PollInterval    time.Duration
	PollMaxAttempts int
}

// EvmClient is the live VaultClient and Wallet implementation.
type EvmClient struct {
	client       *ethclient.Client
	asset        *bind.BoundContract
	vault        *bind.BoundContract
	vaultAddress common.Address
	account      common.Address
	txOpts       *bind.TransactOpts
	chainID      uint64

	pollInterval    time.Duration
	pollMaxAttempts int
}

// NewEvmClient dials the node, verifies the chain ID, and binds the vault
// and asset contracts.
func NewEvmClient(ctx context.Context, cfg EvmConfig) (*EvmClient, error) {
	if cfg.PollInterval <= 0 || cfg.PollMaxAttempts <= 0 {
		return nil, errors.New("receipt polling parameters must be positive")
	}
	if !common.IsHexAddress(cfg.VaultAddress) {
		return nil, fmt.Errorf("vault address %q is not a valid address", cfg.VaultAddress)
	}
	if !common.IsHexAddress(cfg.AssetAddress) {
		return nil, fmt.Errorf("asset address %q is not a valid address", cfg.AssetAddress)
	}

	client, err := ethclient.DialContext(ctx, cfg.NodeRPC)
	if err != nil {
		return nil, errors.Join(ErrRPCConnectionFailed, err)
	}

	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrRPCConnectionFailed, fmt.Errorf("failed to read node chain ID: %w", err))
	}
	if nodeChainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("%w: node reports %d, configured %d", ErrChainIDMismatch, nodeChainID.Uint64(), cfg.ChainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrInvalidSignerKey, err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(key, nodeChainID)
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrInvalidSignerKey, err)
	}

	parsedERC20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrABIParseFailed, err)
	}
	parsedVault, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrABIParseFailed, err)
	}

	vaultAddr := common.HexToAddress(cfg.VaultAddress)
	assetAddr := common.HexToAddress(cfg.AssetAddress)

	evm := &EvmClient{
		client:          client,
		asset:           bind.NewBoundContract(assetAddr, parsedERC20, client, client, client),
		vault:           bind.NewBoundContract(vaultAddr, parsedVault, client, client, client),
		vaultAddress:    vaultAddr,
		account:         crypto.PubkeyToAddress(key.PublicKey),
		txOpts:          txOpts,
		chainID:         cfg.ChainID,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
	}

	chainLogger.Info().
		Uint64("chainID", cfg.ChainID).
		Str("vault", vaultAddr.Hex()).
		Str("asset", assetAddr.Hex()).
		Str("account", evm.account.Hex()).
		Msg("EVM vault client connected")

	return evm, nil
}

// ActiveAccount returns the signer account.
func (c *EvmClient) ActiveAccount() common.Address {
	return c.account
}

// ActiveChainID returns the network this client is pinned to.
func (c *EvmClient) ActiveChainID(ctx context.Context) (uint64, error) {
	return c.chainID, nil
}

// SwitchChain reports ErrWrongNetwork for any chain other than the one the
// client was dialed against. A server-side signer cannot re-home; the
// orchestrator surfaces this as a descriptive failure.
func (c *EvmClient) SwitchChain(ctx context.Context, chainID uint64) error {
	if chainID == c.chainID {
		return nil
	}
	return fmt.Errorf("%w: connected to %d, intent requires %d", ErrWrongNetwork, c.chainID, chainID)
}

// Allowance reads the vault's current spending allowance for owner.
func (c *EvmClient) Allowance(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	return c.readUint(ctx, c.asset, "allowance", owner, c.vaultAddress)
}

// AssetBalance reads the owner's USDC wallet balance.
func (c *EvmClient) AssetBalance(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	return c.readUint(ctx, c.asset, "balanceOf", owner)
}

// MaxWithdraw reads the underlying value currently redeemable for the
// owner's shares.
func (c *EvmClient) MaxWithdraw(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	return c.readUint(ctx, c.vault, "maxWithdraw", owner)
}

// Approve authorizes the vault to spend amount of the underlying asset.
func (c *EvmClient) Approve(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	return c.submit(ctx, c.asset, "approve", c.vaultAddress, amount.BigInt())
}

// Deposit supplies amount of the underlying asset to the vault.
func (c *EvmClient) Deposit(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	return c.submit(ctx, c.vault, "deposit", amount.BigInt(), c.account)
}

// Withdraw redeems shares worth amount of the underlying asset.
func (c *EvmClient) Withdraw(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	return c.submit(ctx, c.vault, "withdraw", amount.BigInt(), c.account, c.account)
}

// TransferShares moves the share-equivalent of amount to the counterparty.
func (c *EvmClient) TransferShares(ctx context.Context, to common.Address, amount sdkmath.Int) (common.Hash, error) {
	var out []interface{}
	err := c.vault.Call(&bind.CallOpts{Context: ctx, From: c.account}, &out, "convertToShares", amount.BigInt())
	if err != nil {
		return common.Hash{}, errors.Join(ErrCallFailed, fmt.Errorf("share conversion read failed: %w", err))
	}
	shares, ok := out[0].(*big.Int)
	if !ok || shares == nil {
		return common.Hash{}, errors.Join(ErrCallFailed, errors.New("share conversion returned no value"))
	}
	return c.submit(ctx, c.vault, "transfer", to, shares)
}

// WaitForReceipt polls for a receipt with a bounded attempt budget. A
// missing receipt and a transport error both consume one attempt; the same
// hash is used throughout, never a resubmission.
func (c *EvmClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (ReceiptStatus, error) {
	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == ethtypes.ReceiptStatusSuccessful {
				chainLogger.Info().
					Str("txHash", txHash.Hex()).
					Uint64("blockNumber", receipt.BlockNumber.Uint64()).
					Int("attempt", attempt).
					Msg("Transaction confirmed")
				return ReceiptSuccess, nil
			}
			chainLogger.Warn().
				Str("txHash", txHash.Hex()).
				Uint64("blockNumber", receipt.BlockNumber.Uint64()).
				Msg("Transaction reverted")
			return ReceiptReverted, nil
		}

		if err != nil && !errors.Is(err, ethereum.NotFound) {
			chainLogger.Warn().
				Err(err).
				Str("txHash", txHash.Hex()).
				Int("attempt", attempt).
				Int("maxAttempts", c.pollMaxAttempts).
				Msg("Receipt poll transport error, retrying with same hash")
		}

		select {
		case <-ctx.Done():
			return 0, errors.Join(ErrStatusUnknown, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	chainLogger.Warn().
		Str("txHash", txHash.Hex()).
		Int("maxAttempts", c.pollMaxAttempts).
		Msg("Receipt polling budget spent, reporting status unknown")
	return 0, fmt.Errorf("%w after %d attempts", ErrStatusUnknown, c.pollMaxAttempts)
}

// Close releases the RPC connection.
func (c *EvmClient) Close() error {
	c.client.Close()
	return nil
}

func (c *EvmClient) readUint(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (sdkmath.Int, error) {
	var out []interface{}
	err := contract.Call(&bind.CallOpts{Context: ctx, From: c.account}, &out, method, args...)
	if err != nil {
		return sdkmath.ZeroInt(), errors.Join(ErrCallFailed, fmt.Errorf("%s read failed: %w", method, err))
	}
	if len(out) == 0 {
		return sdkmath.ZeroInt(), errors.Join(ErrCallFailed, fmt.Errorf("%s returned no value", method))
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return sdkmath.ZeroInt(), errors.Join(ErrCallFailed, fmt.Errorf("%s returned unexpected type", method))
	}
	return sdkmath.NewIntFromBigInt(value), nil
}

func (c *EvmClient) submit(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (common.Hash, error) {
	opts := *c.txOpts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return common.Hash{}, errors.Join(ErrWalletRejected, err)
		}
		return common.Hash{}, errors.Join(ErrSubmitFailed, fmt.Errorf("%s submission failed: %w", method, err))
	}

	chainLogger.Info().
		Str("method", method).
		Str("txHash", tx.Hash().Hex()).
		Msg("Transaction submitted")

	return tx.Hash(), nil
}
