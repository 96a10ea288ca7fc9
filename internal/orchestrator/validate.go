package orchestrator

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/superlend/superfund-core/internal/types"
)

// Validation errors are caught before any external call and reported
// inline; nothing that fails here ever reaches the wallet.
var (
	ErrAmountZero          = errors.New("amount must be greater than zero")
	ErrOverLimit           = errors.New("more than your available limit")
	ErrInvalidCounterparty = errors.New("recipient address is not valid")
	ErrMissingCounterparty = errors.New("recipient address is required for a transfer")
	ErrUnknownAction       = errors.New("unknown action kind")
)

// ValidateIntent checks an intent against the actor's authoritative limit
// for the action kind. The same check runs twice: at input time and again
// at execution time, because the limit is asynchronous and can change in
// between.
func ValidateIntent(intent types.TransactionIntent, limit sdkmath.Int) error {
	switch intent.Kind {
	case types.ActionDeposit, types.ActionWithdraw, types.ActionTransfer:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, intent.Kind)
	}

	if intent.Amount.IsNil() || !intent.Amount.IsPositive() {
		return ErrAmountZero
	}

	// The boundary is inclusive: an amount exactly equal to the limit
	// proceeds.
	if !limit.IsNil() && intent.Amount.GT(limit) {
		return ErrOverLimit
	}

	if intent.Kind == types.ActionTransfer {
		if intent.Counterparty == (common.Address{}) {
			return ErrMissingCounterparty
		}
	}

	return nil
}

// ValidateCounterparty checks a raw address string before an intent is
// built from it.
func ValidateCounterparty(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, ErrMissingCounterparty
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidCounterparty, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidCounterparty)
	}
	return addr, nil
}
