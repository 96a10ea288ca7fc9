/*

This file contains the driver around the transaction state machine. It
sequences the minimum necessary on-chain steps for one vault action,
guarantees no step is submitted twice or out of order, and converts every
async rejection into a typed state field instead of an escaping error.

Only one intent is active at a time by construction: a new intent cannot be
created until the previous one's surface is closed.

*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/superlend/superfund-core/internal/chain"
	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/types"
)

var (
	ErrIntentActive   = errors.New("another transaction is already in progress")
	ErrNoActiveIntent = errors.New("no transaction is in progress")
	ErrNotRetryable   = errors.New("transaction is not in a retryable state")
	ErrInvalidDeps    = errors.New("orchestrator dependencies are invalid")
)

// User-facing failure reasons. Wallet rejection, on-chain revert, and
// indeterminate status each get distinct text.
const (
	msgNetworkUnavailable   = "could not determine the wallet's network"
	msgNetworkSwitchDenied  = "network switch was cancelled"
	msgNetworkSwitchFailed  = "wallet could not switch to the required network"
	msgLimitUnavailable     = "could not verify your available balance"
	msgAllowanceUnavailable = "could not read the current allowance"
	msgAllowanceNotSecured  = "allowance could not be secured for this amount"
	msgWalletRejected       = "wallet rejected the request"
	msgSubmitFailed         = "transaction could not be submitted"
	msgApprovalReverted     = "approval reverted on-chain"
	msgExecutionReverted    = "transaction reverted on-chain"
	msgStatusUnknown        = "transaction status unknown, check a block explorer"
)

// RecordStore persists the lifecycle of each intent. A nil store disables
// persistence without changing orchestration behavior.
type RecordStore interface {
	InsertTransactionRecord(record types.TransactionRecord) (int64, error)
	UpdateTransactionRecord(intentID string, phase types.TxPhase, txHash, errorMessage string) error
}

// Config holds the orchestrator's dependencies.
type Config struct {
	Wallet            chain.Wallet
	Vault             chain.VaultClient
	Records           RecordStore // optional
	ApproveRecheckMax int
	// OnConfirmed is invoked after the final step confirms, before the view
	// state, so downstream balance and yield caches can be invalidated.
	OnConfirmed func(kind types.ActionKind)
}

// Orchestrator drives a single user-initiated vault action through its
// required on-chain steps.
type Orchestrator struct {
	logger            zerolog.Logger
	wallet            chain.Wallet
	vault             chain.VaultClient
	records           RecordStore
	approveRecheckMax int
	onConfirmed       func(kind types.ActionKind)

	mu     sync.Mutex
	intent *types.TransactionIntent
	state  types.TransactionState
	// gen stamps the lifetime of one armed intent. Close and re-arm bump
	// it, so events from a drive that outlived its intent are dropped
	// instead of written into a successor's state.
	gen uint64
	// activeRun holds the generation currently being driven, zero when no
	// drive is in flight.
	activeRun uint64
}

// New creates an orchestrator with dependency injection.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("%w: wallet cannot be nil", ErrInvalidDeps)
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("%w: vault client cannot be nil", ErrInvalidDeps)
	}
	if cfg.ApproveRecheckMax <= 0 {
		cfg.ApproveRecheckMax = 3
	}

	return &Orchestrator{
		logger:            logger.GetForComponent("tx_orchestrator"),
		wallet:            cfg.Wallet,
		vault:             cfg.Vault,
		records:           cfg.Records,
		approveRecheckMax: cfg.ApproveRecheckMax,
		onConfirmed:       cfg.OnConfirmed,
		state:             types.NewTransactionState(),
	}, nil
}

// NewIntent builds a validated intent for the connected account. The chain
// context is fixed here and never changes for the intent's lifetime.
func NewIntent(kind types.ActionKind, amount sdkmath.Int, counterparty common.Address, chainID uint64) types.TransactionIntent {
	return types.TransactionIntent{
		ID:           uuid.New().String(),
		Kind:         kind,
		Amount:       amount,
		Counterparty: counterparty,
		ChainID:      chainID,
		CreatedAt:    time.Now(),
	}
}

// Begin validates the intent and arms the state machine. Validation errors
// are returned inline and leave the orchestrator idle; nothing is submitted
// to the wallet. A prior intent must be closed first.
func (o *Orchestrator) Begin(ctx context.Context, intent types.TransactionIntent) error {
	// Reserve the slot before the limit read. The read goes over the
	// network, and a concurrent Begin must see the reservation rather than
	// a nil intent during that window.
	o.mu.Lock()
	if o.intent != nil {
		// The surface for the prior intent must close before a new one can
		// exist, terminal or not.
		o.mu.Unlock()
		return ErrIntentActive
	}
	o.intent = &intent
	o.state = types.NewTransactionState()
	o.gen++
	o.mu.Unlock()

	limit, err := o.executionLimit(ctx, intent)
	if err != nil {
		o.release(intent.ID)
		o.logger.Warn().Err(err).Str("intentID", intent.ID).Msg("Limit read failed during input validation")
		return fmt.Errorf("%s: %w", msgLimitUnavailable, err)
	}
	if err := ValidateIntent(intent, limit); err != nil {
		o.release(intent.ID)
		return err
	}

	if o.records != nil {
		record := types.TransactionRecord{
			IntentID:     intent.ID,
			Kind:         intent.Kind,
			AmountMicro:  intent.Amount.String(),
			Counterparty: counterpartyHex(intent),
			ChainID:      intent.ChainID,
			Phase:        types.PhaseIdle,
			CreatedAt:    intent.CreatedAt,
		}
		if _, err := o.records.InsertTransactionRecord(record); err != nil {
			o.logger.Error().Err(err).Str("intentID", intent.ID).Msg("Failed to persist transaction record")
		}
	}

	o.logger.Info().
		Str("intentID", intent.ID).
		Str("kind", string(intent.Kind)).
		Str("amountMicro", intent.Amount.String()).
		Uint64("chainID", intent.ChainID).
		Msg("Transaction intent created")

	return nil
}

// Run drives the active intent to a terminal phase and returns the final
// state. Failures surface as state, never as an error.
func (o *Orchestrator) Run(ctx context.Context) types.TransactionState {
	o.mu.Lock()
	if o.intent == nil {
		state := o.state
		o.mu.Unlock()
		return state
	}
	if o.activeRun == o.gen {
		// This intent already has a drive in flight; a second one would
		// double-submit steps.
		state := o.state
		o.mu.Unlock()
		return state
	}
	intent := *o.intent
	gen := o.gen
	o.activeRun = gen
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.activeRun == gen {
			o.activeRun = 0
		}
		o.mu.Unlock()
	}()

	o.apply(intent, gen, Event{Kind: EventBegin})

	if !o.ensureNetwork(ctx, intent, gen) {
		return o.Status()
	}

	// Re-validate against the authoritative limit at execution time; the
	// balance may have moved since input validation.
	limit, err := o.executionLimit(ctx, intent)
	if err != nil {
		o.fail(intent, gen, msgLimitUnavailable)
		return o.Status()
	}
	if err := ValidateIntent(intent, limit); err != nil {
		o.fail(intent, gen, err.Error())
		return o.Status()
	}

	if intent.Kind == types.ActionDeposit {
		if !o.secureAllowance(ctx, intent, gen) {
			return o.Status()
		}
	}

	if !o.executeAndConfirm(ctx, intent, gen) {
		return o.Status()
	}

	if o.onConfirmed != nil {
		o.onConfirmed(intent.Kind)
	}
	o.apply(intent, gen, Event{Kind: EventViewReady})

	return o.Status()
}

// Retry re-runs a failed intent. Prior confirmed steps are durable: a
// deposit whose approval already confirmed will find the allowance
// sufficient on the fresh read and skip straight to execution.
func (o *Orchestrator) Retry(ctx context.Context) (types.TransactionState, error) {
	o.mu.Lock()
	if o.intent == nil {
		o.mu.Unlock()
		return o.state, ErrNoActiveIntent
	}
	if o.state.Phase != types.PhaseFailed {
		state := o.state
		o.mu.Unlock()
		return state, ErrNotRetryable
	}
	o.mu.Unlock()

	return o.Run(ctx), nil
}

// Close tears the intent down. Every field returns to its default; nothing
// from the previous intent, hash or error included, leaks into the next
// one. An already-submitted chain call is not cancelled, only detached.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.intent != nil {
		o.logger.Info().
			Str("intentID", o.intent.ID).
			Str("phase", string(o.state.Phase)).
			Msg("Transaction surface closed, resetting state")
	}

	o.intent = nil
	o.state = types.NewTransactionState()
	// Orphan any drive still in flight; its remaining events no longer
	// have a state to land in.
	o.gen++
}

// release rolls back a reservation whose input validation failed.
func (o *Orchestrator) release(intentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent != nil && o.intent.ID == intentID {
		o.intent = nil
		o.state = types.NewTransactionState()
		o.gen++
	}
}

// Status returns the current lifecycle state.
func (o *Orchestrator) Status() types.TransactionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveIntent returns a copy of the active intent, if any.
func (o *Orchestrator) ActiveIntent() (types.TransactionIntent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent == nil {
		return types.TransactionIntent{}, false
	}
	return *o.intent, true
}

// ensureNetwork blocks step execution until the wallet is on the intent's
// network. A cancelled or impossible switch is a failure with a descriptive
// reason, never a silent no-op.
func (o *Orchestrator) ensureNetwork(ctx context.Context, intent types.TransactionIntent, gen uint64) bool {
	current, err := o.wallet.ActiveChainID(ctx)
	if err != nil {
		o.fail(intent, gen, msgNetworkUnavailable)
		return false
	}
	if current == intent.ChainID {
		return true
	}

	o.apply(intent, gen, Event{Kind: EventNetworkMismatch})
	o.logger.Info().
		Str("intentID", intent.ID).
		Uint64("connected", current).
		Uint64("required", intent.ChainID).
		Msg("Network mismatch, requesting switch")

	if err := o.wallet.SwitchChain(ctx, intent.ChainID); err != nil {
		if errors.Is(err, chain.ErrWalletRejected) {
			o.fail(intent, gen, msgNetworkSwitchDenied)
		} else {
			o.fail(intent, gen, msgNetworkSwitchFailed)
		}
		return false
	}

	o.apply(intent, gen, Event{Kind: EventNetworkSwitched})
	return true
}

// secureAllowance runs the check-allowance/approve loop for a deposit. The
// allowance is always re-read rather than assumed: a prior unrelated
// approval may already cover the amount, and a concurrent spend can reduce
// it between approval confirmation and execution.
func (o *Orchestrator) secureAllowance(ctx context.Context, intent types.TransactionIntent, gen uint64) bool {
	owner := o.wallet.ActiveAccount()

	for attempt := 0; ; attempt++ {
		allowance, err := o.vault.Allowance(ctx, owner)
		if err != nil {
			o.fail(intent, gen, msgAllowanceUnavailable)
			return false
		}

		o.apply(intent, gen, Event{Kind: EventAllowanceRead, Allowance: allowance, Amount: intent.Amount})
		if !NeedsApproval(allowance, intent.Amount) {
			return true
		}

		if attempt >= o.approveRecheckMax {
			o.fail(intent, gen, msgAllowanceNotSecured)
			return false
		}

		hash, err := o.vault.Approve(ctx, intent.Amount)
		if err != nil {
			o.failFromSubmitError(intent, gen, err)
			return false
		}
		o.apply(intent, gen, Event{Kind: EventApprovalSubmitted, TxHash: hash.Hex()})

		status, err := o.vault.WaitForReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, chain.ErrStatusUnknown) {
				o.apply(intent, gen, Event{Kind: EventStatusUnknown, Message: msgStatusUnknown})
			} else {
				o.fail(intent, gen, msgStatusUnknown)
			}
			return false
		}
		if status == chain.ReceiptReverted {
			o.fail(intent, gen, msgApprovalReverted)
			return false
		}

		o.apply(intent, gen, Event{Kind: EventApprovalConfirmed})
		// Loop back for a fresh allowance read before execution.
	}
}

// executeAndConfirm submits the main step and waits for its receipt.
func (o *Orchestrator) executeAndConfirm(ctx context.Context, intent types.TransactionIntent, gen uint64) bool {
	hash, err := o.submitExecution(ctx, intent)
	if err != nil {
		o.failFromSubmitError(intent, gen, err)
		return false
	}
	o.apply(intent, gen, Event{Kind: EventExecuteSubmitted, TxHash: hash.Hex()})

	status, err := o.vault.WaitForReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, chain.ErrStatusUnknown) {
			o.apply(intent, gen, Event{Kind: EventStatusUnknown, Message: msgStatusUnknown})
		} else {
			o.fail(intent, gen, msgStatusUnknown)
		}
		return false
	}
	if status == chain.ReceiptReverted {
		o.fail(intent, gen, msgExecutionReverted)
		return false
	}

	o.apply(intent, gen, Event{Kind: EventExecutionConfirmed})
	return true
}

func (o *Orchestrator) submitExecution(ctx context.Context, intent types.TransactionIntent) (common.Hash, error) {
	switch intent.Kind {
	case types.ActionDeposit:
		return o.vault.Deposit(ctx, intent.Amount)
	case types.ActionWithdraw:
		return o.vault.Withdraw(ctx, intent.Amount)
	case types.ActionTransfer:
		return o.vault.TransferShares(ctx, intent.Counterparty, intent.Amount)
	default:
		return common.Hash{}, fmt.Errorf("%w: %q", ErrUnknownAction, intent.Kind)
	}
}

// executionLimit returns the authoritative ceiling for the action kind:
// the wallet balance for a deposit, the max-withdrawable share value for a
// withdraw or transfer.
func (o *Orchestrator) executionLimit(ctx context.Context, intent types.TransactionIntent) (sdkmath.Int, error) {
	owner := o.wallet.ActiveAccount()
	if intent.Kind == types.ActionDeposit {
		return o.vault.AssetBalance(ctx, owner)
	}
	return o.vault.MaxWithdraw(ctx, owner)
}

func (o *Orchestrator) failFromSubmitError(intent types.TransactionIntent, gen uint64, err error) {
	if errors.Is(err, chain.ErrWalletRejected) {
		o.fail(intent, gen, msgWalletRejected)
		return
	}
	o.logger.Error().Err(err).Str("intentID", intent.ID).Msg("Step submission failed")
	o.fail(intent, gen, msgSubmitFailed)
}

func (o *Orchestrator) fail(intent types.TransactionIntent, gen uint64, message string) {
	o.apply(intent, gen, Event{Kind: EventFailed, Message: message})
}

// apply runs one event through the pure transition function under the lock
// and persists the resulting phase. Events stamped with a superseded
// generation belong to a closed intent and are dropped.
func (o *Orchestrator) apply(intent types.TransactionIntent, gen uint64, ev Event) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		o.logger.Debug().
			Str("intentID", intent.ID).
			Str("event", string(ev.Kind)).
			Msg("Dropping event for closed intent")
		return
	}
	before := o.state.Phase
	o.state = Transition(o.state, intent.Kind, ev)
	after := o.state
	o.mu.Unlock()

	if before != after.Phase {
		o.logger.Info().
			Str("intentID", intent.ID).
			Str("event", string(ev.Kind)).
			Str("from", string(before)).
			Str("to", string(after.Phase)).
			Msg("Phase transition")
	}

	if o.records != nil {
		hash := after.TxHash
		if hash == "" {
			hash = after.ApprovalTxHash
		}
		if err := o.records.UpdateTransactionRecord(intent.ID, after.Phase, hash, after.ErrorMessage); err != nil {
			o.logger.Error().Err(err).Str("intentID", intent.ID).Msg("Failed to update transaction record")
		}
	}
}

func counterpartyHex(intent types.TransactionIntent) string {
	if intent.Counterparty == (common.Address{}) {
		return ""
	}
	return intent.Counterparty.Hex()
}
