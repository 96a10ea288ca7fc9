/*

This file contains the types for a single in-flight vault action and its
lifecycle state as tracked by the orchestrator.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ActionKind identifies which vault operation an intent performs.
type ActionKind string

const (
	ActionDeposit  ActionKind = "DEPOSIT"
	ActionWithdraw ActionKind = "WITHDRAW"
	ActionTransfer ActionKind = "TRANSFER"
)

// TxPhase is the named phase of the orchestrator state machine.
type TxPhase string

const (
	PhaseIdle           TxPhase = "idle"
	PhaseCheckAllowance TxPhase = "check_allowance"
	PhaseSwitchNetwork  TxPhase = "switch_network"
	PhaseApprove        TxPhase = "approve"
	PhaseExecute        TxPhase = "execute"
	PhaseConfirming     TxPhase = "confirming"
	PhaseConfirmed      TxPhase = "confirmed"
	PhaseView           TxPhase = "view"
	PhaseFailed         TxPhase = "failed"
	PhaseUnknown        TxPhase = "unknown"
)

// TransactionIntent is one user-initiated vault action. The chain ID is
// fixed at creation; a wallet connected to a different network must switch
// before any step executes.
type TransactionIntent struct {
	ID           string         `json:"id"`
	Kind         ActionKind     `json:"kind"`
	Amount       sdkmath.Int    `json:"amount"` // micro-USDC (6 decimal fixed point)
	Counterparty common.Address `json:"counterparty,omitempty"`
	ChainID      uint64         `json:"chain_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TransactionState is the lifecycle record owned exclusively by the
// orchestrator. One instance per intent, fully reset when the intent's
// surface closes.
type TransactionState struct {
	Phase             TxPhase     `json:"phase"`
	AllowanceSnapshot sdkmath.Int `json:"allowance_snapshot"` // meaningful for deposits only
	ApprovalTxHash    string      `json:"approval_tx_hash,omitempty"`
	TxHash            string      `json:"tx_hash,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
}

// NewTransactionState returns the baseline state for a fresh intent.
func NewTransactionState() TransactionState {
	return TransactionState{
		Phase:             PhaseIdle,
		AllowanceSnapshot: sdkmath.ZeroInt(),
	}
}

// The pending/confirming/confirmed/failed flags are derived from the phase
// so contradictory combinations cannot be constructed.

// IsPending reports whether a step is awaiting submission or a wallet
// response.
func (s TransactionState) IsPending() bool {
	switch s.Phase {
	case PhaseCheckAllowance, PhaseSwitchNetwork, PhaseApprove, PhaseExecute:
		return true
	}
	return false
}

// IsConfirming reports whether a submitted step is awaiting its receipt.
func (s TransactionState) IsConfirming() bool {
	return s.Phase == PhaseConfirming
}

// IsConfirmed reports whether the final step's confirmation was observed.
func (s TransactionState) IsConfirmed() bool {
	return s.Phase == PhaseConfirmed || s.Phase == PhaseView
}

// IsFailed reports whether the current step terminated with an error.
func (s TransactionState) IsFailed() bool {
	return s.Phase == PhaseFailed
}

// IsTerminal reports whether no further steps will run for this intent.
func (s TransactionState) IsTerminal() bool {
	switch s.Phase {
	case PhaseView, PhaseFailed, PhaseUnknown:
		return true
	}
	return false
}

// TransactionRecord is the persisted ledger row for one intent.
type TransactionRecord struct {
	RecordID     int64      `json:"record_id,omitempty"`
	IntentID     string     `json:"intent_id"`
	Kind         ActionKind `json:"kind"`
	AmountMicro  string     `json:"amount_micro"`
	Counterparty string     `json:"counterparty,omitempty"`
	ChainID      uint64     `json:"chain_id"`
	Phase        TxPhase    `json:"phase"`
	TxHash       string     `json:"tx_hash,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
