/*

This file contains the pure transition function of the transaction state
machine. Every async callback the driver receives is reduced to an Event,
and each transition is a pure function of (state, kind, event), which keeps
the machine deterministically replayable in tests.

*/

package orchestrator

import (
	sdkmath "cosmossdk.io/math"

	"github.com/superlend/superfund-core/internal/types"
)

// EventKind identifies one observed async outcome.
type EventKind string

const (
	// EventBegin starts the step sequence for a validated intent.
	EventBegin EventKind = "begin"
	// EventNetworkMismatch was detected before a step could execute.
	EventNetworkMismatch EventKind = "network_mismatch"
	// EventNetworkSwitched confirms the wallet moved to the required network.
	EventNetworkSwitched EventKind = "network_switched"
	// EventAllowanceRead carries a fresh spender allowance read.
	EventAllowanceRead EventKind = "allowance_read"
	// EventApprovalSubmitted carries the approval transaction hash.
	EventApprovalSubmitted EventKind = "approval_submitted"
	// EventApprovalConfirmed marks the approval receipt as observed.
	EventApprovalConfirmed EventKind = "approval_confirmed"
	// EventExecuteSubmitted carries the main transaction hash.
	EventExecuteSubmitted EventKind = "execute_submitted"
	// EventExecutionConfirmed marks the main receipt as observed.
	EventExecutionConfirmed EventKind = "execution_confirmed"
	// EventViewReady moves the confirmed result to the display state.
	EventViewReady EventKind = "view_ready"
	// EventFailed terminates the current step with an error message.
	EventFailed EventKind = "failed"
	// EventStatusUnknown ends polling without a determined outcome.
	EventStatusUnknown EventKind = "status_unknown"
	// EventReset tears the whole state down to the baseline.
	EventReset EventKind = "reset"
)

// Event is one input to the transition function.
type Event struct {
	Kind      EventKind
	Allowance sdkmath.Int // EventAllowanceRead
	Amount    sdkmath.Int // EventAllowanceRead
	TxHash    string      // EventApprovalSubmitted, EventExecuteSubmitted
	Message   string      // EventFailed, EventStatusUnknown
}

// NeedsApproval is the single decision point for whether a deposit requires
// an approval step: only when the current allowance cannot cover the amount.
func NeedsApproval(allowance, amount sdkmath.Int) bool {
	if allowance.IsNil() {
		return true
	}
	return allowance.LT(amount)
}

// Transition applies one event to the state and returns the next state.
// Events that do not apply to the current phase leave the state unchanged;
// failed and unknown are only reachable from non-terminal phases, and a
// reset always returns to the baseline.
func Transition(s types.TransactionState, kind types.ActionKind, ev Event) types.TransactionState {
	if ev.Kind == EventReset {
		return types.NewTransactionState()
	}

	if s.IsTerminal() && s.Phase != types.PhaseFailed {
		return s
	}

	switch ev.Kind {
	case EventBegin:
		if s.Phase != types.PhaseIdle && s.Phase != types.PhaseFailed {
			return s
		}
		s.ErrorMessage = ""
		s.Phase = firstStepPhase(kind)
		return s

	case EventNetworkMismatch:
		if s.Phase != types.PhaseCheckAllowance && s.Phase != types.PhaseExecute {
			return s
		}
		s.Phase = types.PhaseSwitchNetwork
		return s

	case EventNetworkSwitched:
		if s.Phase != types.PhaseSwitchNetwork {
			return s
		}
		s.Phase = firstStepPhase(kind)
		return s

	case EventAllowanceRead:
		if s.Phase != types.PhaseCheckAllowance && s.Phase != types.PhaseApprove {
			return s
		}
		s.AllowanceSnapshot = ev.Allowance
		if NeedsApproval(ev.Allowance, ev.Amount) {
			s.Phase = types.PhaseApprove
		} else {
			s.Phase = types.PhaseExecute
		}
		return s

	case EventApprovalSubmitted:
		if s.Phase != types.PhaseApprove {
			return s
		}
		s.ApprovalTxHash = ev.TxHash
		return s

	case EventApprovalConfirmed:
		// The approval's durability lives on-chain; the phase stays at
		// approve until a fresh allowance read proves sufficiency.
		return s

	case EventExecuteSubmitted:
		if s.Phase != types.PhaseExecute {
			return s
		}
		s.TxHash = ev.TxHash
		s.Phase = types.PhaseConfirming
		return s

	case EventExecutionConfirmed:
		if s.Phase != types.PhaseConfirming {
			return s
		}
		s.Phase = types.PhaseConfirmed
		return s

	case EventViewReady:
		if s.Phase != types.PhaseConfirmed {
			return s
		}
		s.Phase = types.PhaseView
		return s

	case EventFailed:
		if s.IsTerminal() {
			return s
		}
		s.Phase = types.PhaseFailed
		s.ErrorMessage = ev.Message
		return s

	case EventStatusUnknown:
		if s.Phase != types.PhaseApprove && s.Phase != types.PhaseConfirming {
			return s
		}
		s.Phase = types.PhaseUnknown
		s.ErrorMessage = ev.Message
		return s
	}

	return s
}

// firstStepPhase is where the sequence lands once the network is right:
// deposits read the allowance first, everything else goes straight to
// execution.
func firstStepPhase(kind types.ActionKind) types.TxPhase {
	if kind == types.ActionDeposit {
		return types.PhaseCheckAllowance
	}
	return types.PhaseExecute
}
