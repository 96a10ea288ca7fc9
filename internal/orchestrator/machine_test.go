package orchestrator

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/superlend/superfund-core/internal/types"
)

func TestNeedsApproval(t *testing.T) {
	tests := []struct {
		name      string
		allowance sdkmath.Int
		amount    sdkmath.Int
		expected  bool
	}{
		{"nil allowance", sdkmath.Int{}, sdkmath.NewInt(100), true},
		{"zero allowance", sdkmath.ZeroInt(), sdkmath.NewInt(100), true},
		{"allowance below amount", sdkmath.NewInt(99), sdkmath.NewInt(100), true},
		{"allowance equal to amount", sdkmath.NewInt(100), sdkmath.NewInt(100), false},
		{"allowance above amount", sdkmath.NewInt(101), sdkmath.NewInt(100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, NeedsApproval(tt.allowance, tt.amount))
		})
	}
}

func TestTransitionDepositSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	s := types.NewTransactionState()

	s = Transition(s, types.ActionDeposit, Event{Kind: EventBegin})
	require.Equal(t, types.PhaseCheckAllowance, s.Phase)

	s = Transition(s, types.ActionDeposit, Event{
		Kind:      EventAllowanceRead,
		Allowance: sdkmath.NewInt(500),
		Amount:    sdkmath.NewInt(100),
	})
	require.Equal(t, types.PhaseExecute, s.Phase)
	require.Equal(t, sdkmath.NewInt(500), s.AllowanceSnapshot)
}

func TestTransitionDepositApprovalPath(t *testing.T) {
	s := types.NewTransactionState()

	s = Transition(s, types.ActionDeposit, Event{Kind: EventBegin})
	s = Transition(s, types.ActionDeposit, Event{
		Kind:      EventAllowanceRead,
		Allowance: sdkmath.NewInt(10),
		Amount:    sdkmath.NewInt(100),
	})
	require.Equal(t, types.PhaseApprove, s.Phase)

	s = Transition(s, types.ActionDeposit, Event{Kind: EventApprovalSubmitted, TxHash: "0xaaa"})
	require.Equal(t, types.PhaseApprove, s.Phase)
	require.Equal(t, "0xaaa", s.ApprovalTxHash)

	// Confirmation alone does not advance; a fresh allowance read does.
	s = Transition(s, types.ActionDeposit, Event{Kind: EventApprovalConfirmed})
	require.Equal(t, types.PhaseApprove, s.Phase)

	s = Transition(s, types.ActionDeposit, Event{
		Kind:      EventAllowanceRead,
		Allowance: sdkmath.NewInt(100),
		Amount:    sdkmath.NewInt(100),
	})
	require.Equal(t, types.PhaseExecute, s.Phase)
}

func TestTransitionReentersApprovalWhenAllowanceReducedConcurrently(t *testing.T) {
	s := types.NewTransactionState()
	s = Transition(s, types.ActionDeposit, Event{Kind: EventBegin})
	s = Transition(s, types.ActionDeposit, Event{
		Kind: EventAllowanceRead, Allowance: sdkmath.NewInt(0), Amount: sdkmath.NewInt(100),
	})
	require.Equal(t, types.PhaseApprove, s.Phase)
	s = Transition(s, types.ActionDeposit, Event{Kind: EventApprovalConfirmed})

	// A concurrent spend consumed part of the approval before execution.
	s = Transition(s, types.ActionDeposit, Event{
		Kind: EventAllowanceRead, Allowance: sdkmath.NewInt(40), Amount: sdkmath.NewInt(100),
	})
	require.Equal(t, types.PhaseApprove, s.Phase)
}

func TestTransitionWithdrawGoesStraightToExecute(t *testing.T) {
	for _, kind := range []types.ActionKind{types.ActionWithdraw, types.ActionTransfer} {
		s := types.NewTransactionState()
		s = Transition(s, kind, Event{Kind: EventBegin})
		require.Equal(t, types.PhaseExecute, s.Phase, "kind %s", kind)
	}
}

func TestTransitionHappyPathToView(t *testing.T) {
	s := types.NewTransactionState()
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventBegin})
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventExecuteSubmitted, TxHash: "0xbbb"})
	require.Equal(t, types.PhaseConfirming, s.Phase)
	require.Equal(t, "0xbbb", s.TxHash)
	require.True(t, s.IsConfirming())

	s = Transition(s, types.ActionWithdraw, Event{Kind: EventExecutionConfirmed})
	require.Equal(t, types.PhaseConfirmed, s.Phase)
	require.True(t, s.IsConfirmed())

	s = Transition(s, types.ActionWithdraw, Event{Kind: EventViewReady})
	require.Equal(t, types.PhaseView, s.Phase)
	require.True(t, s.IsTerminal())
}

func TestTransitionNetworkSwitch(t *testing.T) {
	s := types.NewTransactionState()
	s = Transition(s, types.ActionDeposit, Event{Kind: EventBegin})
	s = Transition(s, types.ActionDeposit, Event{Kind: EventNetworkMismatch})
	require.Equal(t, types.PhaseSwitchNetwork, s.Phase)
	require.True(t, s.IsPending())

	s = Transition(s, types.ActionDeposit, Event{Kind: EventNetworkSwitched})
	require.Equal(t, types.PhaseCheckAllowance, s.Phase)
}

func TestTransitionFailureAndRecovery(t *testing.T) {
	s := types.NewTransactionState()
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventBegin})
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventFailed, Message: "wallet rejected the request"})
	require.Equal(t, types.PhaseFailed, s.Phase)
	require.Equal(t, "wallet rejected the request", s.ErrorMessage)
	require.True(t, s.IsFailed())

	// A begin from failed clears the error and restarts the sequence.
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventBegin})
	require.Equal(t, types.PhaseExecute, s.Phase)
	require.Empty(t, s.ErrorMessage)
}

func TestTransitionStatusUnknownIsDistinctFromFailed(t *testing.T) {
	s := types.NewTransactionState()
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventBegin})
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventExecuteSubmitted, TxHash: "0xccc"})
	s = Transition(s, types.ActionWithdraw, Event{Kind: EventStatusUnknown, Message: "transaction status unknown, check a block explorer"})

	require.Equal(t, types.PhaseUnknown, s.Phase)
	require.False(t, s.IsFailed())
	require.True(t, s.IsTerminal())
	// The hash stays visible so the user can look it up.
	require.Equal(t, "0xccc", s.TxHash)
}

func TestTransitionTerminalPhasesIgnoreFurtherEvents(t *testing.T) {
	s := types.NewTransactionState()
	s.Phase = types.PhaseView

	after := Transition(s, types.ActionDeposit, Event{Kind: EventFailed, Message: "late failure"})
	require.Equal(t, types.PhaseView, after.Phase)
	require.Empty(t, after.ErrorMessage)
}

func TestTransitionResetReturnsBaselineFromAnyPhase(t *testing.T) {
	phases := []types.TxPhase{
		types.PhaseIdle, types.PhaseCheckAllowance, types.PhaseApprove,
		types.PhaseConfirming, types.PhaseView, types.PhaseFailed, types.PhaseUnknown,
	}

	for _, phase := range phases {
		s := types.TransactionState{
			Phase:          phase,
			ApprovalTxHash: "0xaaa",
			TxHash:         "0xbbb",
			ErrorMessage:   "stale",
		}
		after := Transition(s, types.ActionDeposit, Event{Kind: EventReset})
		require.Equal(t, types.NewTransactionState(), after, "phase %s", phase)
	}
}

func TestTransitionOutOfOrderEventsAreIgnored(t *testing.T) {
	s := types.NewTransactionState()

	after := Transition(s, types.ActionDeposit, Event{Kind: EventExecutionConfirmed})
	require.Equal(t, s, after)

	after = Transition(s, types.ActionDeposit, Event{Kind: EventViewReady})
	require.Equal(t, s, after)

	after = Transition(s, types.ActionDeposit, Event{Kind: EventApprovalSubmitted, TxHash: "0xddd"})
	require.Empty(t, after.ApprovalTxHash)
}
