package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/superlend/superfund-core/internal/chain"
	"github.com/superlend/superfund-core/internal/types"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testHash    = common.HexToHash("0xabc1")
	approveHash = common.HexToHash("0xabc2")
)

// fakeChain implements chain.Wallet and chain.VaultClient with scriptable
// behavior so orchestration can be exercised without a node.
type fakeChain struct {
	chainID      uint64
	switchErr    error
	allowances   []sdkmath.Int // consumed one per Allowance call, last repeats
	allowanceIdx int
	assetBalance sdkmath.Int
	maxWithdraw  sdkmath.Int
	balanceDelay time.Duration // applied to limit reads
	receiptGate  chan struct{} // WaitForReceipt blocks until closed, if set

	approveErr  error
	submitErr   error
	receipt     chain.ReceiptStatus
	receiptErr  error
	approveCnt  int
	depositCnt  int
	withdrawCnt int
	transferCnt int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:      8453,
		allowances:   []sdkmath.Int{sdkmath.ZeroInt()},
		assetBalance: sdkmath.NewInt(1_000_000_000),
		maxWithdraw:  sdkmath.NewInt(500_000_000),
		receipt:      chain.ReceiptSuccess,
	}
}

func (f *fakeChain) ActiveAccount() common.Address { return testAccount }

func (f *fakeChain) ActiveChainID(ctx context.Context) (uint64, error) { return f.chainID, nil }

func (f *fakeChain) SwitchChain(ctx context.Context, chainID uint64) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chainID = chainID
	return nil
}

func (f *fakeChain) Allowance(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	v := f.allowances[f.allowanceIdx]
	if f.allowanceIdx < len(f.allowances)-1 {
		f.allowanceIdx++
	}
	return v, nil
}

func (f *fakeChain) AssetBalance(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	if f.balanceDelay > 0 {
		time.Sleep(f.balanceDelay)
	}
	return f.assetBalance, nil
}

func (f *fakeChain) MaxWithdraw(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	if f.balanceDelay > 0 {
		time.Sleep(f.balanceDelay)
	}
	return f.maxWithdraw, nil
}

func (f *fakeChain) Approve(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	f.approveCnt++
	if f.approveErr != nil {
		return common.Hash{}, f.approveErr
	}
	return approveHash, nil
}

func (f *fakeChain) Deposit(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	f.depositCnt++
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return testHash, nil
}

func (f *fakeChain) Withdraw(ctx context.Context, amount sdkmath.Int) (common.Hash, error) {
	f.withdrawCnt++
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return testHash, nil
}

func (f *fakeChain) TransferShares(ctx context.Context, to common.Address, amount sdkmath.Int) (common.Hash, error) {
	f.transferCnt++
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return testHash, nil
}

func (f *fakeChain) WaitForReceipt(ctx context.Context, txHash common.Hash) (chain.ReceiptStatus, error) {
	if f.receiptGate != nil {
		<-f.receiptGate
	}
	return f.receipt, f.receiptErr
}

func (f *fakeChain) Close() error { return nil }

func newTestOrchestrator(t *testing.T, fc *fakeChain) *Orchestrator {
	t.Helper()
	orch, err := New(Config{Wallet: fc, Vault: fc})
	require.NoError(t, err)
	return orch
}

func beginIntent(t *testing.T, orch *Orchestrator, kind types.ActionKind, amount int64) types.TransactionIntent {
	t.Helper()
	intent := NewIntent(kind, sdkmath.NewInt(amount), common.Address{}, 8453)
	require.NoError(t, orch.Begin(context.Background(), intent))
	return intent
}

func TestRunDepositWithSufficientAllowanceSkipsApproval(t *testing.T) {
	fc := newFakeChain()
	fc.allowances = []sdkmath.Int{sdkmath.NewInt(1_000_000)}

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionDeposit, 1_000_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseView, state.Phase)
	require.Zero(t, fc.approveCnt)
	require.Equal(t, 1, fc.depositCnt)
	require.Equal(t, testHash.Hex(), state.TxHash)
}

func TestRunDepositApprovesWhenAllowanceShort(t *testing.T) {
	fc := newFakeChain()
	fc.allowances = []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.NewInt(1_000_000)}

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionDeposit, 1_000_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseView, state.Phase)
	require.Equal(t, 1, fc.approveCnt)
	require.Equal(t, 1, fc.depositCnt)
	require.Equal(t, approveHash.Hex(), state.ApprovalTxHash)
}

func TestRunDepositGivesUpWhenAllowanceNeverSecured(t *testing.T) {
	fc := newFakeChain()
	// Every re-read still comes up empty.
	fc.allowances = []sdkmath.Int{sdkmath.ZeroInt()}

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionDeposit, 1_000_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseFailed, state.Phase)
	require.Equal(t, msgAllowanceNotSecured, state.ErrorMessage)
	require.Zero(t, fc.depositCnt)
}

func TestRunWithdrawSkipsAllowanceEntirely(t *testing.T) {
	fc := newFakeChain()
	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 100_000_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseView, state.Phase)
	require.Zero(t, fc.approveCnt)
	require.Equal(t, 1, fc.withdrawCnt)
}

func TestBeginRejectsOverLimitBeforeAnySubmission(t *testing.T) {
	fc := newFakeChain()
	fc.maxWithdraw = sdkmath.NewInt(100)

	orch := newTestOrchestrator(t, fc)
	intent := NewIntent(types.ActionWithdraw, sdkmath.NewInt(101), common.Address{}, 8453)
	err := orch.Begin(context.Background(), intent)

	require.ErrorIs(t, err, ErrOverLimit)
	require.Zero(t, fc.withdrawCnt)
	require.Equal(t, types.PhaseIdle, orch.Status().Phase)
}

func TestBeginAcceptsAmountExactlyAtLimit(t *testing.T) {
	fc := newFakeChain()
	fc.maxWithdraw = sdkmath.NewInt(100)

	orch := newTestOrchestrator(t, fc)
	intent := NewIntent(types.ActionWithdraw, sdkmath.NewInt(100), common.Address{}, 8453)
	require.NoError(t, orch.Begin(context.Background(), intent))
}

func TestBeginRejectsSecondIntent(t *testing.T) {
	fc := newFakeChain()
	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	second := NewIntent(types.ActionWithdraw, sdkmath.NewInt(1_000), common.Address{}, 8453)
	require.ErrorIs(t, orch.Begin(context.Background(), second), ErrIntentActive)
}

func TestRunWalletRejectionMessage(t *testing.T) {
	fc := newFakeChain()
	fc.submitErr = chain.ErrWalletRejected

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseFailed, state.Phase)
	require.Equal(t, msgWalletRejected, state.ErrorMessage)
}

func TestRunRevertMessageDiffersFromRejection(t *testing.T) {
	fc := newFakeChain()
	fc.receipt = chain.ReceiptReverted

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseFailed, state.Phase)
	require.Equal(t, msgExecutionReverted, state.ErrorMessage)
	require.NotEqual(t, msgWalletRejected, state.ErrorMessage)
}

func TestRunStatusUnknownIsNotFailed(t *testing.T) {
	fc := newFakeChain()
	fc.receiptErr = chain.ErrStatusUnknown

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseUnknown, state.Phase)
	require.False(t, state.IsFailed())
	require.Equal(t, msgStatusUnknown, state.ErrorMessage)
	require.Equal(t, testHash.Hex(), state.TxHash)
}

func TestRunNetworkSwitchDeniedFails(t *testing.T) {
	fc := newFakeChain()
	fc.chainID = 1
	fc.switchErr = chain.ErrWalletRejected

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseFailed, state.Phase)
	require.Equal(t, msgNetworkSwitchDenied, state.ErrorMessage)
	require.Zero(t, fc.withdrawCnt)
}

func TestRunNetworkSwitchThenProceeds(t *testing.T) {
	fc := newFakeChain()
	fc.chainID = 1

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseView, state.Phase)
	require.Equal(t, uint64(8453), fc.chainID)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	fc := newFakeChain()
	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	orch.Run(context.Background())
	_, err := orch.Retry(context.Background())
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryAfterFailureSucceeds(t *testing.T) {
	fc := newFakeChain()
	fc.submitErr = chain.ErrWalletRejected

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseFailed, state.Phase)

	fc.submitErr = nil
	state, err := orch.Retry(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PhaseView, state.Phase)
}

func TestOnConfirmedHookFiresBeforeView(t *testing.T) {
	fc := newFakeChain()
	var hookKind types.ActionKind
	orch, err := New(Config{
		Wallet: fc, Vault: fc,
		OnConfirmed: func(kind types.ActionKind) { hookKind = kind },
	})
	require.NoError(t, err)

	beginIntent(t, orch, types.ActionWithdraw, 1_000)
	orch.Run(context.Background())
	require.Equal(t, types.ActionWithdraw, hookKind)
}

func TestBeginConcurrentCallsAdmitExactlyOne(t *testing.T) {
	fc := newFakeChain()
	// The limit read is slow enough that both calls overlap inside it.
	fc.balanceDelay = 50 * time.Millisecond

	orch := newTestOrchestrator(t, fc)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := NewIntent(types.ActionWithdraw, sdkmath.NewInt(1_000), common.Address{}, 8453)
			errs[i] = orch.Begin(context.Background(), intent)
		}(i)
	}
	wg.Wait()

	var admitted, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrIntentActive):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, 1, rejected)

	// The winner is still armed and drivable.
	_, active := orch.ActiveIntent()
	require.True(t, active)
}

func TestBeginFailedValidationReleasesReservation(t *testing.T) {
	fc := newFakeChain()
	fc.maxWithdraw = sdkmath.NewInt(100)

	orch := newTestOrchestrator(t, fc)
	over := NewIntent(types.ActionWithdraw, sdkmath.NewInt(101), common.Address{}, 8453)
	require.ErrorIs(t, orch.Begin(context.Background(), over), ErrOverLimit)

	// The rejected intent must not hold the slot.
	ok := NewIntent(types.ActionWithdraw, sdkmath.NewInt(100), common.Address{}, 8453)
	require.NoError(t, orch.Begin(context.Background(), ok))
}

func TestRunWhileDrivingIsNoOp(t *testing.T) {
	fc := newFakeChain()
	fc.receiptGate = make(chan struct{})

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	done := make(chan types.TransactionState, 1)
	go func() { done <- orch.Run(context.Background()) }()
	waitForPhase(t, orch, types.PhaseConfirming)

	// A second drive of the same intent must not resubmit anything.
	state := orch.Run(context.Background())
	require.Equal(t, types.PhaseConfirming, state.Phase)

	close(fc.receiptGate)
	final := <-done
	require.Equal(t, types.PhaseView, final.Phase)
	require.Equal(t, 1, fc.withdrawCnt)
}

func TestCloseDuringRunDoesNotLeakIntoNextIntent(t *testing.T) {
	fc := newFakeChain()
	fc.receiptGate = make(chan struct{})
	fc.receipt = chain.ReceiptReverted

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)

	done := make(chan types.TransactionState, 1)
	go func() { done <- orch.Run(context.Background()) }()
	waitForPhase(t, orch, types.PhaseConfirming)

	// Dismiss the surface while the receipt is still outstanding, then open
	// a fresh intent.
	orch.Close()
	beginIntent(t, orch, types.ActionDeposit, 1_000)
	require.Equal(t, types.PhaseIdle, orch.Status().Phase)

	// The detached drive now observes its revert. That outcome belongs to
	// the closed intent and must not surface on the new one.
	close(fc.receiptGate)
	<-done

	state := orch.Status()
	require.Equal(t, types.PhaseIdle, state.Phase)
	require.Empty(t, state.ErrorMessage)
}

func waitForPhase(t *testing.T, orch *Orchestrator, phase types.TxPhase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if orch.Status().Phase == phase {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, current %s", phase, orch.Status().Phase)
}

func TestCloseResetsEverything(t *testing.T) {
	fc := newFakeChain()
	fc.receipt = chain.ReceiptReverted

	orch := newTestOrchestrator(t, fc)
	beginIntent(t, orch, types.ActionWithdraw, 1_000)
	orch.Run(context.Background())
	require.NotEmpty(t, orch.Status().ErrorMessage)

	orch.Close()

	state := orch.Status()
	require.Equal(t, types.NewTransactionState(), state)
	_, active := orch.ActiveIntent()
	require.False(t, active)

	// A new intent starts from a clean slate.
	fc.receipt = chain.ReceiptSuccess
	beginIntent(t, orch, types.ActionDeposit, 1_000)
	require.Empty(t, orch.Status().ErrorMessage)
}
