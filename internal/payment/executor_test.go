package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/logger"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
)

type executorHarness struct {
	clock     *clockwork.FakeClock
	ledger    *fakeLedger
	confirmer *fakeConfirmer
	exec      *Executor
	intent    *Intent
}

func newExecutorHarness(t *testing.T) *executorHarness {
	t.Helper()
	h := &executorHarness{
		clock:     clockwork.NewFakeClock(),
		ledger:    newFakeLedger(),
		confirmer: &fakeConfirmer{status: confirmedStatus(), height: 500},
	}
	intent, err := newTestBuilder(t, h.ledger).Build(context.Background(), testPayer, testCost())
	require.NoError(t, err)
	h.ledger.resetSimulations()
	h.intent = intent

	h.exec, err = NewExecutor(ExecutorConfig{
		Logger:         logger.Discard(),
		Clock:          h.clock,
		Ledger:         h.ledger,
		Confirmer:      h.confirmer,
		ConfirmTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return h
}

func (h *executorHarness) submit(t *testing.T, w Wallet) (Result, error) {
	return runWithClock(t, h.clock, time.Second, func() (Result, error) {
		return h.exec.Submit(context.Background(), h.intent, w)
	})
}

func TestExecutor_Submit_Confirmed(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{pub: testPayer, sig: "5igRealSignature"}

	res, err := h.submit(t, w)
	require.NoError(t, err)
	require.Equal(t, Result{Signature: "5igRealSignature"}, res)
	require.Equal(t, 1, w.callCount())
	require.Equal(t, 0, h.ledger.simulations())
}

func TestExecutor_Submit_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{
		pub:  testPayer,
		errs: []error{errors.New("failed to fetch"), errors.New("failed to fetch"), nil},
		sig:  "sig-after-retries",
	}

	res, err := h.submit(t, w)
	require.NoError(t, err)
	require.Equal(t, "sig-after-retries", res.Signature)
	require.False(t, res.Simulated)
	require.Equal(t, 3, w.callCount())
}

func TestExecutor_Submit_WalletRejectionFallsBackToSimulation(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{pub: testPayer, errs: []error{errors.New("User rejected the request.")}}

	res, err := h.submit(t, w)
	require.NoError(t, err)
	require.True(t, res.Simulated)
	require.True(t, IsSimulatedSignature(res.Signature))
	require.Equal(t, DefaultMaxAttempts, w.callCount())
	require.Equal(t, 1, h.ledger.simulations())
}

func TestExecutor_Submit_WalletRejectionWithFailingSimulation(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	h.ledger.setSimFailure(`{"InstructionError":[0,{"Custom":1}]}`, "log line")
	w := &fakeWallet{pub: testPayer, errs: []error{fmt.Errorf("sign: %w", ErrUserRejected)}}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrWalletRejection)
	require.ErrorIs(t, err, deployerr.ErrSimulationFailed)
	require.ErrorIs(t, err, ErrUserRejected)

	de, ok := deployerr.As(err)
	require.True(t, ok)
	require.Equal(t, []string{"log line"}, de.Logs)
}

func TestExecutor_Submit_NetworkErrorIsNotDowngraded(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{pub: testPayer, errs: []error{&solanarpc.RPCError{Code: 429, Message: "Too Many Requests"}}}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrNetwork)
	require.Equal(t, DefaultMaxAttempts, w.callCount())
	require.Equal(t, 0, h.ledger.simulations())
}

func TestExecutor_Submit_InsufficientFunds(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{pub: testPayer, errs: []error{&solanarpc.RPCError{
		Code:    solanarpc.CodeBlockhashNotFound,
		Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.",
	}}}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrInsufficientFunds)
	require.Equal(t, 0, h.ledger.simulations())
}

func TestExecutor_Submit_BlockhashExpiredDuringConfirmation(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	h.confirmer.status = nil
	h.confirmer.height = h.intent.LastValidBlockHeight + 1
	w := &fakeWallet{pub: testPayer, sig: "sig-expired"}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrBlockhashExpired)
	de, _ := deployerr.As(err)
	require.Equal(t, "sig-expired", de.Signature)
}

func TestExecutor_Submit_ConfirmationTimeoutIsIndeterminate(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	h.confirmer.status = nil
	w := &fakeWallet{pub: testPayer, sig: "sig-pending"}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrConfirmationTimeout)

	de, ok := deployerr.As(err)
	require.True(t, ok)
	require.True(t, de.Indeterminate())
	require.Equal(t, "sig-pending", de.Signature)
	require.GreaterOrEqual(t, h.confirmer.calls, 5)
}

func TestExecutor_Submit_OnChainFailure(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	h.confirmer.status = &solanarpc.SignatureStatus{Err: []byte(`{"InsufficientFundsForRent":{"account_index":0}}`)}
	w := &fakeWallet{pub: testPayer, sig: "sig-failed"}

	_, err := h.submit(t, w)
	require.ErrorIs(t, err, deployerr.ErrInsufficientFunds)
}

func TestExecutor_Submit_MalformedIntent(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	w := &fakeWallet{pub: testPayer, sig: "never"}

	_, err := h.exec.Submit(context.Background(), &Intent{}, w)
	require.ErrorIs(t, err, deployerr.ErrMalformedIntent)
	require.Equal(t, 0, w.callCount())

	_, err = h.exec.Submit(context.Background(), h.intent, &fakeWallet{pub: testProgramID, sig: "never"})
	require.ErrorIs(t, err, deployerr.ErrMalformedIntent)
}

func TestIntent_ValidateRejectsTamperedCost(t *testing.T) {
	t.Parallel()

	h := newExecutorHarness(t)
	tampered := *h.intent
	tampered.Cost.TotalPayment++
	require.ErrorIs(t, tampered.Validate(), deployerr.ErrMalformedIntent)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want deployerr.Kind
	}{
		{"user rejected text", errors.New("WalletSignTransactionError: User rejected the request."), deployerr.KindWalletRejection},
		{"user rejected sentinel", fmt.Errorf("approve: %w", ErrUserRejected), deployerr.KindWalletRejection},
		{"rate limited", &solanarpc.RPCError{Code: solanarpc.CodeRateLimited, Message: "rate limited"}, deployerr.KindNetwork},
		{"node unhealthy", &solanarpc.RPCError{Code: solanarpc.CodeNodeUnhealthy, Message: "Node is unhealthy"}, deployerr.KindNetwork},
		{"transport", errors.New("dial tcp: connection refused"), deployerr.KindNetwork},
		{"preflight insufficient", &solanarpc.RPCError{Code: solanarpc.CodeBlockhashNotFound, Message: "insufficient lamports 10, need 40000000"}, deployerr.KindInsufficientFunds},
		{"preflight blockhash", &solanarpc.RPCError{Code: solanarpc.CodeBlockhashNotFound, Message: "Transaction simulation failed: Blockhash not found"}, deployerr.KindBlockhashExpired},
		{"preflight other", &solanarpc.RPCError{Code: solanarpc.CodeBlockhashNotFound, Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1"}, deployerr.KindSimulationFailed},
		{"block height exceeded", errors.New("TransactionExpiredBlockheightExceededError: block height exceeded"), deployerr.KindBlockhashExpired},
		{"already classified", deployerr.New(deployerr.KindMalformedIntent, "x"), deployerr.KindMalformedIntent},
		{"unclassified", errors.New("something odd"), deployerr.KindUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
