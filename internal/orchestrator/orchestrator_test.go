package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/logger"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/payment"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/backend"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

var (
	d2dProgram = solana.Pubkey{0xd2, 0xd2, 9}
	payer      = solana.Pubkey{0xaa, 0xbb}
	programID  = solana.Pubkey{7, 7, 7, 7}.Base58()
)

func testCost() protocol.CostBreakdown {
	return protocol.CostBreakdown{
		ProgramSize:   4096,
		RentCost:      1_400_000,
		ServiceFee:    25_000_000,
		PlatformFee:   5_000_000,
		MonthlyFee:    10_000_000,
		InitialMonths: 1,
		TotalPayment:  40_000_000,
		ProgramHash:   protocol.ProgramHash{3},
	}
}

type fakeBackend struct {
	mu         sync.Mutex
	verify     protocol.VerifyResponse
	verifyErr  error
	cost       protocol.CostBreakdown
	costErr    error
	execErrs   []error
	verified   []string
	executions []protocol.ExecuteRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		verify: protocol.VerifyResponse{IsValid: true, ProgramID: programID},
		cost:   testCost(),
	}
}

func (b *fakeBackend) Verify(_ context.Context, id string) (protocol.VerifyResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verified = append(b.verified, id)
	return b.verify, b.verifyErr
}

func (b *fakeBackend) CalculateCost(context.Context, string) (protocol.CostBreakdown, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cost, b.costErr
}

func (b *fakeBackend) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.ExecuteResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executions = append(b.executions, req)
	if len(b.execErrs) > 0 {
		err := b.execErrs[0]
		b.execErrs = b.execErrs[1:]
		if err != nil {
			return protocol.ExecuteResponse{}, err
		}
	}
	return protocol.ExecuteResponse{DeploymentID: "job-1", Status: protocol.JobPending}, nil
}

func (b *fakeBackend) verifiedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.verified...)
}

func (b *fakeBackend) executeRequests() []protocol.ExecuteRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.ExecuteRequest(nil), b.executions...)
}

type fakeBalances struct {
	mu      sync.Mutex
	balance uint64
	calls   int

	entered chan struct{}
	release chan struct{}
}

func (f *fakeBalances) BalanceLamports(context.Context, string) (uint64, error) {
	f.mu.Lock()
	f.calls++
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeBalances) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLedger struct {
	mu        sync.Mutex
	simErr    json.RawMessage
	blockhash int
	sims      int
}

func (l *fakeLedger) LatestBlockhash(context.Context) (solanarpc.LatestBlockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockhash++
	return solanarpc.LatestBlockhash{Blockhash: solana.Blockhash{1, 2, 3}, LastValidBlockHeight: 900}, nil
}

func (l *fakeLedger) SimulateTransaction(context.Context, []byte) (solanarpc.SimulationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sims++
	return solanarpc.SimulationResult{Err: l.simErr}, nil
}

func (l *fakeLedger) calls() (blockhashes, sims int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhash, l.sims
}

type fakeConfirmer struct{}

func (fakeConfirmer) SignatureStatuses(context.Context, []string) ([]*solanarpc.SignatureStatus, error) {
	return []*solanarpc.SignatureStatus{{ConfirmationStatus: "finalized"}}, nil
}

func (fakeConfirmer) BlockHeight(context.Context) (uint64, error) { return 100, nil }

type fakeWallet struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (w *fakeWallet) PublicKey() solana.Pubkey { return payer }

func (w *fakeWallet) SignAndSend(context.Context, *payment.Intent) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return "", w.err
	}
	return "5igConfirmed", nil
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type harness struct {
	clock     *clockwork.FakeClock
	execClock *clockwork.FakeClock
	backend   *fakeBackend
	balances  *fakeBalances
	ledger    *fakeLedger
	wallet    *fakeWallet
	orch      *Orchestrator

	mu     sync.Mutex
	phases []Phase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClock(),
		execClock: clockwork.NewFakeClock(),
		backend:   newFakeBackend(),
		balances:  &fakeBalances{balance: 10 * protocol.LamportsPerSOL},
		ledger:    &fakeLedger{},
		wallet:    &fakeWallet{},
	}
	log := logger.Discard()
	builder, err := payment.NewBuilder(payment.BuilderConfig{Logger: log, Ledger: h.ledger, ProgramID: d2dProgram})
	require.NoError(t, err)
	exec, err := payment.NewExecutor(payment.ExecutorConfig{
		Logger:    log,
		Clock:     h.execClock,
		Ledger:    h.ledger,
		Confirmer: fakeConfirmer{},
	})
	require.NoError(t, err)

	h.orch, err = New(Config{
		Logger:   log,
		Clock:    h.clock,
		Backend:  h.backend,
		Balances: h.balances,
		Builder:  builder,
		Executor: exec,
		Wallet:   h.wallet,
		OnChange: func(s State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if len(h.phases) == 0 || h.phases[len(h.phases)-1] != s.Phase {
				h.phases = append(h.phases, s.Phase)
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) seenPhases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Phase(nil), h.phases...)
}

// execute runs ExecuteDeployment while advancing the executor's clock
// through submit retry pauses.
func (h *harness) execute(t *testing.T) (protocol.ExecuteResponse, error) {
	t.Helper()
	type out struct {
		resp protocol.ExecuteResponse
		err  error
	}
	ch := make(chan out, 1)
	go func() {
		resp, err := h.orch.ExecuteDeployment(context.Background())
		ch <- out{resp, err}
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case o := <-ch:
			return o.resp, o.err
		case <-deadline:
			t.Fatal("execute did not return")
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := h.execClock.BlockUntilContext(ctx, 1)
		cancel()
		if err == nil {
			h.execClock.Advance(payment.DefaultRetryPause)
		}
	}
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.Verify(context.Background(), programID))
	require.Equal(t, PhaseReady, h.orch.State().Phase)
}

func TestVerify_RejectsMalformedIDWithoutNetwork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.orch.Verify(context.Background(), "not a program id")
	require.ErrorIs(t, err, deployerr.ErrInputValidation)

	st := h.orch.State()
	require.Equal(t, PhaseInput, st.Phase)
	require.NotNil(t, st.Err)
	require.Empty(t, h.backend.verifiedIDs())
}

func TestVerify_ChainsIntoCostCalculation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)

	st := h.orch.State()
	require.NotNil(t, st.Cost)
	require.Equal(t, uint64(40_000_000), st.Cost.TotalPayment)
	require.Equal(t, uint64(4096), st.ProgramSize)
	require.Nil(t, st.Err)
	require.Equal(t, []Phase{PhaseVerifying, PhaseCalculating, PhaseReady}, h.seenPhases())
}

func TestVerify_InvalidProgramReturnsToInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.verify = protocol.VerifyResponse{IsValid: false, Error: "Program is not upgradeable"}

	err := h.orch.Verify(context.Background(), programID)
	require.ErrorIs(t, err, deployerr.ErrUpstreamRejection)
	st := h.orch.State()
	require.Equal(t, PhaseInput, st.Phase)
	require.Equal(t, "Program is not upgradeable", st.Err.Message)
	require.Nil(t, st.Cost)
}

func TestVerify_BackendErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.costErr = &backend.APIError{Endpoint: "calculate-cost", Status: http.StatusBadRequest, Message: "program too large"}
	err := h.orch.Verify(context.Background(), programID)
	require.ErrorIs(t, err, deployerr.ErrUpstreamRejection)
	require.Equal(t, PhaseInput, h.orch.State().Phase)
	require.Equal(t, "program too large", h.orch.State().Err.Detail)

	h.backend.costErr = nil
	h.backend.verifyErr = errors.New("dial tcp: connection refused")
	err = h.orch.Verify(context.Background(), programID)
	require.ErrorIs(t, err, deployerr.ErrNetwork)
	require.Equal(t, PhaseInput, h.orch.State().Phase)
}

func TestVerify_InconsistentCostIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cost := testCost()
	cost.TotalPayment += cost.RentCost
	h.backend.cost = cost

	err := h.orch.Verify(context.Background(), programID)
	require.ErrorIs(t, err, deployerr.ErrUpstreamRejection)
	require.Nil(t, h.orch.State().Cost)
}

func TestExecute_RequiresReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.ExecuteDeployment(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestExecute_InsufficientBalanceMakesNoSubmission(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.balances.balance = 40_000_000 // total without the fee estimate

	_, err := h.orch.ExecuteDeployment(context.Background())
	require.ErrorIs(t, err, deployerr.ErrInsufficientFunds)
	require.NotErrorIs(t, err, deployerr.ErrWalletRejection)

	require.Equal(t, 1, h.balances.callCount())
	require.Equal(t, 0, h.wallet.callCount())
	blockhashes, sims := h.ledger.calls()
	require.Zero(t, blockhashes)
	require.Zero(t, sims)

	st := h.orch.State()
	require.Equal(t, PhaseReady, st.Phase)
	require.NotNil(t, st.Cost, "cost breakdown kept for retry")
}

func TestExecute_ConcurrentCallDuringBalanceCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.balances.balance = 1 // first call fails its pre-check
	h.balances.entered = make(chan struct{})
	h.balances.release = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.orch.ExecuteDeployment(context.Background())
		first <- err
	}()
	<-h.balances.entered
	require.Equal(t, PhasePayment, h.orch.State().Phase)

	_, err := h.orch.ExecuteDeployment(context.Background())
	require.True(t, errors.Is(err, ErrBusy) || errors.Is(err, ErrNotReady), "got %v", err)
	require.Equal(t, 1, h.balances.callCount())

	close(h.balances.release)
	require.ErrorIs(t, <-first, deployerr.ErrInsufficientFunds)

	st := h.orch.State()
	require.Equal(t, PhaseReady, st.Phase)
	require.Equal(t, 0, h.wallet.callCount())
}

func TestExecute_HappyPathThenResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)

	resp, err := h.execute(t)
	require.NoError(t, err)
	require.Equal(t, "job-1", resp.DeploymentID)

	reqs := h.backend.executeRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, "5igConfirmed", reqs[0].PaymentSignature)
	require.Equal(t, payer.Base58(), reqs[0].UserWalletAddress)
	require.Equal(t, programID, reqs[0].ProgramID)
	require.Equal(t, uint64(25_000_000), reqs[0].ServiceFee)
	require.Equal(t, uint64(1_400_000), reqs[0].RentCost)
	require.Equal(t, protocol.ProgramHash{3}, reqs[0].ProgramHash)

	st := h.orch.State()
	require.Equal(t, PhaseComplete, st.Phase)
	require.Equal(t, "job-1", st.DeploymentID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(DefaultResetDelay)
	require.Eventually(t, func() bool { return h.orch.State().Phase == PhaseInput }, 2*time.Second, 5*time.Millisecond)
	require.Nil(t, h.orch.State().Cost)

	require.Equal(t, []Phase{
		PhaseVerifying, PhaseCalculating, PhaseReady,
		PhasePayment, PhaseExecuting, PhaseComplete, PhaseInput,
	}, h.seenPhases())
}

func TestExecute_WalletRejectionProceedsWithSimulatedSignature(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.wallet.err = errors.New("User rejected the request.")

	resp, err := h.execute(t)
	require.NoError(t, err)
	require.Equal(t, "job-1", resp.DeploymentID)

	reqs := h.backend.executeRequests()
	require.Len(t, reqs, 1)
	require.True(t, payment.IsSimulatedSignature(reqs[0].PaymentSignature))
	require.Contains(t, h.seenPhases(), PhaseExecuting)

	st := h.orch.State()
	require.NotNil(t, st.Payment)
	require.True(t, st.Payment.Simulated)
}

func TestExecute_SimulationFailureKeepsCost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.ledger.simErr = json.RawMessage(`{"InstructionError":[1,{"Custom":0}]}`)

	_, err := h.execute(t)
	require.ErrorIs(t, err, deployerr.ErrSimulationFailed)
	require.Equal(t, 0, h.wallet.callCount())

	st := h.orch.State()
	require.Equal(t, PhaseReady, st.Phase)
	require.NotNil(t, st.Cost)
}

func TestExecute_PartialFailureAndRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.backend.execErrs = []error{&backend.APIError{Endpoint: "execute", Status: http.StatusBadGateway}}

	_, err := h.execute(t)
	require.ErrorIs(t, err, deployerr.ErrPartialFailure)

	de, ok := deployerr.As(err)
	require.True(t, ok)
	require.True(t, de.FundsMoved())
	require.Equal(t, "5igConfirmed", de.Signature)

	st := h.orch.State()
	require.Equal(t, PhaseReady, st.Phase)
	require.NotNil(t, st.Cost)
	require.NotNil(t, st.PendingPayment)

	_, err = h.orch.ExecuteDeployment(context.Background())
	require.ErrorIs(t, err, ErrPendingPayment)
	require.Equal(t, 1, h.wallet.callCount(), "no second payment")
	require.ErrorIs(t, h.orch.Verify(context.Background(), programID), ErrPendingPayment)

	resp, err := h.orch.RetryJobCreation(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", resp.DeploymentID)

	reqs := h.backend.executeRequests()
	require.Len(t, reqs, 2)
	require.Equal(t, reqs[0].PaymentSignature, reqs[1].PaymentSignature)
	require.Nil(t, h.orch.State().PendingPayment)
	require.Equal(t, PhaseComplete, h.orch.State().Phase)
}

func TestExecute_AbandonPaymentAllowsNewPayment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ready(t)
	h.backend.execErrs = []error{errors.New("connection reset")}

	_, err := h.execute(t)
	require.ErrorIs(t, err, deployerr.ErrPartialFailure)

	require.NoError(t, h.orch.AbandonPayment())
	require.ErrorIs(t, h.orch.AbandonPayment(), ErrNoPendingJob)

	_, err = h.execute(t)
	require.NoError(t, err)
	require.Equal(t, 2, h.wallet.callCount())
}

func TestRetryJobCreation_WithoutPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.RetryJobCreation(context.Background())
	require.ErrorIs(t, err, ErrNoPendingJob)
}

func TestVerifyDebounced_CoalescesInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orch.VerifyDebounced("7")
	h.orch.VerifyDebounced("77")
	h.orch.VerifyDebounced(programID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(DefaultDebounce)

	require.Eventually(t, func() bool { return h.orch.State().Phase == PhaseReady }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{programID}, h.backend.verifiedIDs())
}

func TestClose_CancelsTimers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orch.VerifyDebounced(programID)
	h.orch.Close()
	h.clock.Advance(time.Minute)
	require.Empty(t, h.backend.verifiedIDs())
	require.Equal(t, PhaseInput, h.orch.State().Phase)
}
