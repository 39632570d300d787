package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

var (
	testProgramID = solana.Pubkey{0xd2, 0xd0, 1, 2, 3, 4, 5, 6, 7, 8}
	testPayer     = solana.Pubkey{0xaa, 1}
)

func testCost() protocol.CostBreakdown {
	return protocol.CostBreakdown{
		ProgramSize:   2048,
		RentCost:      1_400_000,
		ServiceFee:    25_000_000,
		PlatformFee:   5_000_000,
		MonthlyFee:    10_000_000,
		InitialMonths: 1,
		TotalPayment:  40_000_000,
		ProgramHash:   protocol.ProgramHash{1},
	}
}

type fakeLedger struct {
	mu        sync.Mutex
	blockhash solanarpc.LatestBlockhash
	simErr    json.RawMessage
	simLogs   []string
	simRPCErr error
	simCalls  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{blockhash: solanarpc.LatestBlockhash{
		Blockhash:            solana.Blockhash{9, 9, 9},
		LastValidBlockHeight: 1_000,
	}}
}

func (l *fakeLedger) LatestBlockhash(context.Context) (solanarpc.LatestBlockhash, error) {
	return l.blockhash, nil
}

func (l *fakeLedger) SimulateTransaction(_ context.Context, tx []byte) (solanarpc.SimulationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.simCalls++
	if l.simRPCErr != nil {
		return solanarpc.SimulationResult{}, l.simRPCErr
	}
	return solanarpc.SimulationResult{Err: l.simErr, Logs: l.simLogs}, nil
}

func (l *fakeLedger) setSimFailure(errJSON string, logs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.simErr = json.RawMessage(errJSON)
	l.simLogs = logs
}

func (l *fakeLedger) simulations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.simCalls
}

func (l *fakeLedger) resetSimulations() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.simCalls = 0
}

type fakeConfirmer struct {
	mu     sync.Mutex
	status *solanarpc.SignatureStatus
	height uint64
	calls  int
}

func (c *fakeConfirmer) SignatureStatuses(_ context.Context, sigs []string) ([]*solanarpc.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return []*solanarpc.SignatureStatus{c.status}, nil
}

func (c *fakeConfirmer) BlockHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

func confirmedStatus() *solanarpc.SignatureStatus {
	return &solanarpc.SignatureStatus{Slot: 10, ConfirmationStatus: "confirmed"}
}

// fakeWallet returns errs in order, then sig.
type fakeWallet struct {
	mu    sync.Mutex
	pub   solana.Pubkey
	errs  []error
	sig   string
	calls int
}

func (w *fakeWallet) PublicKey() solana.Pubkey { return w.pub }

func (w *fakeWallet) SignAndSend(context.Context, *Intent) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if len(w.errs) > 0 {
		err := w.errs[0]
		if len(w.errs) > 1 {
			w.errs = w.errs[1:]
		}
		if err != nil {
			return "", err
		}
	}
	return w.sig, nil
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// runWithClock runs fn while advancing clk by step whenever something is
// waiting on it.
func runWithClock(t *testing.T, clk *clockwork.FakeClock, step time.Duration, fn func() (Result, error)) (Result, error) {
	t.Helper()
	type out struct {
		res Result
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := fn()
		ch <- out{res, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case o := <-ch:
			return o.res, o.err
		case <-deadline:
			t.Fatal("timed out waiting for submit")
			return Result{}, nil
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := clk.BlockUntilContext(ctx, 1)
		cancel()
		if err == nil {
			clk.Advance(step)
		}
	}
}
