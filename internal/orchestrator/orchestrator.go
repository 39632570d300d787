// Package orchestrator drives one deployment from program verification
// through payment to job creation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/payment"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/backend"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanafees"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

type Phase string

const (
	PhaseInput       Phase = "INPUT"
	PhaseVerifying   Phase = "VERIFYING"
	PhaseCalculating Phase = "CALCULATING"
	PhaseReady       Phase = "READY"
	PhasePayment     Phase = "PAYMENT"
	PhaseExecuting   Phase = "EXECUTING"
	PhaseComplete    Phase = "COMPLETE"
)

const (
	DefaultResetDelay = 3 * time.Second
	DefaultDebounce   = 500 * time.Millisecond
)

var (
	ErrBusy           = errors.New("another step is in progress")
	ErrNotReady       = errors.New("no verified cost breakdown; verify the program first")
	ErrNoPendingJob   = errors.New("no payment awaiting job creation")
	ErrPendingPayment = errors.New("a payment is awaiting job creation; retry job creation or abandon it")
)

// Backend is the deployment API surface the flow needs. *backend.Client
// implements it.
type Backend interface {
	Verify(ctx context.Context, programID string) (protocol.VerifyResponse, error)
	CalculateCost(ctx context.Context, programID string) (protocol.CostBreakdown, error)
	Execute(ctx context.Context, req protocol.ExecuteRequest) (protocol.ExecuteResponse, error)
}

type BalanceReader interface {
	BalanceLamports(ctx context.Context, pubkey string) (uint64, error)
}

type IntentBuilder interface {
	Build(ctx context.Context, payer solana.Pubkey, cost protocol.CostBreakdown) (*payment.Intent, error)
}

type Submitter interface {
	Submit(ctx context.Context, intent *payment.Intent, w payment.Wallet) (payment.Result, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Backend  Backend
	Balances BalanceReader
	Builder  IntentBuilder
	Executor Submitter
	Wallet   payment.Wallet

	// FeeEstimate is added to the total for the balance pre-check. Zero means
	// one signature at the default per-signature fee.
	FeeEstimate uint64
	ResetDelay  time.Duration
	Debounce    time.Duration

	// OnChange receives the state after every transition. It must not block.
	OnChange func(State)
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.Logger == nil:
		return errors.New("logger is required")
	case cfg.Backend == nil:
		return errors.New("backend is required")
	case cfg.Balances == nil:
		return errors.New("balance reader is required")
	case cfg.Builder == nil:
		return errors.New("builder is required")
	case cfg.Executor == nil:
		return errors.New("executor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeeEstimate == 0 {
		est, err := solanafees.FixedEstimate(0, 1, 0, 0)
		if err != nil {
			return err
		}
		cfg.FeeEstimate = est.TotalLamports
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = DefaultResetDelay
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return nil
}

// State is a copy of the orchestrator's state.
type State struct {
	Phase       Phase
	ProgramID   string
	ProgramSize uint64
	Cost        *protocol.CostBreakdown

	// Err is the last failure, nil once the next step starts.
	Err *deployerr.Error

	// PendingPayment is set when a payment went through but the job was not
	// created. No new payment is accepted while it is set.
	PendingPayment *payment.Result

	Payment      *payment.Result
	DeploymentID string
	JobStatus    protocol.JobStatus
}

type Orchestrator struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	state      State
	resetTimer clockwork.Timer
	debounce   clockwork.Timer
	closed     bool
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		log:   cfg.Logger,
		cfg:   cfg,
		state: State{Phase: PhaseInput},
	}, nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyLocked()
}

func (o *Orchestrator) copyLocked() State {
	s := o.state
	if s.Cost != nil {
		c := *s.Cost
		s.Cost = &c
	}
	if s.PendingPayment != nil {
		p := *s.PendingPayment
		s.PendingPayment = &p
	}
	if s.Payment != nil {
		p := *s.Payment
		s.Payment = &p
	}
	return s
}

// update applies fn under the lock and publishes the result.
func (o *Orchestrator) update(fn func(s *State)) State {
	o.mu.Lock()
	from := o.state.Phase
	fn(&o.state)
	to := o.state.Phase
	snap := o.copyLocked()
	o.mu.Unlock()

	if from != to {
		metrics.PhaseTransitionsTotal.WithLabelValues(string(to)).Inc()
		o.log.Debug("orchestrator: phase", "from", from, "to", to)
	}
	if o.cfg.OnChange != nil {
		o.cfg.OnChange(snap)
	}
	return snap
}

// begin moves from one of the allowed phases to next, or fails with ErrBusy.
func (o *Orchestrator) begin(next Phase, allowed ...Phase) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("orchestrator closed")
	}
	ok := false
	for _, p := range allowed {
		if o.state.Phase == p {
			ok = true
			break
		}
	}
	if !ok {
		phase := o.state.Phase
		o.mu.Unlock()
		return fmt.Errorf("%w: phase %s", ErrBusy, phase)
	}
	o.stopResetLocked()
	o.mu.Unlock()

	o.update(func(s *State) {
		s.Phase = next
		s.Err = nil
	})
	return nil
}

// fail records err and moves to phase. Non-classified errors are wrapped as
// KindUnknown.
func (o *Orchestrator) fail(phase Phase, err error) error {
	de, ok := deployerr.As(err)
	if !ok {
		de = deployerr.Wrap(deployerr.KindUnknown, "deployment step failed", err)
	}
	o.update(func(s *State) {
		s.Phase = phase
		s.Err = de
		if phase == PhaseInput {
			s.Cost = nil
			s.ProgramSize = 0
		}
	})
	o.log.Warn("orchestrator: step failed", "phase", phase, "kind", de.Kind.String(), "error", de)
	return de
}

// Verify checks the program locally, then with the backend, and on success
// chains straight into cost calculation. Any failure returns to INPUT.
func (o *Orchestrator) Verify(ctx context.Context, programID string) error {
	programID = strings.TrimSpace(programID)

	o.mu.Lock()
	pending := o.state.PendingPayment != nil
	o.mu.Unlock()
	if pending {
		return ErrPendingPayment
	}

	if err := o.begin(PhaseVerifying, PhaseInput, PhaseReady, PhaseComplete); err != nil {
		return err
	}
	o.update(func(s *State) {
		s.ProgramID = programID
		s.Cost = nil
		s.ProgramSize = 0
		s.Payment = nil
		s.DeploymentID = ""
		s.JobStatus = ""
	})

	if _, err := solana.ParseBase58Pubkey(programID); err != nil {
		return o.fail(PhaseInput, deployerr.Wrap(deployerr.KindInputValidation, "invalid program id", err))
	}

	resp, err := o.cfg.Backend.Verify(ctx, programID)
	if err != nil {
		return o.fail(PhaseInput, backendError("program verification failed", err))
	}
	if !resp.IsValid {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "program cannot be deployed"
		}
		return o.fail(PhaseInput, deployerr.New(deployerr.KindUpstreamRejection, msg))
	}
	if resp.ProgramSize != nil {
		size := *resp.ProgramSize
		o.update(func(s *State) { s.ProgramSize = size })
	}

	return o.calculateCost(ctx, programID)
}

func (o *Orchestrator) calculateCost(ctx context.Context, programID string) error {
	o.update(func(s *State) { s.Phase = PhaseCalculating })

	cost, err := o.cfg.Backend.CalculateCost(ctx, programID)
	if err != nil {
		return o.fail(PhaseInput, backendError("cost calculation failed", err))
	}
	if err := cost.Validate(); err != nil {
		return o.fail(PhaseInput, deployerr.Wrap(deployerr.KindUpstreamRejection, "backend returned an inconsistent cost", err))
	}

	o.update(func(s *State) {
		s.Phase = PhaseReady
		s.Cost = &cost
		if cost.ProgramSize > 0 {
			s.ProgramSize = cost.ProgramSize
		}
	})
	o.log.Info("orchestrator: ready", "program_id", programID, "total_lamports", cost.TotalPayment)
	return nil
}

// VerifyDebounced runs Verify after the debounce delay. Calls within the delay
// replace the pending program id. Failures land in State.
func (o *Orchestrator) VerifyDebounced(programID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = o.cfg.Clock.AfterFunc(o.cfg.Debounce, func() {
		o.mu.Lock()
		o.debounce = nil
		o.mu.Unlock()
		if err := o.Verify(context.Background(), programID); err != nil {
			o.log.Debug("orchestrator: debounced verify failed", "program_id", programID, "error", err)
		}
	})
}

// ExecuteDeployment pays for the verified program and creates the job. The
// PAYMENT phase is claimed first so concurrent calls fail with ErrBusy, then
// the balance is checked before anything is built or signed. Failures return
// to READY with the cost kept.
func (o *Orchestrator) ExecuteDeployment(ctx context.Context) (protocol.ExecuteResponse, error) {
	o.mu.Lock()
	cost := o.state.Cost
	phase := o.state.Phase
	pending := o.state.PendingPayment != nil
	o.mu.Unlock()

	switch {
	case pending:
		return protocol.ExecuteResponse{}, ErrPendingPayment
	case phase != PhaseReady || cost == nil:
		return protocol.ExecuteResponse{}, ErrNotReady
	case o.cfg.Wallet == nil:
		return protocol.ExecuteResponse{}, deployerr.New(deployerr.KindInputValidation, "no wallet connected")
	}
	breakdown := *cost
	payer := o.cfg.Wallet.PublicKey()

	if err := o.begin(PhasePayment, PhaseReady); err != nil {
		return protocol.ExecuteResponse{}, err
	}
	if err := o.checkBalance(ctx, payer, breakdown); err != nil {
		return protocol.ExecuteResponse{}, o.fail(PhaseReady, err)
	}
	intent, err := o.cfg.Builder.Build(ctx, payer, breakdown)
	if err != nil {
		return protocol.ExecuteResponse{}, o.fail(PhaseReady, err)
	}
	res, err := o.cfg.Executor.Submit(ctx, intent, o.cfg.Wallet)
	if err != nil {
		return protocol.ExecuteResponse{}, o.fail(PhaseReady, err)
	}
	o.log.Info("orchestrator: payment accepted", "signature", res.Signature, "simulated", res.Simulated)

	return o.createJob(ctx, res, breakdown)
}

func (o *Orchestrator) checkBalance(ctx context.Context, payer solana.Pubkey, cost protocol.CostBreakdown) error {
	required, err := solanafees.AddLamports(cost.TotalPayment, o.cfg.FeeEstimate)
	if err != nil {
		return deployerr.Wrap(deployerr.KindInputValidation, "payment amount overflows", err)
	}
	balance, err := o.cfg.Balances.BalanceLamports(ctx, payer.Base58())
	if err != nil {
		return deployerr.Wrap(deployerr.KindNetwork, "failed to read wallet balance", err)
	}
	if balance < required {
		return &deployerr.Error{
			Kind: deployerr.KindInsufficientFunds,
			Message: fmt.Sprintf("insufficient balance: need %s SOL including fees, have %s SOL",
				protocol.FormatSOL(required), protocol.FormatSOL(balance)),
		}
	}
	return nil
}

// createJob hands the payment to the backend. A failure here means funds may
// have moved without a job, so the payment is kept for RetryJobCreation.
func (o *Orchestrator) createJob(ctx context.Context, res payment.Result, cost protocol.CostBreakdown) (protocol.ExecuteResponse, error) {
	o.update(func(s *State) {
		s.Phase = PhaseExecuting
		s.Err = nil
		r := res
		s.Payment = &r
	})

	o.mu.Lock()
	programID := o.state.ProgramID
	o.mu.Unlock()

	req := protocol.NewExecuteRequest(o.cfg.Wallet.PublicKey().Base58(), programID, res.Signature, cost)
	resp, err := o.cfg.Backend.Execute(ctx, req)
	if err != nil {
		msg := "payment succeeded but the deployment job was not created; do not pay again, retry job creation"
		if res.Simulated {
			msg = "simulated payment accepted but the deployment job was not created; retry job creation"
		}
		pe := &deployerr.Error{
			Kind:      deployerr.KindPartialFailure,
			Message:   msg,
			Signature: res.Signature,
			Cause:     err,
		}
		o.update(func(s *State) {
			r := res
			s.PendingPayment = &r
		})
		return protocol.ExecuteResponse{}, o.fail(PhaseReady, pe)
	}

	o.update(func(s *State) {
		s.PendingPayment = nil
		s.Phase = PhaseComplete
		s.DeploymentID = resp.DeploymentID
		s.JobStatus = resp.Status
	})
	o.log.Info("orchestrator: deployment created", "deployment_id", resp.DeploymentID, "status", resp.Status)
	o.scheduleReset()
	return resp, nil
}

// RetryJobCreation re-sends the job creation for the pending payment. The
// backend admits a signature once, so this never pays twice.
func (o *Orchestrator) RetryJobCreation(ctx context.Context) (protocol.ExecuteResponse, error) {
	o.mu.Lock()
	pending := o.state.PendingPayment
	cost := o.state.Cost
	phase := o.state.Phase
	o.mu.Unlock()
	if pending == nil || cost == nil {
		return protocol.ExecuteResponse{}, ErrNoPendingJob
	}
	if phase != PhaseReady {
		return protocol.ExecuteResponse{}, fmt.Errorf("%w: phase %s", ErrBusy, phase)
	}
	if err := o.begin(PhaseExecuting, PhaseReady); err != nil {
		return protocol.ExecuteResponse{}, err
	}
	return o.createJob(ctx, *pending, *cost)
}

// AbandonPayment forgets a pending payment so a new one can be made. Funds
// already sent are not recovered.
func (o *Orchestrator) AbandonPayment() error {
	o.mu.Lock()
	if o.state.PendingPayment == nil {
		o.mu.Unlock()
		return ErrNoPendingJob
	}
	sig := o.state.PendingPayment.Signature
	o.mu.Unlock()

	o.update(func(s *State) {
		s.PendingPayment = nil
		s.Err = nil
	})
	o.log.Warn("orchestrator: pending payment abandoned", "signature", sig)
	return nil
}

func (o *Orchestrator) scheduleReset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.stopResetLocked()
	o.resetTimer = o.cfg.Clock.AfterFunc(o.cfg.ResetDelay, func() {
		o.mu.Lock()
		stale := o.closed || o.state.Phase != PhaseComplete
		o.resetTimer = nil
		o.mu.Unlock()
		if !stale {
			o.Reset()
		}
	})
}

func (o *Orchestrator) stopResetLocked() {
	if o.resetTimer != nil {
		o.resetTimer.Stop()
		o.resetTimer = nil
	}
}

// Reset returns to INPUT and drops the cost breakdown. With a pending
// payment it only clears the error, keeping READY so the job can still be
// created.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.stopResetLocked()
	o.mu.Unlock()
	o.update(func(s *State) {
		if s.PendingPayment != nil {
			s.Err = nil
			return
		}
		*s = State{Phase: PhaseInput}
	})
}

// Close cancels the debounce and reset timers. The orchestrator accepts no
// further operations.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.stopResetLocked()
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
}

func backendError(msg string, err error) *deployerr.Error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		de := deployerr.Wrap(deployerr.KindUpstreamRejection, msg, err)
		de.Detail = apiErr.Message
		return de
	}
	return deployerr.Wrap(deployerr.KindNetwork, msg, err)
}
