package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
)

const (
	DefaultMaxAttempts         = 3
	DefaultRetryPause          = time.Second
	DefaultConfirmTimeout      = 60 * time.Second
	DefaultConfirmPollInterval = time.Second
)

type ExecutorConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Ledger    Ledger
	Confirmer Confirmer

	MaxAttempts         int
	RetryPause          time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Confirmer == nil {
		return errors.New("confirmer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = DefaultRetryPause
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = DefaultConfirmPollInterval
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Result is a payment the backend can be asked to admit. Simulated results
// carry a synthetic signature and moved no funds.
type Result struct {
	Signature string
	Simulated bool
}

// Submit signs and sends intent through w. It returns a confirmed signature,
// a simulated one when the wallet declined but the intent still simulates,
// or a classified *deployerr.Error.
func (e *Executor) Submit(ctx context.Context, intent *Intent, w Wallet) (Result, error) {
	if err := intent.Validate(); err != nil {
		metrics.PaymentsTotal.WithLabelValues(deployerr.KindMalformedIntent.String()).Inc()
		return Result{}, err
	}
	if w == nil {
		return Result{}, deployerr.New(deployerr.KindMalformedIntent, "no wallet connected")
	}
	if w.PublicKey() != intent.FeePayer {
		return Result{}, deployerr.New(deployerr.KindMalformedIntent, "wallet does not match payment fee payer")
	}

	sig, lastErr := e.sendWithRetry(ctx, intent, w)
	if lastErr != nil {
		kind := Classify(lastErr)
		if kind != deployerr.KindWalletRejection {
			metrics.PaymentsTotal.WithLabelValues(kind.String()).Inc()
			e.log.Warn("payment: submission failed", "kind", kind.String(), "error", lastErr)
			return Result{}, classified(kind, lastErr)
		}
		return e.fallback(ctx, intent, lastErr)
	}

	if err := e.confirm(ctx, intent, sig); err != nil {
		metrics.PaymentsTotal.WithLabelValues(deployerr.KindOf(err).String()).Inc()
		return Result{}, err
	}
	metrics.PaymentsTotal.WithLabelValues("confirmed").Inc()
	e.log.Info("payment: confirmed", "signature", sig)
	return Result{Signature: sig}, nil
}

func (e *Executor) sendWithRetry(ctx context.Context, intent *Intent, w Wallet) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		sig, err := w.SignAndSend(ctx, intent)
		if err == nil && sig == "" {
			err = errors.New("wallet returned an empty signature")
		}
		if err == nil {
			metrics.PaymentSubmitAttemptsTotal.WithLabelValues("ok").Inc()
			return sig, nil
		}
		metrics.PaymentSubmitAttemptsTotal.WithLabelValues("error").Inc()
		lastErr = err
		e.log.Debug("payment: submit attempt failed", "attempt", attempt, "error", err)

		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", deployerr.Wrap(deployerr.KindNetwork, "payment submission cancelled", ctx.Err())
		case <-e.cfg.Clock.After(e.cfg.RetryPause):
		}
	}
	return "", lastErr
}

func (e *Executor) fallback(ctx context.Context, intent *Intent, walletErr error) (Result, error) {
	e.log.Info("payment: wallet rejected signing, falling back to simulation")
	if _, err := simulate(ctx, e.cfg.Ledger, intent); err != nil {
		metrics.PaymentsTotal.WithLabelValues(deployerr.KindWalletRejection.String()).Inc()
		out := &deployerr.Error{
			Kind:    deployerr.KindWalletRejection,
			Message: "wallet rejected signing and fallback simulation failed",
			Cause:   errors.Join(walletErr, err),
		}
		if de, ok := deployerr.As(err); ok {
			out.Detail = de.Detail
			out.Logs = de.Logs
		}
		return Result{}, out
	}
	sig := newSimulatedSignature()
	metrics.PaymentsTotal.WithLabelValues("simulated").Inc()
	e.log.Info("payment: simulated payment accepted", "signature", sig)
	return Result{Signature: sig, Simulated: true}, nil
}

// confirm polls the signature until it is confirmed, fails on-chain, outlives
// its blockhash, or the confirmation timeout elapses.
func (e *Executor) confirm(ctx context.Context, intent *Intent, sig string) error {
	clk := e.cfg.Clock
	deadline := clk.Now().Add(e.cfg.ConfirmTimeout)
	for {
		done, err := e.checkConfirmation(ctx, intent, sig)
		if done {
			return err
		}

		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return &deployerr.Error{
				Kind:      deployerr.KindConfirmationTimeout,
				Message:   fmt.Sprintf("payment not confirmed within %s; it may still land, check the signature before paying again", e.cfg.ConfirmTimeout),
				Signature: sig,
			}
		}
		wait := min(e.cfg.ConfirmPollInterval, remaining)
		select {
		case <-ctx.Done():
			return &deployerr.Error{
				Kind:      deployerr.KindConfirmationTimeout,
				Message:   "stopped waiting for payment confirmation; it may still land",
				Signature: sig,
				Cause:     ctx.Err(),
			}
		case <-clk.After(wait):
		}
	}
}

func (e *Executor) checkConfirmation(ctx context.Context, intent *Intent, sig string) (bool, error) {
	statuses, err := e.cfg.Confirmer.SignatureStatuses(ctx, []string{sig})
	if err != nil {
		e.log.Debug("payment: signature status fetch failed", "signature", sig, "error", err)
		return false, nil
	}
	if len(statuses) > 0 && statuses[0] != nil {
		st := statuses[0]
		if st.Failed() {
			onChain := fmt.Errorf("transaction failed on-chain: %s", string(st.Err))
			out := classified(Classify(onChain), onChain)
			out.Signature = sig
			return true, out
		}
		if st.Confirmed() {
			return true, nil
		}
		return false, nil
	}

	if intent.LastValidBlockHeight == 0 {
		return false, nil
	}
	height, err := e.cfg.Confirmer.BlockHeight(ctx)
	if err != nil {
		return false, nil
	}
	if height > intent.LastValidBlockHeight {
		return true, &deployerr.Error{
			Kind:      deployerr.KindBlockhashExpired,
			Message:   "payment expired before it was confirmed; rebuild the payment",
			Signature: sig,
		}
	}
	return false, nil
}
