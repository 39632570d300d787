package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/history"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/orchestrator"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/payment"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/wallet"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

type deployOptions struct {
	yes          bool
	noWatch      bool
	pollInterval time.Duration
	priorityFee  uint64
	computeUnits uint32
}

func newDeployCmd(a *app) *cobra.Command {
	var o deployOptions
	cmd := &cobra.Command{
		Use:   "deploy <program-id>",
		Short: "Verify, pay for and deploy a program",
		Long: `deploy verifies the program, quotes its cost, pays the reward and
platform pools from the keypair wallet and creates the deployment job.
Unless --no-watch is set it then follows the job until it finishes.

If the payment lands but the job is not created, deploy stops and prints the
retry-job command that creates the job for the same payment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDeploy(cmd.Context(), args[0], o)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&o.yes, "yes", "y", false, "approve the payment without prompting")
	f.BoolVar(&o.noWatch, "no-watch", false, "return once the job is created")
	f.DurationVar(&o.pollInterval, "poll-interval", 0, "job status poll interval (default 15s)")
	f.Uint64Var(&o.priorityFee, "priority-fee", 0, "priority fee in micro-lamports per compute unit")
	f.Uint32Var(&o.computeUnits, "compute-unit-limit", 0, "compute unit limit when a priority fee is set")
	return cmd
}

// paymentTracker keeps the last payment the orchestrator reported. The
// orchestrator resets its own state shortly after completing.
type paymentTracker struct {
	mu  sync.Mutex
	res *payment.Result
}

func (t *paymentTracker) observe(s orchestrator.State) {
	if s.Payment == nil {
		return
	}
	t.mu.Lock()
	r := *s.Payment
	t.res = &r
	t.mu.Unlock()
}

func (t *paymentTracker) last() (payment.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.res == nil {
		return payment.Result{}, false
	}
	return *t.res, true
}

func (a *app) runDeploy(ctx context.Context, programID string, o deployOptions) error {
	if err := a.cfg.RequireProgram(); err != nil {
		return err
	}
	be, err := a.backend()
	if err != nil {
		return err
	}
	rpc := a.rpc()

	wcfg := wallet.Config{Logger: a.log, Sender: rpc}
	if !o.yes {
		wcfg.Approve = wallet.PromptApprover(a.in, a.errOut)
	}
	w, err := wallet.Open(wcfg, a.cfg.Keypair)
	if err != nil {
		return err
	}

	builder, err := payment.NewBuilder(payment.BuilderConfig{
		Logger:             a.log,
		Ledger:             rpc,
		ProgramID:          a.cfg.ProgramID,
		MicroLamportsPerCU: o.priorityFee,
		ComputeUnitLimit:   o.computeUnits,
	})
	if err != nil {
		return err
	}
	fees, err := builder.FeeEstimate()
	if err != nil {
		return err
	}
	executor, err := payment.NewExecutor(payment.ExecutorConfig{Logger: a.log, Ledger: rpc, Confirmer: rpc})
	if err != nil {
		return err
	}

	var tracker paymentTracker
	orch, err := orchestrator.New(orchestrator.Config{
		Logger:   a.log,
		Backend:  be,
		Balances: rpc,
		Builder:  builder,
		Executor: executor,
		Wallet:   w,

		FeeEstimate: fees.TotalLamports,
		OnChange: func(s orchestrator.State) {
			tracker.observe(s)
			a.log.Debug("deploy: phase", "phase", s.Phase)
		},
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	db, err := a.history()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := a.serveMetrics(ctx); err != nil {
		return err
	}

	if err := orch.Verify(ctx, programID); err != nil {
		return err
	}
	st := orch.State()
	fmt.Fprintf(a.out, "program %s verified (%d bytes)\n", programID, st.ProgramSize)
	if err := a.printCost(*st.Cost); err != nil {
		return err
	}
	addrs := builder.Pools()
	fmt.Fprintf(a.out, "paying from %s\n  reward pool   %s\n  platform pool %s\n", w.PublicKey(), addrs.RewardPool, addrs.PlatformPool)

	resp, err := orch.ExecuteDeployment(ctx)
	if err != nil {
		return withRetryHint(err, programID)
	}

	rec := history.Record{
		ID:            resp.DeploymentID,
		Wallet:        w.PublicKey().Base58(),
		ProgramID:     programID,
		TotalLamports: st.Cost.TotalPayment,
		Status:        resp.Status,
		CreatedAt:     a.now(),
	}
	if res, ok := tracker.last(); ok {
		rec.PaymentSignature = res.Signature
		rec.Simulated = res.Simulated
		if res.Simulated {
			fmt.Fprintf(a.out, "wallet declined; continuing with simulated payment %s\n", res.Signature)
		} else {
			fmt.Fprintf(a.out, "payment confirmed: %s\n", res.Signature)
		}
	}
	if err := db.RecordDeployment(ctx, rec); err != nil {
		a.log.Warn("deploy: failed to record history", "deployment_id", resp.DeploymentID, "error", err)
	}
	fmt.Fprintf(a.out, "deployment %s created (%s)\n", resp.DeploymentID, resp.Status)

	if o.noWatch {
		return nil
	}
	return a.watchJob(ctx, be, db, resp.DeploymentID, o.pollInterval)
}

// withRetryHint points a partial failure at retry-job. Job creation is never
// repeated without the user asking for it.
func withRetryHint(err error, programID string) error {
	de, ok := deployerr.As(err)
	if !ok || de.Kind != deployerr.KindPartialFailure || de.Signature == "" {
		return err
	}
	out := *de
	out.Detail = fmt.Sprintf("create the job without paying again:\n  d2d retry-job %s --signature %s", programID, de.Signature)
	return &out
}

func jobOutcome(job protocol.DeploymentJob) error {
	if job.Status == protocol.JobFailed {
		msg := job.ErrorMessage
		if msg == "" {
			msg = "no error message"
		}
		return fmt.Errorf("deployment %s failed: %s", job.ID, msg)
	}
	return nil
}
