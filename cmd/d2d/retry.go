package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/history"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/payment"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

type retryJobOptions struct {
	signature    string
	wallet       string
	noWatch      bool
	pollInterval time.Duration
}

func newRetryJobCmd(a *app) *cobra.Command {
	var o retryJobOptions
	cmd := &cobra.Command{
		Use:   "retry-job <program-id>",
		Short: "Create the deployment job for a payment that already landed",
		Long: `retry-job re-quotes the program and sends the job creation request for an
existing payment signature. The backend admits a signature once, so this never
pays twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRetryJob(cmd.Context(), args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.signature, "signature", "", "payment signature printed by deploy (required)")
	f.StringVar(&o.wallet, "wallet", "", "wallet that paid (default the keypair's address)")
	f.BoolVar(&o.noWatch, "no-watch", false, "return once the job is created")
	f.DurationVar(&o.pollInterval, "poll-interval", 0, "job status poll interval (default 15s)")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func (a *app) runRetryJob(ctx context.Context, programID string, o retryJobOptions) error {
	if _, err := solana.ParseBase58Pubkey(programID); err != nil {
		return deployerr.Wrap(deployerr.KindInputValidation, "invalid program id", err)
	}
	sig := strings.TrimSpace(o.signature)
	simulated := payment.IsSimulatedSignature(sig)
	if !simulated {
		if _, err := solana.ParseSignature(sig); err != nil {
			return deployerr.Wrap(deployerr.KindInputValidation, "invalid payment signature", err)
		}
	}
	walletAddr, err := a.walletAddress(o.wallet)
	if err != nil {
		return err
	}
	be, err := a.backend()
	if err != nil {
		return err
	}

	cost, err := be.CalculateCost(ctx, programID)
	if err != nil {
		return err
	}
	if err := cost.Validate(); err != nil {
		return deployerr.Wrap(deployerr.KindUpstreamRejection, "cost breakdown is inconsistent", err)
	}

	resp, err := be.Execute(ctx, protocol.NewExecuteRequest(walletAddr, programID, sig, cost))
	if err != nil {
		return withRetryHint(&deployerr.Error{
			Kind:      deployerr.KindPartialFailure,
			Message:   "the deployment job was still not created",
			Signature: sig,
			Cause:     err,
		}, programID)
	}

	db, err := a.history()
	if err != nil {
		return err
	}
	defer db.Close()

	rec := history.Record{
		ID:               resp.DeploymentID,
		Wallet:           walletAddr,
		ProgramID:        programID,
		PaymentSignature: sig,
		Simulated:        simulated,
		TotalLamports:    cost.TotalPayment,
		Status:           resp.Status,
		CreatedAt:        a.now(),
	}
	if err := db.RecordDeployment(ctx, rec); err != nil {
		a.log.Warn("retry-job: failed to record history", "deployment_id", resp.DeploymentID, "error", err)
	}
	fmt.Fprintf(a.out, "deployment %s created (%s)\n", resp.DeploymentID, resp.Status)

	if o.noWatch {
		return nil
	}
	if err := a.serveMetrics(ctx); err != nil {
		return err
	}
	return a.watchJob(ctx, be, db, resp.DeploymentID, o.pollInterval)
}
