package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <program-id>",
		Short: "Check that a program exists on the source network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd.Context(), args[0])
		},
	}
}

func (a *app) runVerify(ctx context.Context, programID string) error {
	if _, err := solana.ParseBase58Pubkey(programID); err != nil {
		return deployerr.Wrap(deployerr.KindInputValidation, "invalid program id", err)
	}
	be, err := a.backend()
	if err != nil {
		return err
	}
	resp, err := be.Verify(ctx, programID)
	if err != nil {
		return err
	}
	if a.opts.json {
		return a.printJSON(resp)
	}
	if !resp.IsValid {
		msg := resp.Error
		if msg == "" {
			msg = "program is not deployable"
		}
		return deployerr.New(deployerr.KindUpstreamRejection, msg)
	}
	fmt.Fprintf(a.out, "program %s is valid", resp.ProgramID)
	if resp.ProgramSize != nil {
		fmt.Fprintf(a.out, " (%d bytes)", *resp.ProgramSize)
	}
	fmt.Fprintln(a.out)
	return nil
}

func newCostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cost <program-id>",
		Short: "Quote the deployment cost of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCost(cmd.Context(), args[0])
		},
	}
}

func (a *app) runCost(ctx context.Context, programID string) error {
	if _, err := solana.ParseBase58Pubkey(programID); err != nil {
		return deployerr.Wrap(deployerr.KindInputValidation, "invalid program id", err)
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
	if a.opts.json {
		return a.printJSON(cost)
	}
	return a.printCost(cost)
}

func (a *app) printCost(c protocol.CostBreakdown) error {
	reward, err := c.RewardPoolPayment()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "program size\t%d bytes\n", c.ProgramSize)
	fmt.Fprintf(w, "rent (paid by treasury)\t%s\n", protocol.FormatSOL(c.RentCost))
	fmt.Fprintf(w, "service fee\t%s\n", protocol.FormatSOL(c.ServiceFee))
	fmt.Fprintf(w, "monthly fee\t%s x %d\n", protocol.FormatSOL(c.MonthlyFee), c.InitialMonths)
	fmt.Fprintf(w, "platform fee\t%s\n", protocol.FormatSOL(c.PlatformFee))
	fmt.Fprintf(w, "reward pool\t%s\n", protocol.FormatSOL(reward))
	fmt.Fprintf(w, "platform pool\t%s\n", protocol.FormatSOL(c.PlatformPoolPayment()))
	fmt.Fprintf(w, "total\t%s\n", protocol.FormatSOL(c.TotalPayment))
	return w.Flush()
}
