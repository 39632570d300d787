package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/pools"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

type poolsView struct {
	Addresses     pools.Addresses     `json:"addresses"`
	Treasury      *pools.TreasuryPool `json:"treasury,omitempty"`
	RewardPool    uint64              `json:"rewardPoolLamports"`
	PlatformPool  uint64              `json:"platformPoolLamports"`
	TreasuryError string              `json:"treasuryError,omitempty"`
}

func newPoolsCmd(a *app) *cobra.Command {
	var (
		programFlag string
		offline     bool
	)
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Show the program's pool accounts and balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			programID := a.cfg.ProgramID
			if programFlag != "" {
				pk, err := solana.ParseBase58Pubkey(programFlag)
				if err != nil {
					return fmt.Errorf("program: %w", err)
				}
				programID = pk
			}
			if programID.IsZero() {
				return errors.New("no program id configured; pass --program")
			}
			addrs, err := pools.For(programID)
			if err != nil {
				return err
			}
			view := poolsView{Addresses: addrs}

			if !offline {
				rpc := a.rpc()
				data, err := rpc.AccountDataBase64(ctx, addrs.TreasuryPool.Base58())
				switch {
				case errors.Is(err, solanarpc.ErrAccountNotFound):
					view.TreasuryError = "treasury pool is not initialized"
				case err != nil:
					return err
				default:
					tp, err := pools.DecodeTreasuryPool(data)
					if err != nil {
						view.TreasuryError = err.Error()
					} else {
						view.Treasury = &tp
					}
				}
				if view.RewardPool, err = rpc.BalanceLamports(ctx, addrs.RewardPool.Base58()); err != nil {
					return err
				}
				if view.PlatformPool, err = rpc.BalanceLamports(ctx, addrs.PlatformPool.Base58()); err != nil {
					return err
				}
			}

			if a.opts.json {
				return a.printJSON(view)
			}
			return a.printPools(view, offline)
		},
	}
	cmd.Flags().StringVar(&programFlag, "program", "", "d2d program id (default from the network registry)")
	cmd.Flags().BoolVar(&offline, "offline", false, "only derive addresses")
	return cmd
}

func (a *app) printPools(v poolsView, offline bool) error {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "program\t%s\n", v.Addresses.ProgramID)
	fmt.Fprintf(w, "treasury pool\t%s\n", v.Addresses.TreasuryPool)
	fmt.Fprintf(w, "reward pool\t%s", v.Addresses.RewardPool)
	if !offline {
		fmt.Fprintf(w, "\t%s", protocol.FormatSOL(v.RewardPool))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "platform pool\t%s", v.Addresses.PlatformPool)
	if !offline {
		fmt.Fprintf(w, "\t%s", protocol.FormatSOL(v.PlatformPool))
	}
	fmt.Fprintln(w)
	if t := v.Treasury; t != nil {
		fmt.Fprintf(w, "admin\t%s\n", t.Admin)
		fmt.Fprintf(w, "total deposited\t%s\n", protocol.FormatSOL(t.TotalDeposited))
		fmt.Fprintf(w, "liquid balance\t%s\n", protocol.FormatSOL(t.LiquidBalance))
		fmt.Fprintf(w, "reward per share\t%s\n", t.RewardPerShare)
	}
	if v.TreasuryError != "" {
		fmt.Fprintf(w, "treasury\t%s\n", v.TreasuryError)
	}
	return w.Flush()
}
