package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/config"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/history"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/wallet"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		walletAddr string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List deployments started from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.history()
			if err != nil {
				return err
			}
			defer db.Close()

			if walletAddr != "" {
				pk, err := solana.ParseBase58Pubkey(walletAddr)
				if err != nil {
					return fmt.Errorf("wallet: %w", err)
				}
				walletAddr = pk.Base58()
			}
			records, err := db.ListDeployments(ctx, walletAddr, limit)
			if err != nil {
				return err
			}
			deployed, err := db.Counter(ctx, history.CounterProgramsDeployed)
			if err != nil {
				return err
			}
			if a.opts.json {
				return a.printJSON(struct {
					ProgramsDeployed int64            `json:"programsDeployed"`
					Deployments      []history.Record `json:"deployments"`
				}{deployed, records})
			}

			fmt.Fprintf(a.out, "programs deployed: %d\n", deployed)
			if len(records) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROGRAM\tSTATUS\tPAID\tSIGNATURE\tCREATED")
			for _, r := range records {
				sig := r.PaymentSignature
				if r.Simulated {
					sig += " (simulated)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.ProgramID, r.Status, protocol.FormatSOL(r.TotalLamports), dash(sig), r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&walletAddr, "wallet", "", "only deployments paid by this wallet")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 for all)")
	return cmd
}

func newKeygenCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen [path]",
		Short: "Generate a wallet keypair file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.cfg.Keypair
			if len(args) == 1 {
				path = args[0]
			}
			pub, err := wallet.GenerateKeypairFile(path, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s\npubkey: %s\n", path, pub)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the network registry",
	}

	var (
		path    string
		network config.Network
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a network registry with one entry",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if path == "" {
				path = config.DefaultRegistryPath()
			}
			if network.Name == "" {
				network.Name = a.cfg.Network
			}
			if network.Cluster == "" {
				network.Cluster = a.cfg.Cluster
			}
			if _, err := solanarpc.ClusterURL(network.Cluster); err != nil && network.RPCURL == "" {
				return err
			}
			if network.ProgramID != "" {
				if _, err := solana.ParseBase58Pubkey(network.ProgramID); err != nil {
					return fmt.Errorf("program id: %w", err)
				}
			}
			reg := config.Registry{Networks: []config.Network{network}}
			if err := config.WriteRegistry(path, reg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s\n", path)
			return nil
		},
	}
	f := initCmd.Flags()
	f.StringVar(&path, "path", "", "registry file (default "+config.DefaultRegistryPath()+")")
	f.StringVar(&network.Name, "name", "", "network name (default the selected network)")
	f.StringVar(&network.Cluster, "cluster", "", "devnet, testnet or mainnet-beta")
	f.StringVar(&network.RPCURL, "rpc-url", "", "Solana RPC endpoint")
	f.StringVar(&network.APIURL, "api-url", "", "d2d backend URL")
	f.StringVar(&network.ProgramID, "program-id", "", "d2d program id")
	f.StringVar(&network.Keypair, "wallet-keypair", "", "keypair file for this network")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c := a.cfg
			programID := ""
			if !c.ProgramID.IsZero() {
				programID = c.ProgramID.Base58()
			}
			if a.opts.json {
				return a.printJSON(map[string]string{
					"network":   c.Network,
					"cluster":   c.Cluster,
					"rpcUrl":    c.RPCURL,
					"apiUrl":    c.APIURL,
					"programId": programID,
					"keypair":   c.Keypair,
				})
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "network\t%s\n", c.Network)
			fmt.Fprintf(w, "cluster\t%s\n", c.Cluster)
			fmt.Fprintf(w, "rpc url\t%s\n", c.RPCURL)
			fmt.Fprintf(w, "api url\t%s\n", dash(c.APIURL))
			fmt.Fprintf(w, "program id\t%s\n", dash(programID))
			fmt.Fprintf(w, "keypair\t%s\n", c.Keypair)
			return w.Flush()
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
