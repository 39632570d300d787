package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/config"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/history"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/logger"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/wallet"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/backend"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
)

type rootOptions struct {
	network     string
	configPath  string
	envFile     string
	keypair     string
	dataDir     string
	metricsAddr string
	verbose     bool
	json        bool
}

// app carries what every subcommand shares. Config and logger are resolved in
// PersistentPreRunE.
type app struct {
	opts rootOptions

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	log *slog.Logger
	cfg config.Config

	// Overridable in tests.
	httpClient *http.Client
	now        func() time.Time
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, now: time.Now}

	root := &cobra.Command{
		Use:   "d2d",
		Short: "Deploy Solana programs through the d2d service",
		Long: `d2d verifies a program on its source network, quotes the deployment cost,
pays the reward and platform pools from your wallet and follows the
deployment job until the program is live.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.opts.network, "network", "n", "", "network name from the registry (default $"+config.EnvNetwork+" or "+config.DefaultNetwork+")")
	f.StringVar(&a.opts.configPath, "config", "", "network registry TOML (default $"+config.EnvConfig+" or "+config.DefaultRegistryPath()+")")
	f.StringVar(&a.opts.envFile, "env-file", "", "dotenv file loaded before the environment")
	f.StringVar(&a.opts.keypair, "keypair", "", "wallet keypair file (default $"+config.EnvKeypair+" or "+wallet.DefaultKeypairPath()+")")
	f.StringVar(&a.opts.dataDir, "data-dir", "", "directory for the local history database")
	f.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for long-running commands")
	f.BoolVarP(&a.opts.verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&a.opts.json, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newVerifyCmd(a),
		newCostCmd(a),
		newDeployCmd(a),
		newRetryJobCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newJobsCmd(a),
		newCloseCmd(a),
		newPoolsCmd(a),
		newHistoryCmd(a),
		newKeygenCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup() error {
	a.log = logger.NewWithWriter(a.errOut, a.opts.verbose)
	cfg, err := config.Load(config.LoadOptions{
		RegistryPath: a.opts.configPath,
		Network:      a.opts.network,
		EnvFile:      a.opts.envFile,
	})
	if err != nil {
		return err
	}
	if a.opts.keypair != "" {
		cfg.Keypair = a.opts.keypair
	}
	if cfg.Keypair == "" {
		cfg.Keypair = wallet.DefaultKeypairPath()
	}
	a.cfg = cfg
	a.log.Debug("config resolved", "network", cfg.Network, "cluster", cfg.Cluster, "rpc_url", cfg.RPCURL, "api_url", cfg.APIURL)
	return nil
}

func (a *app) backend() (*backend.Client, error) {
	if err := a.cfg.RequireBackend(); err != nil {
		return nil, err
	}
	var opts []backend.Option
	if a.httpClient != nil {
		opts = append(opts, backend.WithHTTPClient(a.httpClient))
	}
	return backend.New(a.cfg.APIURL, opts...), nil
}

func (a *app) rpc() *solanarpc.Client {
	return solanarpc.New(a.cfg.RPCURL, a.httpClient)
}

func (a *app) history() (*history.DB, error) {
	dir := a.opts.dataDir
	if dir == "" {
		d, err := history.DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return history.Open(dir)
}

// walletAddress is the explicit address if given, else the keypair's public
// key.
func (a *app) walletAddress(explicit string) (string, error) {
	if s := strings.TrimSpace(explicit); s != "" {
		pk, err := solana.ParseBase58Pubkey(s)
		if err != nil {
			return "", fmt.Errorf("wallet: %w", err)
		}
		return pk.Base58(), nil
	}
	_, pub, err := wallet.LoadKeypair(a.cfg.Keypair)
	if err != nil {
		return "", fmt.Errorf("no --wallet given and keypair %s unreadable: %w", a.cfg.Keypair, err)
	}
	return pub.Base58(), nil
}

func (a *app) serveMetrics(ctx context.Context) error {
	return metrics.Serve(ctx, a.log, a.opts.metricsAddr)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints the short message and, for classified failures, the
// detail panel.
func printError(w io.Writer, err error) {
	de, ok := deployerr.As(err)
	if !ok {
		fmt.Fprintln(w, "error:", err)
		return
	}
	fmt.Fprintf(w, "error (%s): %s\n", de.Kind, de.Error())
	if d := de.DetailText(); d != "" {
		for _, line := range strings.Split(d, "\n") {
			fmt.Fprintln(w, "  |", line)
		}
	}
	switch {
	case de.FundsMoved():
		fmt.Fprintln(w, "your payment went through; do not pay again, keep the signature above")
	case de.Indeterminate():
		fmt.Fprintln(w, "the payment may still land; check the signature before paying again")
	}
}
