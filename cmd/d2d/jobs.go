package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/history"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/poller"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/steps"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment job and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := a.backend()
			if err != nil {
				return err
			}
			f := poller.NewFetcher(be)
			job, err := f.Job(ctx, args[0])
			if err != nil {
				return err
			}
			snap := poller.Snapshot{Job: job, Steps: steps.Infer(job.Status, job.ErrorMessage)}
			if job.Status.Active() {
				logs, err := f.Logs(ctx, job.ID)
				if err != nil {
					a.log.Warn("status: logs unavailable", "job_id", job.ID, "error", err)
				}
				snap.Logs = protocol.MergeLogs(nil, logs)
			}
			if a.opts.json {
				return a.printJSON(snap)
			}
			newJobPrinter(a).print(snap)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <deployment-id>",
		Short: "Follow a deployment job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := a.backend()
			if err != nil {
				return err
			}
			db, err := a.history()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := a.serveMetrics(ctx); err != nil {
				return err
			}
			return a.watchJob(ctx, be, db, args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default 15s)")
	return cmd
}

// watchJob follows one job and announces its outcome once per machine.
func (a *app) watchJob(ctx context.Context, src poller.JobSource, db *history.DB, id string, interval time.Duration) error {
	pr := newJobPrinter(a)
	finished := make(chan protocol.DeploymentJob, 1)
	onTerminal := func(job protocol.DeploymentJob) {
		select {
		case finished <- job:
		default:
		}
	}
	p, err := poller.New(poller.Config{
		Logger:     a.log,
		Fetcher:    poller.NewFetcher(src),
		Interval:   interval,
		OnUpdate:   pr.print,
		OnComplete: onTerminal,
		OnError:    onTerminal,
	})
	if err != nil {
		return err
	}

	snap, err := p.Start(ctx, id)
	if err != nil {
		return err
	}
	pr.print(snap)
	if snap.Job.Status.Terminal() {
		return a.announce(ctx, db, snap.Job)
	}
	defer p.Stop()

	select {
	case job := <-finished:
		return a.announce(ctx, db, job)
	case <-p.Done():
		if job := p.Snapshot().Job; job.Status.Terminal() {
			return a.announce(ctx, db, job)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (a *app) announce(ctx context.Context, db *history.DB, job protocol.DeploymentJob) error {
	first, err := db.AnnounceTerminal(ctx, job, a.now())
	if err != nil {
		a.log.Warn("watch: failed to update history", "job_id", job.ID, "error", err)
	}
	if first {
		switch job.Status {
		case protocol.JobSuccess:
			fmt.Fprintf(a.out, "deployment %s succeeded: program %s is live\n", job.ID, job.ResultProgramID)
		case protocol.JobClosed:
			fmt.Fprintf(a.out, "deployment %s is closed\n", job.ID)
		}
	}
	return jobOutcome(job)
}

// jobPrinter prints each log line once and the step list whenever it
// changes. It is called from the polling goroutine.
type jobPrinter struct {
	a *app

	mu        sync.Mutex
	seenLogs  map[string]struct{}
	lastSteps string
	lastState protocol.JobStatus
}

func newJobPrinter(a *app) *jobPrinter {
	return &jobPrinter{a: a, seenLogs: make(map[string]struct{})}
}

func (p *jobPrinter) print(snap poller.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.a.out

	if snap.Job.Status != p.lastState {
		p.lastState = snap.Job.Status
		fmt.Fprintf(out, "[%s] %s %s\n", snap.Job.ID, snap.Job.Status, snap.Job.ProgramID)
	}
	for _, l := range snap.Logs {
		key := l.Timestamp.Format(time.RFC3339Nano) + "|" + l.Message
		if _, ok := p.seenLogs[key]; ok {
			continue
		}
		p.seenLogs[key] = struct{}{}
		fmt.Fprintf(out, "  %s %-5s %s\n", l.Timestamp.UTC().Format("15:04:05"), l.Level, l.Message)
	}

	rendered := renderSteps(snap.Steps)
	if rendered != p.lastSteps {
		p.lastSteps = rendered
		fmt.Fprint(out, rendered)
	}
}

func renderSteps(list []steps.UiStep) string {
	var b strings.Builder
	done, total := steps.Progress(list)
	fmt.Fprintf(&b, "  steps %d/%d\n", done, total)
	for _, s := range list {
		mark := " "
		switch s.Status {
		case steps.StatusCompleted:
			mark = "x"
		case steps.StatusActive:
			mark = ">"
		case steps.StatusError:
			mark = "!"
		}
		fmt.Fprintf(&b, "  [%s] %s", mark, s.Label)
		if s.Error != "" {
			fmt.Fprintf(&b, ": %s", s.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func newJobsCmd(a *app) *cobra.Command {
	var (
		walletAddr string
		follow     bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List deployment jobs of a wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			be, err := a.backend()
			if err != nil {
				return err
			}
			addr, err := a.walletAddress(walletAddr)
			if err != nil {
				return err
			}
			f := poller.NewFetcher(be)
			if !follow {
				jobs, err := f.JobsByUser(ctx, addr)
				if err != nil {
					return err
				}
				if a.opts.json {
					return a.printJSON(jobs)
				}
				return a.printJobs(jobs)
			}

			db, err := a.history()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := a.serveMetrics(ctx); err != nil {
				return err
			}
			return a.followJobs(ctx, f, db, addr, interval)
		},
	}
	cmd.Flags().StringVar(&walletAddr, "wallet", "", "wallet address (default: the keypair's public key)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling and announce finished jobs")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval when following (default 3s)")
	return cmd
}

func (a *app) followJobs(ctx context.Context, f *poller.Fetcher, db *history.DB, addr string, interval time.Duration) error {
	var mu sync.Mutex
	lw, err := poller.NewListWatcher(poller.ListConfig{
		Logger:   a.log,
		Fetcher:  f,
		Interval: interval,
		OnJobs: func(_ string, jobs []protocol.DeploymentJob) {
			a.log.Debug("jobs: refreshed", "count", len(jobs))
		},
		OnTerminal: func(_ string, job protocol.DeploymentJob) {
			mu.Lock()
			defer mu.Unlock()
			if err := a.announce(ctx, db, job); err != nil {
				fmt.Fprintln(a.out, err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer lw.Close()

	jobs, err := f.JobsByUser(ctx, addr)
	if err != nil {
		return err
	}
	if err := a.printJobs(jobs); err != nil {
		return err
	}
	lw.SetWallet(addr)
	<-ctx.Done()
	return nil
}

func (a *app) printJobs(jobs []protocol.DeploymentJob) error {
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, "No deployments.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROGRAM\tSTATUS\tDEPLOYED\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.ProgramID, j.Status, dash(j.ResultProgramID), j.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newCloseCmd(a *app) *cobra.Command {
	var walletAddr string
	cmd := &cobra.Command{
		Use:   "close <deployment-id>",
		Short: "Close a finished deployment and recover its rent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := a.backend()
			if err != nil {
				return err
			}
			addr, err := a.walletAddress(walletAddr)
			if err != nil {
				return err
			}
			resp, err := be.Close(ctx, args[0], addr)
			if err != nil {
				return err
			}
			if a.opts.json {
				return a.printJSON(resp)
			}
			fmt.Fprintf(a.out, "deployment %s closed, recovered %s\n", args[0], protocol.FormatSOL(resp.RecoveredAmount))
			return nil
		},
	}
	cmd.Flags().StringVar(&walletAddr, "wallet", "", "wallet address (default: the keypair's public key)")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
