package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/metrics"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/steps"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

const DefaultInterval = 15 * time.Second

var ErrAlreadyStarted = errors.New("poller already started")

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Fetcher  *Fetcher
	Interval time.Duration

	// Callbacks run on the polling goroutine and must not call Stop.
	//
	// OnUpdate receives every snapshot taken while polling.
	OnUpdate func(Snapshot)
	// OnComplete and OnError fire at most once, when an active job is seen
	// reaching SUCCESS (or CLOSED) and FAILED respectively.
	OnComplete func(protocol.DeploymentJob)
	OnError    func(protocol.DeploymentJob)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return nil
}

// Snapshot is the poller's view of one job. Logs are empty once the job is
// terminal.
type Snapshot struct {
	Job   protocol.DeploymentJob
	Logs  []protocol.LogFragment
	Steps []steps.UiStep
}

// Poller follows a single job until it turns terminal or Stop is called. It is
// the only writer of its snapshot.
type Poller struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	jobID      string
	job        protocol.DeploymentJob
	logs       []protocol.LogFragment
	lastActive protocol.JobStatus
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	done       chan struct{}

	terminalOnce sync.Once
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{log: cfg.Logger, cfg: cfg}, nil
}

// Start fetches the job once and returns that snapshot. Active jobs are then
// polled in the background; a job that is already terminal is never polled
// and its logs are never fetched.
func (p *Poller) Start(ctx context.Context, jobID string) (Snapshot, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return Snapshot{}, ErrAlreadyStarted
	}
	p.started = true
	p.jobID = jobID
	p.mu.Unlock()

	job, err := p.cfg.Fetcher.Job(ctx, jobID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch deployment %s: %w", jobID, err)
	}

	if !job.Status.Active() {
		p.mu.Lock()
		p.job = job
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.log.Debug("poller: job already terminal", "job_id", jobID, "status", job.Status)
		return snap, nil
	}

	logs, err := p.cfg.Fetcher.Logs(ctx, jobID)
	if err != nil {
		p.log.Debug("poller: initial log fetch failed", "job_id", jobID, "error", err)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)

	p.mu.Lock()
	p.job = job
	p.lastActive = job.Status
	p.logs = protocol.MergeLogs(nil, logs)
	snap := p.snapshotLocked()
	if p.stopped {
		p.mu.Unlock()
		ticker.Stop()
		cancel()
		return snap, nil
	}
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	metrics.PollersActive.Inc()
	p.log.Info("poller: started", "job_id", jobID, "status", job.Status, "interval", p.cfg.Interval)
	go p.run(pollCtx, ticker)
	return snap, nil
}

func (p *Poller) run(ctx context.Context, ticker clockwork.Ticker) {
	var (
		terminal protocol.DeploymentJob
		reached  bool
	)
	func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if job, ok := p.poll(ctx); ok {
					terminal, reached = job, true
					return
				}
			}
		}
	}()
	defer close(p.done)
	defer metrics.PollersActive.Dec()

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if reached && !stopped && ctx.Err() == nil {
		p.fireTerminal(terminal)
	}
}

// poll reports the job and true once it has turned terminal.
func (p *Poller) poll(ctx context.Context) (protocol.DeploymentJob, bool) {
	id := p.jobID
	job, err := p.cfg.Fetcher.Job(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Debug("poller: status fetch failed", "job_id", id, "error", err)
		}
		return protocol.DeploymentJob{}, false
	}

	if job.Status.Terminal() {
		if again, err := p.cfg.Fetcher.Job(ctx, id); err == nil && again.Status.Terminal() {
			job = again
		}
		p.mu.Lock()
		p.job = job
		p.logs = nil
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.emit(snap)
		return job, true
	}

	logs, err := p.cfg.Fetcher.Logs(ctx, id)
	if err != nil && ctx.Err() == nil {
		p.log.Debug("poller: log fetch failed", "job_id", id, "error", err)
	}

	p.mu.Lock()
	p.job = job
	p.lastActive = job.Status
	p.logs = protocol.MergeLogs(p.logs, logs)
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
	return protocol.DeploymentJob{}, false
}

func (p *Poller) emit(snap Snapshot) {
	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(snap)
	}
}

func (p *Poller) fireTerminal(job protocol.DeploymentJob) {
	p.terminalOnce.Do(func() {
		metrics.JobTerminalTotal.WithLabelValues(string(job.Status)).Inc()
		p.log.Info("poller: job finished", "job_id", job.ID, "status", job.Status)
		switch job.Status {
		case protocol.JobFailed:
			if p.cfg.OnError != nil {
				p.cfg.OnError(job)
			}
		default:
			if p.cfg.OnComplete != nil {
				p.cfg.OnComplete(job)
			}
		}
	})
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		Job:   p.job,
		Logs:  append([]protocol.LogFragment(nil), p.logs...),
		Steps: steps.InferAfter(p.lastActive, p.job.Status, p.job.ErrorMessage),
	}
}

// Done is closed when background polling ends. It is nil if polling never
// started.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop cancels polling and waits for the polling goroutine, including any
// callback it is running, to exit. No callback runs after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
