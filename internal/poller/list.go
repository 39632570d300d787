package poller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

const (
	DefaultListInterval = 3 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
)

type ListConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Fetcher  *Fetcher
	Interval time.Duration
	Debounce time.Duration

	// OnJobs receives each successful listing for the current wallet.
	OnJobs func(wallet string, jobs []protocol.DeploymentJob)
	// OnTerminal fires once per job seen moving from active to terminal.
	OnTerminal func(wallet string, job protocol.DeploymentJob)
}

func (cfg *ListConfig) Validate() error {
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
		cfg.Interval = DefaultListInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return nil
}

// ListWatcher polls every job of one wallet. Switching wallets is debounced:
// only the last wallet set within the debounce window is fetched.
type ListWatcher struct {
	log *slog.Logger
	cfg ListConfig

	mu       sync.Mutex
	gen      uint64
	wallet   string
	debounce clockwork.Timer
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

func NewListWatcher(cfg ListConfig) (*ListWatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ListWatcher{log: cfg.Logger, cfg: cfg}, nil
}

// SetWallet switches the watched wallet. The previous wallet stops being
// polled immediately; the new one is first fetched after the debounce
// delay. An empty wallet only stops polling.
func (w *ListWatcher) SetWallet(wallet string) {
	wallet = strings.TrimSpace(wallet)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.gen++
	w.wallet = wallet
	w.stopLocked()
	if wallet == "" {
		return
	}
	gen := w.gen
	w.debounce = w.cfg.Clock.AfterFunc(w.cfg.Debounce, func() { w.begin(gen, wallet) })
}

func (w *ListWatcher) Wallet() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wallet
}

func (w *ListWatcher) stopLocked() {
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *ListWatcher) begin(gen uint64, wallet string) {
	w.mu.Lock()
	if w.closed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := w.cfg.Clock.NewTicker(w.cfg.Interval)
	w.debounce = nil
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	w.log.Debug("poller: watching wallet", "wallet", wallet, "interval", w.cfg.Interval)
	go w.run(ctx, wallet, ticker, done)
}

func (w *ListWatcher) run(ctx context.Context, wallet string, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	seen := make(map[string]protocol.JobStatus)
	w.refresh(ctx, wallet, seen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.refresh(ctx, wallet, seen)
		}
	}
}

func (w *ListWatcher) refresh(ctx context.Context, wallet string, seen map[string]protocol.JobStatus) {
	jobs, err := w.cfg.Fetcher.JobsByUser(ctx, wallet)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.log.Debug("poller: job list fetch failed", "wallet", wallet, "error", err)
		return
	}

	for _, job := range jobs {
		prev, ok := seen[job.ID]
		seen[job.ID] = job.Status
		if ok && prev.Active() && job.Status.Terminal() && w.cfg.OnTerminal != nil {
			w.cfg.OnTerminal(wallet, job)
		}
	}
	if w.cfg.OnJobs != nil {
		w.cfg.OnJobs(wallet, jobs)
	}
}

// Close stops polling and any pending debounce and waits for the polling
// goroutine to exit.
func (w *ListWatcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.stopLocked()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}
