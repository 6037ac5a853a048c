package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
)

// acquirePollInterval is the backoff between saturation re-scans. This is a
// deliberate simple poll, not a fair queue; starvation under sustained
// saturation is an accepted limitation.
const acquirePollInterval = 100 * time.Millisecond

// ReleaseFunc returns a session to the pool. It closes the session and frees
// its process capacity unit, and is safe to call more than once.
type ReleaseFunc func(ctx context.Context)

// Pool bounds total concurrent browser resource usage, scaling up to
// MaxProcesses processes of MaxSessionsPerProcess sessions each.
type Pool struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	factory Factory

	mu      sync.Mutex
	procs   []Process
	started bool
	stopped bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithFactory replaces the process factory. Used by tests to avoid launching
// real browsers.
func WithFactory(f Factory) Option {
	return func(p *Pool) { p.factory = f }
}

// NewPool creates an empty pool. Call Start before acquiring sessions.
func NewPool(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		cfg:    cfg,
		logger: logger.Named("browser_pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		p.factory = NewChromeFactory(cfg, logger)
	}
	return p
}

// Start establishes the initial process set. Remote endpoints are attached
// first; connection failures there are logged and skipped. If no endpoint
// connected, exactly one local process is launched, and its failure is fatal.
// Start is idempotent.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started && !p.stopped {
		return nil
	}
	if p.stopped {
		return ErrNotReady
	}

	for _, endpoint := range p.cfg.RemoteEndpoints {
		proc, err := p.factory.Remote(ctx, endpoint)
		if err != nil {
			p.logger.Warn("Failed to connect remote browser endpoint, skipping.",
				zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		p.procs = append(p.procs, proc)
	}

	if len(p.procs) == 0 {
		proc, err := p.factory.Local(ctx)
		if err != nil {
			return &StartError{Err: err}
		}
		p.procs = append(p.procs, proc)
	}

	p.started = true
	p.logger.Info("Browser pool started.", zap.Int("processes", len(p.procs)))
	return nil
}

// Stop closes every process best-effort and invalidates the pool. A failure
// closing one process is logged and does not prevent closing the rest. Stop is
// idempotent.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	for _, proc := range p.procs {
		if err := proc.Close(ctx); err != nil {
			p.logger.Warn("Error closing browser process during pool shutdown.",
				zap.String("process_id", proc.ID()), zap.Error(err))
		}
	}
	p.procs = nil
	p.logger.Info("Browser pool stopped.")
	return nil
}

// ProcessCount reports how many processes the pool currently holds.
func (p *Pool) ProcessCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// Acquire hands out an exclusively owned session plus its release handle.
// It first-fits an existing process with spare capacity, grows the pool if
// every process is saturated and the ceiling allows, and otherwise polls until
// a capacity unit frees up or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (schemas.SessionContext, ReleaseFunc, error) {
	p.mu.Lock()
	ready := p.started && !p.stopped
	p.mu.Unlock()
	if !ready {
		return nil, nil, ErrNotReady
	}

	proc, err := p.selectProcess(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess, err := proc.NewSession(ctx)
	if err != nil {
		proc.Free()
		return nil, nil, fmt.Errorf("failed to create session on process %s: %w", proc.ID(), err)
	}

	var once sync.Once
	release := func(releaseCtx context.Context) {
		once.Do(func() {
			if err := sess.Close(releaseCtx); err != nil {
				p.logger.Warn("Error closing session on release.",
					zap.String("session_id", sess.ID()), zap.Error(err))
			}
			proc.Free()
		})
	}

	p.logger.Debug("Session acquired.",
		zap.String("session_id", sess.ID()), zap.String("process_id", proc.ID()))
	return sess, release, nil
}

// selectProcess picks a process and occupies one capacity unit on it.
// Occupation (TryOccupy) is atomic and authoritative, so no re-check is needed
// after selection.
func (p *Pool) selectProcess(ctx context.Context) (Process, error) {
	for {
		// (a) First fit over the existing processes. First-fit rather
		// than least-loaded is fine: gate occupancy is symmetric.
		if proc := p.tryExisting(); proc != nil {
			return proc, nil
		}

		// (b) All saturated: grow under the lock so two racing callers
		// cannot both conclude they must create a process.
		proc, grew, err := p.tryGrow(ctx)
		if err != nil {
			return nil, err
		}
		if grew {
			return proc, nil
		}

		// (c) At the ceiling: poll until any gate frees up.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}

		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return nil, ErrNotReady
		}
	}
}

func (p *Pool) tryExisting() Process {
	p.mu.Lock()
	procs := make([]Process, len(p.procs))
	copy(procs, p.procs)
	p.mu.Unlock()

	for _, proc := range procs {
		if proc.TryOccupy() {
			return proc
		}
	}
	return nil
}

// tryGrow creates one process if the ceiling allows, returning the new process
// with one capacity unit already occupied.
func (p *Pool) tryGrow(ctx context.Context) (Process, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, false, ErrNotReady
	}
	if len(p.procs) >= p.cfg.MaxProcesses {
		return nil, false, nil
	}

	proc, err := p.factory.Local(ctx)
	if err != nil {
		// Growth failure is fatal to this acquisition: the caller must
		// observe the error rather than silently waiting forever.
		return nil, false, fmt.Errorf("failed to scale browser pool: %w", err)
	}
	p.procs = append(p.procs, proc)
	p.logger.Info("Browser pool scaled up.", zap.Int("processes", len(p.procs)))

	if !proc.TryOccupy() {
		// A fresh process always has capacity; this is unreachable
		// unless capacity is misconfigured to zero.
		return nil, false, fmt.Errorf("new process %s has no capacity", proc.ID())
	}
	return proc, true, nil
}
