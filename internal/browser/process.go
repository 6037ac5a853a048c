package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
)

// Process is a heavyweight browser execution unit hosting a bounded number of
// concurrent sessions. The pool is the only entity that creates or closes one.
type Process interface {
	ID() string
	// TryOccupy atomically claims one capacity unit. Occupation is the
	// authoritative admission point; selection by the pool is advisory.
	TryOccupy() bool
	// Free returns a previously occupied capacity unit.
	Free()
	// NewSession creates an isolated browsing context on this process.
	NewSession(ctx context.Context) (schemas.SessionContext, error)
	Close(ctx context.Context) error
}

// Factory abstracts process creation so pool behavior is testable without a
// real browser.
type Factory interface {
	// Local launches a browser process on this machine.
	Local(ctx context.Context) (Process, error)
	// Remote attaches to a pre-existing CDP endpoint.
	Remote(ctx context.Context, endpoint string) (Process, error)
}

// chromeProcess wraps a chromedp allocator plus the root browser context
// created from it. Sessions are isolated browser contexts (separate cookie
// jars and storage) multiplexed onto this one Chrome instance.
type chromeProcess struct {
	id          string
	logger      *zap.Logger
	cfg         config.BrowserConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	gate        *semaphore.Weighted
}

var _ Process = (*chromeProcess)(nil)

// ChromeFactory builds chromedp-backed processes.
type ChromeFactory struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewChromeFactory returns a Factory producing real Chrome processes.
func NewChromeFactory(cfg config.BrowserConfig, logger *zap.Logger) *ChromeFactory {
	return &ChromeFactory{cfg: cfg, logger: logger.Named("browser_factory")}
}

// Local launches a Chrome instance via an exec allocator and verifies it is
// reachable before handing it to the pool.
func (f *ChromeFactory) Local(ctx context.Context) (Process, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range f.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return f.connect(ctx, allocCtx, allocCancel)
}

// Remote attaches to an externally managed browser over CDP.
func (f *ChromeFactory) Remote(ctx context.Context, endpoint string) (Process, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), endpoint)
	proc, err := f.connect(ctx, allocCtx, allocCancel)
	if err != nil {
		return nil, fmt.Errorf("remote endpoint %s: %w", endpoint, err)
	}
	return proc, nil
}

// connect materializes the root browser context. The first Run against a fresh
// allocator is what actually launches (or dials) the browser, so a failure
// here surfaces launch errors synchronously. The probe runs in a goroutine so
// a hung launch still honors the caller's context.
func (f *ChromeFactory) connect(ctx context.Context, allocCtx context.Context, allocCancel context.CancelFunc) (Process, error) {
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	probeErr := make(chan error, 1)
	go func() { probeErr <- chromedp.Run(browserCtx) }()

	select {
	case err := <-probeErr:
		if err != nil {
			browserStop()
			allocCancel()
			return nil, fmt.Errorf("failed to establish browser connection: %w", err)
		}
	case <-ctx.Done():
		browserStop()
		allocCancel()
		return nil, fmt.Errorf("timed out establishing browser connection: %w", ctx.Err())
	}

	id := uuid.New().String()
	p := &chromeProcess{
		id:          id,
		logger:      f.logger.With(zap.String("process_id", id)),
		cfg:         f.cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserStop: browserStop,
		gate:        semaphore.NewWeighted(int64(f.cfg.MaxSessionsPerProcess)),
	}
	p.logger.Info("Browser process ready.",
		zap.Int("max_sessions", f.cfg.MaxSessionsPerProcess))
	return p, nil
}

func (p *chromeProcess) ID() string { return p.id }

func (p *chromeProcess) TryOccupy() bool { return p.gate.TryAcquire(1) }

func (p *chromeProcess) Free() { p.gate.Release(1) }

// NewSession creates an isolated browser context (fresh cookies, storage,
// cache) plus a tab inside it, and wraps both as a Session.
func (p *chromeProcess) NewSession(ctx context.Context) (schemas.SessionContext, error) {
	c := chromedp.FromContext(p.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, fmt.Errorf("browser connection is gone for process %s", p.id)
	}
	exec := cdp.WithExecutor(ctx, c.Browser)

	browserContextID, err := target.CreateBrowserContext().
		WithDisposeOnDetach(true).
		Do(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create isolated browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to new target: %w", err)
	}

	return newSession(tabCtx, tabCancel, p.cfg, p.logger), nil
}

// Close terminates the browser process and every session it still hosts.
func (p *chromeProcess) Close(ctx context.Context) error {
	p.logger.Debug("Closing browser process.")

	err := chromedp.Cancel(p.browserCtx)
	p.browserStop()
	p.allocCancel()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to close browser process %s: %w", p.id, err)
	}
	return nil
}
