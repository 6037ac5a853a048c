package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
)

// IndexAttribute is the stable lookup attribute the annotation script assigns
// to every interactive element. Element references decided by the model are
// resolved through it.
const IndexAttribute = "data-voyager-index"

// scrollStep is the fixed window/element scroll distance in pixels.
const scrollStep = 500

// Session is one isolated browsing context (a dedicated tab with its own
// cookies and storage) and implements schemas.SessionContext. It is owned
// exclusively by the task holding it.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	closeOnce sync.Once
}

var _ schemas.SessionContext = (*Session)(nil)

func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", id)),
		cfg:    cfg,
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// run executes chromedp actions so they respect both the session lifetime and
// the caller's context. The combined context derives from the tab context to
// keep chromedp's internals attached.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))

	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	if err := s.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// GoBack navigates one entry back in the session history.
func (s *Session) GoBack(ctx context.Context) error {
	if err := s.run(ctx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return nil
}

// Annotate injects the annotation script, which tags each interactive element
// with IndexAttribute and draws the numbered overlay, and returns the element
// digests. Idempotent: re-running replaces any previous annotation pass.
func (s *Session) Annotate(ctx context.Context) ([]schemas.ElementDigest, error) {
	var digests []schemas.ElementDigest
	if err := s.run(ctx, chromedp.Evaluate(annotateScript, &digests)); err != nil {
		return nil, fmt.Errorf("annotation pass failed: %w", err)
	}
	return digests, nil
}

// ClearAnnotations removes the overlay and every IndexAttribute, leaving the
// DOM otherwise unchanged.
func (s *Session) ClearAnnotations(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Evaluate(clearScript, nil)); err != nil {
		return fmt.Errorf("failed to clear annotations: %w", err)
	}
	return nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// selectorFor builds the query selector for an annotated element index.
func selectorFor(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, IndexAttribute, index)
}

// Click dispatches a click to the annotated element. Links are forced to open
// in the same tab first so the session never loses its target.
func (s *Session) Click(ctx context.Context, index int) error {
	sel := selectorFor(index)
	retarget := fmt.Sprintf(
		`(() => { const el = document.querySelector('%s'); if (el && el.tagName === 'A') { el.setAttribute('target', '_self'); } })()`,
		sel,
	)
	if err := s.run(ctx,
		chromedp.Evaluate(retarget, nil),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click on element %d failed: %w", index, err)
	}
	return nil
}

// Hover moves pointer attention onto the annotated element, dispatching the
// mouse event sequence a real cursor entry would produce.
func (s *Session) Hover(ctx context.Context, index int) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('%s');
		if (!el) { throw new Error('element %d not found'); }
		el.scrollIntoView({ block: 'center' });
		for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
			el.dispatchEvent(new MouseEvent(type, { bubbles: type !== 'mouseenter', cancelable: true, view: window }));
		}
	})()`, selectorFor(index), index)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("hover on element %d failed: %w", index, err)
	}
	return nil
}

// Type clears the annotated element and types the text, submitting with Enter.
// Focusable non-inputs (buttons and the like) would swallow keystrokes without
// an error, so the target is checked first and rejected with ErrNotTypeable.
func (s *Session) Type(ctx context.Context, index int, text string) error {
	sel := selectorFor(index)

	var probe struct {
		Found    bool   `json:"found"`
		Typeable bool   `json:"typeable"`
		Tag      string `json:"tag"`
	}
	check := fmt.Sprintf(`(() => {
		const el = document.querySelector('%s');
		if (!el) { return { found: false, typeable: false, tag: "" }; }
		const tag = el.tagName.toLowerCase();
		const nonText = ['button', 'submit', 'checkbox', 'radio', 'reset', 'image', 'file', 'range', 'color'];
		const typeable = tag === 'textarea' || el.isContentEditable ||
			(tag === 'input' && !nonText.includes((el.type || 'text').toLowerCase()));
		return { found: true, typeable: typeable, tag: tag };
	})()`, sel)
	if err := s.run(ctx, chromedp.Evaluate(check, &probe)); err != nil {
		return fmt.Errorf("typing into element %d failed: %w", index, err)
	}
	if !probe.Found {
		return fmt.Errorf("element %d not found", index)
	}
	if !probe.Typeable {
		return fmt.Errorf("element %d is a <%s>: %w", index, probe.Tag, schemas.ErrNotTypeable)
	}

	if err := s.run(ctx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text+kb.Enter, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("typing into element %d failed: %w", index, err)
	}
	return nil
}

// ScrollWindow scrolls the window by a fixed step.
func (s *Session) ScrollWindow(ctx context.Context, direction string) error {
	step := scrollStep
	if direction == schemas.ScrollUp {
		step = -scrollStep
	}
	script := fmt.Sprintf(`window.scrollBy(0, %d)`, step)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("window scroll failed: %w", err)
	}
	return nil
}

// ScrollElement scrolls an individual annotated element by a fixed step.
func (s *Session) ScrollElement(ctx context.Context, index int, direction string) error {
	step := scrollStep
	if direction == schemas.ScrollUp {
		step = -scrollStep
	}
	script := fmt.Sprintf(
		`(() => { const el = document.querySelector('%s'); if (!el) { throw new Error('element %d not found'); } el.scrollBy(0, %d); })()`,
		selectorFor(index), index, step,
	)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll of element %d failed: %w", index, err)
	}
	return nil
}

// ExtractText returns the visible text content of the current page.
func (s *Session) ExtractText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

// WaitStable blocks until the document body is ready, then holds for the
// settle delay so late layout shifts and redirects flush out.
func (s *Session) WaitStable(ctx context.Context, settle time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	if settle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
		return nil
	}
}

// Close tears down the tab and its isolated browser context. Safe to call
// multiple times.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")

		// Graceful target close; falls back to hard cancellation.
		err = chromedp.Cancel(s.ctx)
		s.cancel()
	})

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to close session %s: %w", s.id, err)
	}
	return nil
}

// combineContext derives a context from the session's tab context that is also
// canceled when the caller's context ends. Deriving from the tab context keeps
// chromedp's target bookkeeping intact.
func combineContext(tabCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	go func() {
		select {
		case <-callCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
