// internal/voyager/runner.go
package voyager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/browser"
	"github.com/xkilldash9x/voyager-cli/internal/config"
)

// ErrTaskTimeout marks a run that exceeded its wall-clock budget. The check is
// cooperative, at the top of each iteration.
var ErrTaskTimeout = errors.New("task wall-clock budget exceeded")

// perceiveRetries bounds the stale-context retry during perception: one
// initial attempt plus this many retries.
const perceiveRetries = 2

// waitActionDelay is how long an explicit wait action holds beyond page
// stability.
const waitActionDelay = 2 * time.Second

// extractLogLimit caps how much extracted page text is fed back into the next
// decision prompt.
const extractLogLimit = 4000

// Runner executes one task to completion inside one session. All run state is
// scoped to Run, so a Runner may be reused for sequential tasks without
// leaking history between them. It never closes the session; the caller that
// acquired it releases it.
type Runner struct {
	session schemas.SessionContext
	client  schemas.DecisionClient
	cfg     config.RunnerConfig
	logger  *zap.Logger
}

// NewRunner binds a runner to an acquired session and a decision client.
func NewRunner(session schemas.SessionContext, client schemas.DecisionClient, cfg config.RunnerConfig, logger *zap.Logger) *Runner {
	return &Runner{
		session: session,
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("runner").With(zap.String("session_id", session.ID())),
	}
}

// Run drives the perceive, decide, act loop until a terminal state. In-loop
// failures are captured in the result rather than returned as an error, so the
// caller's cleanup path is identical for every outcome.
func (r *Runner) Run(ctx context.Context, task schemas.Task) schemas.TaskResult {
	maxIterations := task.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.cfg.MaxIterations
	}

	var deadline time.Time
	if r.cfg.TaskTimeout > 0 {
		deadline = time.Now().Add(r.cfg.TaskTimeout)
	}

	guard := newLoopGuard(r.cfg.LoopGuard)
	artifacts := newArtifactWriter(r.cfg.ArtifactDir, task.StartURL, r.logger)

	var conv schemas.Conversation
	conv.AppendText(schemas.RoleSystem, systemPrompt)
	conv.AppendText(schemas.RoleUser, goalMessage(task))

	var lastDecision *schemas.Decision

	r.logger.Info("Task started.",
		zap.String("start_url", task.StartURL),
		zap.Int("max_iterations", maxIterations))

	if err := r.session.Navigate(ctx, task.StartURL); err != nil {
		return r.failed(0, lastDecision, err)
	}
	if err := r.session.WaitStable(ctx, r.cfg.SettleDelay); err != nil {
		return r.failed(0, lastDecision, err)
	}

	prevLog := ""
	warning := ""

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return r.failed(iteration-1, lastDecision, err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return r.failed(iteration-1, lastDecision, ErrTaskTimeout)
		}

		screenshot, digests, err := r.perceive(ctx)
		if err != nil {
			return r.failed(iteration, lastDecision, fmt.Errorf("perception failed: %w", err))
		}

		// Append first, then trim: TrimImages keeps the most recent
		// screenshots, so the live-image bound holds at every point the
		// conversation is visible to the client.
		conv.Append(buildObservation(screenshot, digests, prevLog, warning))
		conv.TrimImages(r.cfg.MaxImagesRetained)
		warning = ""

		decision, err := r.client.Decide(ctx, conv)
		if err != nil {
			return r.failed(iteration, lastDecision, fmt.Errorf("decision failed: %w", err))
		}
		lastDecision = decision

		// The verbatim response goes back into context even though it is
		// never re-parsed.
		conv.AppendText(schemas.RoleAssistant, decision.Raw)

		artifacts.Capture(iteration, screenshot, decision)

		var outcome schemas.StepOutcome
		if w := guard.Observe(decision.Actions); w != "" {
			r.logger.Warn("Loop guard triggered, skipping step.", zap.Int("iteration", iteration))
			warning = w
			outcome = schemas.StepOutcome{Kind: schemas.OutcomeContinue, Log: "step skipped: repeated actions detected"}
		} else {
			outcome = r.act(ctx, decision.Actions)
		}
		prevLog = outcome.Log

		r.checkpoint(task.Callback, schemas.StepEvent{
			Iteration:  iteration,
			Screenshot: screenshot,
			Actions:    decision.Actions,
		})

		if outcome.Terminal() {
			state := schemas.StateSucceeded
			if outcome.Kind == schemas.OutcomeStop {
				state = schemas.StateStopped
			}
			r.logger.Info("Task reached terminal action.",
				zap.String("state", string(state)), zap.Int("iteration", iteration))
			return schemas.TaskResult{
				State:        state,
				Iterations:   iteration,
				LastDecision: lastDecision,
				Output:       outcome.Content,
			}
		}

		if err := r.pace(ctx); err != nil {
			return r.failed(iteration, lastDecision, err)
		}
	}

	r.logger.Warn("Task exhausted its iteration ceiling.", zap.Int("iterations", maxIterations))
	return schemas.TaskResult{
		State:        schemas.StateExhausted,
		Iterations:   maxIterations,
		LastDecision: lastDecision,
	}
}

// perceive annotates the page, captures the screenshot with the overlay
// visible, and clears the annotation artifacts again. A concurrent navigation
// can invalidate the execution context mid-pass; that case is retried with
// increasing backoff up to the fixed bound.
func (r *Runner) perceive(ctx context.Context) ([]byte, []schemas.ElementDigest, error) {
	var (
		screenshot []byte
		digests    []schemas.ElementDigest
	)

	attempt := func() error {
		var err error
		digests, err = r.session.Annotate(ctx)
		if err != nil {
			return classifyPerceiveErr(err)
		}
		screenshot, err = r.session.Screenshot(ctx)
		if err != nil {
			return classifyPerceiveErr(err)
		}
		if err := r.session.ClearAnnotations(ctx); err != nil {
			return classifyPerceiveErr(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 1.5
	b.RandomizationFactor = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, perceiveRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, nil, err
	}
	return screenshot, digests, nil
}

// classifyPerceiveErr keeps only navigation-invalidated contexts retryable.
func classifyPerceiveErr(err error) error {
	if browser.IsStaleContext(err) {
		return err
	}
	return backoff.Permanent(err)
}

// act executes the decided actions strictly in order. A handler error is
// caught into the execution log and the remaining actions still run; a
// success or stop action short-circuits the rest of the step.
func (r *Runner) act(ctx context.Context, actions []schemas.Action) schemas.StepOutcome {
	var log strings.Builder

	for i, action := range actions {
		switch action.Type {
		case schemas.ActionSuccess:
			return schemas.StepOutcome{
				Kind:    schemas.OutcomeSuccess,
				Content: action.Content,
				Reason:  action.Reasoning,
				Log:     log.String(),
			}
		case schemas.ActionStop:
			return schemas.StepOutcome{
				Kind:    schemas.OutcomeStop,
				Content: action.Content,
				Reason:  action.Reasoning,
				Log:     log.String(),
			}
		}

		detail, err := r.execute(ctx, action)
		if err != nil {
			if errors.Is(err, schemas.ErrNotTypeable) {
				r.logger.Warn("Type target is not a text input.",
					zap.Int("position", i), zap.Error(err))
				fmt.Fprintf(&log, "action %d (type) not executed: %v. No text was entered; click the element or pick a text input instead.\n", i+1, err)
				continue
			}
			r.logger.Warn("Action failed.",
				zap.Int("position", i), zap.String("type", string(action.Type)), zap.Error(err))
			fmt.Fprintf(&log, "action %d (%s) failed: %v\n", i+1, action.Type, err)
			continue
		}

		fmt.Fprintf(&log, "action %d (%s) done\n", i+1, action.Type)
		if detail != "" {
			fmt.Fprintf(&log, "%s\n", detail)
		}

		if err := r.session.WaitStable(ctx, r.cfg.SettleDelay); err != nil {
			fmt.Fprintf(&log, "page did not stabilize after action %d: %v\n", i+1, err)
		}
	}

	return schemas.StepOutcome{Kind: schemas.OutcomeContinue, Log: log.String()}
}

// execute dispatches one action to its session handler. The returned detail
// string is appended to the execution log (used by extract_data).
func (r *Runner) execute(ctx context.Context, action schemas.Action) (string, error) {
	switch action.Type {
	case schemas.ActionClick:
		return "", r.session.Click(ctx, *action.Element)

	case schemas.ActionHover:
		return "", r.session.Hover(ctx, *action.Element)

	case schemas.ActionTypeText:
		return "", r.session.Type(ctx, *action.Element, action.Content)

	case schemas.ActionScroll:
		if action.Element != nil {
			return "", r.session.ScrollElement(ctx, *action.Element, action.Content)
		}
		return "", r.session.ScrollWindow(ctx, action.Content)

	case schemas.ActionWait:
		return "", r.session.WaitStable(ctx, waitActionDelay)

	case schemas.ActionNavigate:
		return "", r.session.Navigate(ctx, action.Content)

	case schemas.ActionSearch:
		target := "https://www.google.com/search?q=" + url.QueryEscape(action.Content)
		return "", r.session.Navigate(ctx, target)

	case schemas.ActionGoBack:
		return "", r.session.GoBack(ctx)

	case schemas.ActionExtractData:
		text, err := r.session.ExtractText(ctx)
		if err != nil {
			return "", err
		}
		if len(text) > extractLogLimit {
			text = text[:extractLogLimit] + "\n[truncated]"
		}
		return "extracted page text:\n" + text, nil

	default:
		// Unknown types are rejected at decode time; reaching this is a bug.
		return "", fmt.Errorf("unhandled action type %q", action.Type)
	}
}

// checkpoint fires the per-step callback. A panicking callback must not
// corrupt the loop, so it is recovered and logged here.
func (r *Runner) checkpoint(cb schemas.StepCallback, event schemas.StepEvent) {
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Step callback panicked.",
				zap.Int("iteration", event.Iteration), zap.Any("panic", rec))
		}
	}()
	cb(event)
}

// pace waits for page stability plus the fixed inter-iteration delay.
func (r *Runner) pace(ctx context.Context) error {
	if err := r.session.WaitStable(ctx, r.cfg.SettleDelay); err != nil {
		r.logger.Debug("Stabilization before next iteration failed.", zap.Error(err))
	}
	if r.cfg.PacingDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cfg.PacingDelay):
		return nil
	}
}

func (r *Runner) failed(iteration int, last *schemas.Decision, err error) schemas.TaskResult {
	r.logger.Error("Task failed.", zap.Int("iteration", iteration), zap.Error(err))
	return schemas.TaskResult{
		State:        schemas.StateFailed,
		Iterations:   iteration,
		LastDecision: last,
		Err:          err,
	}
}
