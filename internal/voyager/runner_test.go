package voyager_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
	"github.com/xkilldash9x/voyager-cli/internal/voyager"
)

// fakeBrowserSession records every operation the runner dispatches and can be
// scripted to fail specific calls.
type fakeBrowserSession struct {
	mu  sync.Mutex
	ops []string

	annotateErrs []error // consumed one per Annotate call
	clickErr     map[int]error
	typeErr      map[int]error
}

func newFakeBrowserSession() *fakeBrowserSession {
	return &fakeBrowserSession{clickErr: map[int]error{}, typeErr: map[int]error{}}
}

func (s *fakeBrowserSession) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *fakeBrowserSession) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeBrowserSession) countOf(prefix string) int {
	n := 0
	for _, op := range s.recorded() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeBrowserSession) ID() string { return "fake-session" }

func (s *fakeBrowserSession) Navigate(_ context.Context, url string) error {
	s.record("navigate:" + url)
	return nil
}

func (s *fakeBrowserSession) GoBack(context.Context) error {
	s.record("go_back")
	return nil
}

func (s *fakeBrowserSession) Annotate(context.Context) ([]schemas.ElementDigest, error) {
	s.record("annotate")
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.annotateErrs) > 0 {
		err := s.annotateErrs[0]
		s.annotateErrs = s.annotateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []schemas.ElementDigest{{Index: 0, Tag: "button", Text: "Go"}}, nil
}

func (s *fakeBrowserSession) ClearAnnotations(context.Context) error {
	s.record("clear")
	return nil
}

func (s *fakeBrowserSession) Screenshot(context.Context) ([]byte, error) {
	s.record("screenshot")
	return []byte("png"), nil
}

func (s *fakeBrowserSession) Click(_ context.Context, index int) error {
	s.record(fmt.Sprintf("click:%d", index))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clickErr[index]
}

func (s *fakeBrowserSession) Hover(_ context.Context, index int) error {
	s.record(fmt.Sprintf("hover:%d", index))
	return nil
}

func (s *fakeBrowserSession) Type(_ context.Context, index int, text string) error {
	s.record(fmt.Sprintf("type:%d:%s", index, text))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typeErr[index]
}

func (s *fakeBrowserSession) ScrollWindow(_ context.Context, direction string) error {
	s.record("scroll:" + direction)
	return nil
}

func (s *fakeBrowserSession) ScrollElement(_ context.Context, index int, direction string) error {
	s.record(fmt.Sprintf("scroll_el:%d:%s", index, direction))
	return nil
}

func (s *fakeBrowserSession) ExtractText(context.Context) (string, error) {
	s.record("extract")
	return "page text", nil
}

func (s *fakeBrowserSession) WaitStable(context.Context, time.Duration) error { return nil }

func (s *fakeBrowserSession) Close(context.Context) error {
	s.record("close")
	return nil
}

// fakeDecisionClient replays a script of decisions, repeating the last entry
// once the script is exhausted.
type fakeDecisionClient struct {
	mu       sync.Mutex
	calls    int
	script   []*schemas.Decision
	err      error
	onDecide func(conv schemas.Conversation)
}

func (c *fakeDecisionClient) Decide(_ context.Context, conv schemas.Conversation) (*schemas.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.onDecide != nil {
		c.onDecide(conv)
	}
	if c.err != nil {
		return nil, c.err
	}
	idx := c.calls - 1
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	return c.script[idx], nil
}

func (c *fakeDecisionClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func decisionOf(actions ...schemas.Action) *schemas.Decision {
	return &schemas.Decision{Raw: `{"actions":[...]}`, Actions: actions}
}

func clickAction(element int) schemas.Action {
	return schemas.Action{Type: schemas.ActionClick, Element: &element, Reasoning: "r"}
}

func typeAction(element int, content string) schemas.Action {
	return schemas.Action{Type: schemas.ActionTypeText, Element: &element, Content: content, Reasoning: "r"}
}

func hoverAction(element int) schemas.Action {
	return schemas.Action{Type: schemas.ActionHover, Element: &element, Reasoning: "r"}
}

func scrollAction(direction string) schemas.Action {
	return schemas.Action{Type: schemas.ActionScroll, Content: direction, Reasoning: "r"}
}

func successAction(content string) schemas.Action {
	return schemas.Action{Type: schemas.ActionSuccess, Content: content, Reasoning: "goal met"}
}

func testRunnerConfig() config.RunnerConfig {
	return config.RunnerConfig{
		MaxIterations:     10,
		MaxImagesRetained: 3,
	}
}

func runTask(t *testing.T, session *fakeBrowserSession, client *fakeDecisionClient, cfg config.RunnerConfig, task schemas.Task) schemas.TaskResult {
	t.Helper()
	runner := voyager.NewRunner(session, client, cfg, zaptest.NewLogger(t))
	return runner.Run(context.Background(), task)
}

func TestRunner_SuccessTerminatesInOneIteration(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(successAction("found it"))}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{
		StartURL: "https://example.com",
		Goal:     "find it",
	})

	assert.Equal(t, schemas.StateSucceeded, result.State)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "found it", result.Output)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, "navigate:https://example.com", session.recorded()[0])
}

func TestRunner_StopActionYieldsStoppedState(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(
		schemas.Action{Type: schemas.ActionStop, Content: "paywall", Reasoning: "cannot proceed"},
	)}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateStopped, result.State)
	assert.Equal(t, "paywall", result.Output)
}

func TestRunner_ExhaustsAtExactCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(scrollAction(schemas.ScrollDown))}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{
		StartURL:      "https://example.com",
		Goal:          "g",
		MaxIterations: 5,
	})

	assert.Equal(t, schemas.StateExhausted, result.State)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, 5, client.callCount(), "exactly one decision per iteration")
	require.NotNil(t, result.LastDecision, "exhaustion preserves the last decision as partial progress")
	assert.Nil(t, result.Err)
}

func TestRunner_PartialStepResilience(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	session.clickErr[2] = errors.New("element detached")

	var secondPrompt string
	client := &fakeDecisionClient{
		script: []*schemas.Decision{
			decisionOf(clickAction(1), clickAction(2), scrollAction(schemas.ScrollDown)),
			decisionOf(successAction("done")),
		},
		onDecide: func(conv schemas.Conversation) {
			last := conv.Messages[len(conv.Messages)-1]
			for _, p := range last.Parts {
				if p.Text != "" {
					secondPrompt = p.Text
				}
			}
		},
	}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	require.Equal(t, schemas.StateSucceeded, result.State)
	assert.Equal(t, 2, result.Iterations)

	// All three actions of the first step ran despite the middle failure.
	ops := session.recorded()
	assert.Contains(t, ops, "click:1")
	assert.Contains(t, ops, "click:2")
	assert.Contains(t, ops, "scroll:down")

	// The failure was surfaced to the model in the next prompt.
	assert.Contains(t, secondPrompt, "failed")
	assert.Contains(t, secondPrompt, "element detached")
}

func TestRunner_NonTextboxTypeReportsBackToModel(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	session.typeErr[1] = fmt.Errorf("element 1 is a <button>: %w", schemas.ErrNotTypeable)

	var secondPrompt string
	client := &fakeDecisionClient{
		script: []*schemas.Decision{
			decisionOf(typeAction(1, "golang")),
			decisionOf(successAction("done")),
		},
		onDecide: func(conv schemas.Conversation) {
			last := conv.Messages[len(conv.Messages)-1]
			for _, p := range last.Parts {
				if p.Text != "" {
					secondPrompt = p.Text
				}
			}
		},
	}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	require.Equal(t, schemas.StateSucceeded, result.State, "a refused type does not end the task")
	assert.Equal(t, 2, result.Iterations)

	// The next prompt tells the model no text landed and nudges it toward a
	// real text input.
	assert.Contains(t, secondPrompt, "not executed")
	assert.Contains(t, secondPrompt, "No text was entered")
	assert.Contains(t, secondPrompt, "text input")
	assert.Contains(t, secondPrompt, "<button>")
}

func TestRunner_HoverDispatchesToSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{
		decisionOf(hoverAction(2), clickAction(3)),
		decisionOf(successAction("done")),
	}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	require.Equal(t, schemas.StateSucceeded, result.State)
	ops := session.recorded()
	assert.Contains(t, ops, "hover:2")
	assert.Contains(t, ops, "click:3")
}

func TestRunner_DecisionFailureTerminatesTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	cause := errors.New("api unreachable")
	client := &fakeDecisionClient{err: cause}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateFailed, result.State)
	assert.ErrorIs(t, result.Err, cause)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunner_PerceptionRetriesStaleContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	session.annotateErrs = []error{
		errors.New("cannot find context with specified id"),
		errors.New("execution context was destroyed"),
		nil,
	}
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(successAction("ok"))}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateSucceeded, result.State)
	assert.Equal(t, 3, session.countOf("annotate"), "two stale failures then success")
}

func TestRunner_PerceptionPermanentFailureFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	session.annotateErrs = []error{errors.New("browser crashed")}
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(successAction("ok"))}}

	result := runTask(t, session, client, testRunnerConfig(), schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateFailed, result.State)
	assert.Equal(t, 1, session.countOf("annotate"), "non-stale errors are not retried")
	assert.Equal(t, 0, client.callCount())
}

func TestRunner_LoopGuardSkipsRepeatedSteps(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(clickAction(4))}}

	cfg := testRunnerConfig()
	cfg.LoopGuard = true

	result := runTask(t, session, client, cfg, schemas.Task{
		StartURL:      "https://example.com",
		Goal:          "g",
		MaxIterations: 4,
	})

	assert.Equal(t, schemas.StateExhausted, result.State)
	// Iterations 1 and 2 execute the click; 3 and 4 are skipped by the guard.
	assert.Equal(t, 2, session.countOf("click:4"))
	assert.Equal(t, 4, client.callCount(), "the guard skips execution, not the decision call")
}

func TestRunner_CallbackFiresOncePerIterationAndPanicsAreContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{
		decisionOf(scrollAction(schemas.ScrollDown)),
		decisionOf(successAction("ok")),
	}}

	var mu sync.Mutex
	var events []schemas.StepEvent
	task := schemas.Task{
		StartURL: "https://example.com",
		Goal:     "g",
		Callback: func(event schemas.StepEvent) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			panic("observer bug")
		},
	}

	result := runTask(t, session, client, testRunnerConfig(), task)

	require.Equal(t, schemas.StateSucceeded, result.State)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Iteration)
	assert.Equal(t, 2, events[1].Iteration)
	assert.NotEmpty(t, events[0].Screenshot)
	require.Len(t, events[0].Actions, 1)
	assert.Equal(t, schemas.ActionScroll, events[0].Actions[0].Type)
}

func TestRunner_ConversationHoldsImageBoundAtEveryDecision(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(scrollAction(schemas.ScrollDown))}}
	client.onDecide = func(conv schemas.Conversation) {
		assert.LessOrEqual(t, conv.LiveImageCount(), 2)
	}

	cfg := testRunnerConfig()
	cfg.MaxImagesRetained = 2

	result := runTask(t, session, client, cfg, schemas.Task{
		StartURL:      "https://example.com",
		Goal:          "g",
		MaxIterations: 6,
	})

	assert.Equal(t, schemas.StateExhausted, result.State)
	assert.Equal(t, 6, client.callCount())
}

func TestRunner_WallClockBudgetFailsCooperatively(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(scrollAction(schemas.ScrollDown))}}

	cfg := testRunnerConfig()
	cfg.TaskTimeout = time.Nanosecond

	result := runTask(t, session, client, cfg, schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateFailed, result.State)
	assert.ErrorIs(t, result.Err, voyager.ErrTaskTimeout)
	assert.Equal(t, 0, client.callCount())
}

func TestRunner_CanceledContextFailsTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFakeBrowserSession()
	client := &fakeDecisionClient{script: []*schemas.Decision{decisionOf(scrollAction(schemas.ScrollDown))}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := voyager.NewRunner(session, client, testRunnerConfig(), zaptest.NewLogger(t))
	result := runner.Run(ctx, schemas.Task{StartURL: "https://example.com", Goal: "g"})

	assert.Equal(t, schemas.StateFailed, result.State)
	assert.ErrorIs(t, result.Err, context.Canceled)
}
