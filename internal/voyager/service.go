// internal/voyager/service.go
package voyager

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/browser"
	"github.com/xkilldash9x/voyager-cli/internal/config"
	"github.com/xkilldash9x/voyager-cli/internal/llmclient"
)

// Service composes the browser pool and the decision client and admits task
// executions. Two independent bounds apply: the pool's per-process capacity
// gates limit live sessions, and the task gate limits how many runner loops
// iterate at once.
type Service struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *browser.Pool
	client   schemas.DecisionClient
	taskGate *semaphore.Weighted
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDecisionClient replaces the default Gemini client. Used by tests.
func WithDecisionClient(c schemas.DecisionClient) ServiceOption {
	return func(s *Service) { s.client = c }
}

// WithPool replaces the default browser pool. Used by tests.
func WithPool(p *browser.Pool) ServiceOption {
	return func(s *Service) { s.pool = p }
}

// NewService wires the service from configuration.
func NewService(cfg *config.Config, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		logger:   logger.Named("voyager"),
		taskGate: semaphore.NewWeighted(int64(cfg.Runner.MaxConcurrentTasks)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.pool == nil {
		s.pool = browser.NewPool(cfg.Browser, logger)
	}
	if s.client == nil {
		client, err := llmclient.NewGeminiClient(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to construct decision client: %w", err)
		}
		s.client = client
	}
	return s, nil
}

// Start brings up the browser pool.
func (s *Service) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Stop tears down the browser pool.
func (s *Service) Stop(ctx context.Context) error {
	return s.pool.Stop(ctx)
}

// Execute runs one task end to end: admission through the task gate, session
// acquisition, the runner loop, and guaranteed release. The returned error
// covers admission and acquisition only; in-loop failures surface through the
// result's state and Err field so the caller always gets the iteration count
// and last decision.
func (s *Service) Execute(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	if err := s.taskGate.Acquire(ctx, 1); err != nil {
		return schemas.TaskResult{}, fmt.Errorf("task admission aborted: %w", err)
	}
	defer s.taskGate.Release(1)

	session, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return schemas.TaskResult{}, fmt.Errorf("failed to acquire browser session: %w", err)
	}
	// Release must run on every exit path, after artifacts are flushed by
	// the runner.
	defer release(context.WithoutCancel(ctx))

	runner := NewRunner(session, s.client, s.cfg.Runner, s.logger)
	result := runner.Run(ctx, task)

	s.logger.Info("Task finished.",
		zap.String("state", string(result.State)),
		zap.Int("iterations", result.Iterations))
	return result, nil
}
