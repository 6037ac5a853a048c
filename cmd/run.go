package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
	"github.com/xkilldash9x/voyager-cli/internal/observability"
	"github.com/xkilldash9x/voyager-cli/internal/voyager"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one browsing task to completion",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("runner.max_iterations", cmd.Flags().Lookup("max-iterations")); err != nil {
				return err
			}
			if err := viper.BindPFlag("runner.artifact_dir", cmd.Flags().Lookup("artifacts")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("llm.model", cmd.Flags().Lookup("model"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			startURL, _ := cmd.Flags().GetString("url")
			goal, _ := cmd.Flags().GetString("goal")
			if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
				startURL = "https://" + startURL
			}

			service, err := voyager.NewService(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize service: %w", err)
			}
			if err := service.Start(ctx); err != nil {
				return fmt.Errorf("failed to start browser pool: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := service.Stop(shutdownCtx); err != nil {
					logger.Warn("Error during service shutdown", zap.Error(err))
				}
			}()

			task := schemas.Task{
				StartURL: startURL,
				Goal:     goal,
				Callback: func(event schemas.StepEvent) {
					logger.Info("Step complete",
						zap.Int("iteration", event.Iteration),
						zap.Int("actions", len(event.Actions)))
				},
			}

			logger.Info("Starting task",
				zap.String("url", startURL),
				zap.String("goal", goal),
				zap.Int("max_iterations", cfg.Runner.MaxIterations))

			result, err := service.Execute(ctx, task)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Task aborted gracefully")
					return fmt.Errorf("task aborted by user signal")
				}
				return err
			}

			fmt.Printf("\nTask finished: %s after %d iteration(s)\n", result.State, result.Iterations)
			if result.Output != "" {
				fmt.Printf("Output:\n%s\n", result.Output)
			}
			if result.State == schemas.StateFailed {
				return fmt.Errorf("task failed: %w", result.Err)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("url", "u", "", "Start URL for the task (required)")
	runCmd.Flags().StringP("goal", "g", "", "Natural-language goal (required)")
	runCmd.Flags().IntP("max-iterations", "n", 0, "Iteration ceiling. (Overrides config/env)")
	runCmd.Flags().String("artifacts", "", "Directory for per-iteration debug artifacts. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().StringP("model", "m", "", "Decision model name. (Overrides config/env)")

	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("goal")

	return runCmd
}
