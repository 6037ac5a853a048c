package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/voyager-cli/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Browser.MaxProcesses)
	assert.Equal(t, 10, cfg.Browser.MaxSessionsPerProcess)
	assert.Equal(t, 100, cfg.Runner.MaxIterations)
	assert.Equal(t, 3, cfg.Runner.MaxImagesRetained)
	assert.Equal(t, 10, cfg.Runner.MaxConcurrentTasks)
	assert.Equal(t, 500*time.Millisecond, cfg.Runner.SettleDelay)
	assert.Equal(t, time.Second, cfg.Runner.PacingDelay)
	assert.Equal(t, 10*time.Minute, cfg.Runner.TaskTimeout)
	assert.True(t, cfg.Runner.LoopGuard)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.True(t, cfg.LLM.Retry)
}

func TestNewConfigFromViper_BindsAPIKeyEnv(t *testing.T) {
	t.Setenv("VOYAGER_LLM_API_KEY", "env-secret")

	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults are valid", func(c *config.Config) {}, ""},
		{
			"zero processes",
			func(c *config.Config) { c.Browser.MaxProcesses = 0 },
			"max_processes",
		},
		{
			"zero sessions per process",
			func(c *config.Config) { c.Browser.MaxSessionsPerProcess = 0 },
			"max_sessions_per_process",
		},
		{
			"zero iterations",
			func(c *config.Config) { c.Runner.MaxIterations = 0 },
			"max_iterations",
		},
		{
			"negative image retention",
			func(c *config.Config) { c.Runner.MaxImagesRetained = -1 },
			"max_images_retained",
		},
		{
			"zero concurrent tasks",
			func(c *config.Config) { c.Runner.MaxConcurrentTasks = 0 },
			"max_concurrent_tasks",
		},
		{
			"empty model",
			func(c *config.Config) { c.LLM.Model = "" },
			"llm.model",
		},
		{
			"empty remote endpoint",
			func(c *config.Config) { c.Browser.RemoteEndpoints = []string{""} },
			"remote_endpoints",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}
