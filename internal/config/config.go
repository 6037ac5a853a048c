// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Runner  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the browser resource pool.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// MaxProcesses caps how many browser processes the pool may run.
	MaxProcesses int `mapstructure:"max_processes" yaml:"max_processes"`
	// MaxSessionsPerProcess caps concurrent isolated sessions per process.
	MaxSessionsPerProcess int `mapstructure:"max_sessions_per_process" yaml:"max_sessions_per_process"`
	// RemoteEndpoints lists pre-existing CDP endpoints the pool connects to
	// before considering a local launch.
	RemoteEndpoints   []string      `mapstructure:"remote_endpoints" yaml:"remote_endpoints"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// RunnerConfig tunes the task execution loop.
type RunnerConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxImagesRetained  int           `mapstructure:"max_images_retained" yaml:"max_images_retained"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PacingDelay        time.Duration `mapstructure:"pacing_delay" yaml:"pacing_delay"`
	// TaskTimeout is the wall-clock budget per task, checked cooperatively
	// at the top of each iteration. Zero disables the check.
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	// LoopGuard enables the action-repetition detector.
	LoopGuard bool `mapstructure:"loop_guard" yaml:"loop_guard"`
	// ArtifactDir, when non-empty, enables per-task debug artifact dumps
	// (screenshots and conversation snapshots) under this directory.
	ArtifactDir string `mapstructure:"artifact_dir" yaml:"artifact_dir"`
}

// LLMConfig defines the Decision Service connection.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Retry enables in-client retries of transient transport errors.
	// Disabled, a single failure terminates the task.
	Retry bool `mapstructure:"retry" yaml:"retry"`
	// MaxElapsedRetry bounds the total retry budget when Retry is on.
	MaxElapsedRetry time.Duration `mapstructure:"max_elapsed_retry" yaml:"max_elapsed_retry"`
	// RequestsPerMinute throttles decision calls across all tasks.
	// Zero disables throttling.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with pure defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "voyager-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_processes", 4)
	v.SetDefault("browser.max_sessions_per_process", 10)
	v.SetDefault("browser.remote_endpoints", []string{})
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Runner --
	v.SetDefault("runner.max_iterations", 100)
	v.SetDefault("runner.max_images_retained", 3)
	v.SetDefault("runner.max_concurrent_tasks", 10)
	v.SetDefault("runner.settle_delay", "500ms")
	v.SetDefault("runner.pacing_delay", "1s")
	v.SetDefault("runner.task_timeout", "10m")
	v.SetDefault("runner.loop_guard", true)
	v.SetDefault("runner.artifact_dir", "")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.retry", true)
	v.SetDefault("llm.max_elapsed_retry", "2m")
	v.SetDefault("llm.requests_per_minute", 0)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "VOYAGER_LLM_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.MaxProcesses <= 0 {
		return fmt.Errorf("browser.max_processes must be a positive integer")
	}
	if c.Browser.MaxSessionsPerProcess <= 0 {
		return fmt.Errorf("browser.max_sessions_per_process must be a positive integer")
	}
	for _, ep := range c.Browser.RemoteEndpoints {
		if _, err := url.Parse(ep); err != nil || ep == "" {
			return fmt.Errorf("browser.remote_endpoints contains an invalid endpoint %q", ep)
		}
	}
	if c.Runner.MaxIterations <= 0 {
		return fmt.Errorf("runner.max_iterations must be a positive integer")
	}
	if c.Runner.MaxImagesRetained < 0 {
		return fmt.Errorf("runner.max_images_retained must not be negative")
	}
	if c.Runner.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("runner.max_concurrent_tasks must be a positive integer")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is a required configuration field")
	}
	return nil
}
