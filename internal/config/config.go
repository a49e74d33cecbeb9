// Package config loads runner configuration from counterfact.yaml with
// COUNTERFACT_* environment overrides. Every knob has a default so the zero
// setup works against any OpenAI-compatible endpoint.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runner configuration.
type Config struct {
	// Models per role.
	AgentModel  string `mapstructure:"agent_model"`
	PolicyModel string `mapstructure:"policy_model"`
	JudgeModel  string `mapstructure:"judge_model"`

	// Provider endpoint.
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RetryAttempts  int    `mapstructure:"retry_attempts"`

	// Run shape.
	WarmupSteps      int     `mapstructure:"warmup_steps"`
	RunBudgetUSD     float64 `mapstructure:"run_budget_usd"`
	BatchBudgetUSD   float64 `mapstructure:"batch_budget_usd"`
	RunsPerSituation int     `mapstructure:"runs_per_situation"`
	BatchConcurrency int     `mapstructure:"batch_concurrency"`

	// Output.
	ResultsDir string `mapstructure:"results_dir"`
}

// Load reads configuration from an explicit file, or from counterfact.yaml
// in the working directory when path is empty. A missing file is fine; the
// defaults and environment carry the run.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COUNTERFACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("counterfact")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.counterfact")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_model", "gpt-4o-mini")
	v.SetDefault("policy_model", "gpt-4o")
	v.SetDefault("judge_model", "gpt-4o-mini")
	v.SetDefault("base_url", "https://api.openai.com/v1")
	v.SetDefault("timeout_seconds", 120)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("warmup_steps", 3)
	v.SetDefault("run_budget_usd", 5.0)
	v.SetDefault("batch_budget_usd", 50.0)
	v.SetDefault("runs_per_situation", 1)
	v.SetDefault("batch_concurrency", 4)
	v.SetDefault("results_dir", "results")
}

func (c *Config) validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.WarmupSteps < 0 {
		return fmt.Errorf("warmup_steps must be non-negative, got %d", c.WarmupSteps)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("batch_concurrency must be positive, got %d", c.BatchConcurrency)
	}
	return nil
}
