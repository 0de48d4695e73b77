package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rvullo/fixlab/internal/models"
)

// DefaultRunConfig returns a RunConfig with default values.
func DefaultRunConfig() models.RunConfig {
	return models.RunConfig{
		TrialsDir:     "trials",
		WorkspacesDir: "workspaces",
		CacheDir:      "workspaces/.artifact-cache",
		ResultsDir:    "results",
		Concurrency:   1,
		LeaseTTLSec:   1200,
		Retry: models.RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2.0,
		},
		Sandbox: models.SandboxConfig{
			Type:        "docker",
			CPUs:        "2",
			Memory:      "4G",
			CacheVolume: "fixlab-pkgcache",
		},
		Assistant: models.AssistantConfig{
			Command:       "claude",
			MaxTurns:      50,
			TimeoutSec:    300,
			GenTimeoutSec: 600,
		},
		Verifier: models.VerifierConfig{
			TimeoutSec:    180,
			PreValTimeout: 180,
		},
		Analysis: models.AnalysisConfig{
			Confidence:       0.95,
			MaxIntervalWidth: 0.5,
		},
	}
}

// LoadRunConfig loads and parses a run.yaml file, applying defaults
// for anything unset. A missing file yields pure defaults.
func LoadRunConfig(path string) (models.RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg *models.RunConfig) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TrialsDir == "" {
		cfg.TrialsDir = "trials"
	}
	if cfg.WorkspacesDir == "" {
		cfg.WorkspacesDir = "workspaces"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "workspaces/.artifact-cache"
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	if cfg.LeaseTTLSec <= 0 {
		cfg.LeaseTTLSec = 1200
	}
	if cfg.Sandbox.Type == "" {
		cfg.Sandbox.Type = "docker"
	}
	if cfg.Assistant.Command == "" {
		cfg.Assistant.Command = "claude"
	}
	if cfg.Assistant.MaxTurns <= 0 {
		cfg.Assistant.MaxTurns = 50
	}
	if cfg.Assistant.TimeoutSec <= 0 {
		cfg.Assistant.TimeoutSec = 300
	}
	if cfg.Assistant.GenTimeoutSec <= 0 {
		cfg.Assistant.GenTimeoutSec = 600
	}
	if cfg.Verifier.TimeoutSec <= 0 {
		cfg.Verifier.TimeoutSec = 180
	}
	if cfg.Verifier.PreValTimeout <= 0 {
		cfg.Verifier.PreValTimeout = 180
	}
	if cfg.Analysis.Confidence <= 0 || cfg.Analysis.Confidence >= 1 {
		if cfg.Analysis.Confidence != 0 {
			return fmt.Errorf("analysis.confidence must be in (0, 1), got %v", cfg.Analysis.Confidence)
		}
		cfg.Analysis.Confidence = 0.95
	}
	if cfg.Analysis.MaxIntervalWidth <= 0 {
		cfg.Analysis.MaxIntervalWidth = 0.5
	}
	for _, c := range cfg.Conditions {
		if _, err := models.ParseCondition(c); err != nil {
			return fmt.Errorf("run config: %w", err)
		}
	}
	return nil
}
