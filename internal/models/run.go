package models

// RetryConfig bounds retries of transient infrastructure failures
// (workspace contention, cache lease conflicts). Assistant failures
// are measured outcomes and are never retried.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" json:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier"`
}

// SandboxConfig selects and tunes the isolated executor.
type SandboxConfig struct {
	Type        string `yaml:"type" json:"type"` // "docker" or "modal"
	CPUs        string `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	Memory      string `yaml:"memory,omitempty" json:"memory,omitempty"`
	CacheVolume string `yaml:"cache_volume,omitempty" json:"cache_volume,omitempty"`
}

// AssistantConfig tunes the assistant invocation boundary.
type AssistantConfig struct {
	Command       string  `yaml:"command" json:"command"`
	Model         string  `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTurns      int     `yaml:"max_turns" json:"max_turns"`
	TimeoutSec    float64 `yaml:"timeout_sec" json:"timeout_sec"`
	GenTimeoutSec float64 `yaml:"gen_timeout_sec" json:"gen_timeout_sec"`
}

// VerifierConfig bounds test execution.
type VerifierConfig struct {
	TimeoutSec    float64 `yaml:"timeout_sec" json:"timeout_sec"`
	PreValTimeout float64 `yaml:"pre_validation_timeout_sec" json:"pre_validation_timeout_sec"`
}

// AnalysisConfig tunes the statistical analyzer.
type AnalysisConfig struct {
	Confidence       float64 `yaml:"confidence" json:"confidence"`
	MaxIntervalWidth float64 `yaml:"max_interval_width" json:"max_interval_width"`
}

// RunConfig is the parsed run.yaml configuration for one experiment
// invocation.
type RunConfig struct {
	Name           *string  `yaml:"name,omitempty" json:"name,omitempty"`
	TrialsDir      string   `yaml:"trials_dir" json:"trials_dir"`
	WorkspacesDir  string   `yaml:"workspaces_dir" json:"workspaces_dir"`
	CacheDir       string   `yaml:"cache_dir" json:"cache_dir"`
	ResultsDir     string   `yaml:"results_dir" json:"results_dir"`
	Concurrency    int      `yaml:"concurrency" json:"concurrency"`
	Conditions     []string `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Categories     []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	KeepWorkspaces bool     `yaml:"keep_workspaces" json:"keep_workspaces"`
	LeaseTTLSec    float64  `yaml:"lease_ttl_sec" json:"lease_ttl_sec"`
	LogLevel       string   `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat      string   `yaml:"log_format,omitempty" json:"log_format,omitempty"`

	Retry     RetryConfig     `yaml:"retry,omitempty" json:"retry,omitempty"`
	Sandbox   SandboxConfig   `yaml:"sandbox" json:"sandbox"`
	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`
	Verifier  VerifierConfig  `yaml:"verifier,omitempty" json:"verifier,omitempty"`
	Analysis  AnalysisConfig  `yaml:"analysis,omitempty" json:"analysis,omitempty"`
}
