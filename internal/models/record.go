package models

import "time"

// Outcome is the terminal result of one (trial, condition) execution.
type Outcome string

const (
	// OutcomePass means the assistant's change made the trial's
	// test command succeed.
	OutcomePass Outcome = "pass"

	// OutcomeFail means the harness worked but the assistant did
	// not fix the bug. A measured experimental result, never
	// auto-retried.
	OutcomeFail Outcome = "fail"

	// OutcomeError means the harness itself malfunctioned before a
	// verdict on the assistant was possible.
	OutcomeError Outcome = "error"
)

// Terminal reports whether the outcome ends a (trial, condition)
// pair for resume purposes.
func (o Outcome) Terminal() bool {
	return o == OutcomePass || o == OutcomeFail || o == OutcomeError
}

// TreatmentMetrics captures the cost of producing (or restoring) the
// treatment artifact for conditions that use one.
type TreatmentMetrics struct {
	WallClockSeconds float64  `json:"wall_clock_seconds"`
	InputTokens      int      `json:"input_tokens"`
	OutputTokens     int      `json:"output_tokens"`
	CacheHit         bool     `json:"cache_hit"`
	FilesCreated     []string `json:"files_created,omitempty"`
}

// RunRecord is the immutable outcome of one (trial, condition)
// execution. Exactly one terminal record exists per pair in a run
// set; it is persisted before the worker that produced it returns.
type RunRecord struct {
	TrialID   string    `json:"trial_id"`
	Condition Condition `json:"condition"`
	Outcome   Outcome   `json:"outcome"`
	Error     *RunError `json:"error,omitempty"`

	WallClockSeconds float64 `json:"wall_clock_seconds"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	ToolCalls        int     `json:"tool_calls"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
	ExitCode         int     `json:"exit_code"`

	LinesChanged int      `json:"lines_changed"`
	FilesTouched []string `json:"files_touched,omitempty"`

	// ContextFilesRead lists the AGENTS.md/CLAUDE.md files the
	// assistant read, showing whether a treatment artifact was
	// actually consulted.
	ContextFilesRead []string `json:"context_files_read,omitempty"`

	// TestOutput is truncated verifier output kept for diagnosis.
	TestOutput string `json:"test_output,omitempty"`

	// ArtifactFingerprint names the cache entry the treatment stage
	// used, empty for the baseline condition.
	ArtifactFingerprint string            `json:"artifact_fingerprint,omitempty"`
	Treatment           *TreatmentMetrics `json:"treatment,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// RunSummary aggregates a completed (or interrupted) batch.
type RunSummary struct {
	RunSet      string    `json:"run_set"`
	Cancelled   bool      `json:"cancelled"`
	Total       int       `json:"total"`
	Executed    int       `json:"executed"`
	Skipped     int       `json:"skipped"`
	Passes      int       `json:"passes"`
	Fails       int       `json:"fails"`
	Errors      int       `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationSec float64   `json:"duration_sec"`
}
