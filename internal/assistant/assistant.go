// Package assistant invokes the coding assistant CLI inside a trial
// workspace and normalizes its output into one canonical result shape.
package assistant

import "context"

// Result captures one assistant invocation. A timeout is reported
// through TimedOut rather than an error so the caller can record it
// as an outcome.
type Result struct {
	ExitCode         int
	TimedOut         bool
	WallClockSeconds float64
	Stdout           string
	Stderr           string
	Metrics          Metrics
}

// Metrics is the canonical usage summary extracted from the
// assistant's JSON output, whatever shape it arrived in.
type Metrics struct {
	// InputTokens sums all input token classes, including tokens
	// served from or written to the prompt cache. The raw
	// input_tokens field alone undercounts heavily cached runs.
	InputTokens  int
	OutputTokens int
	ToolCalls    int
	NumTurns     int
	CostUSD      float64

	// ContextFilesRead lists AGENTS.md/CLAUDE.md paths the assistant
	// read during the run, an uptake signal for treatment conditions.
	ContextFilesRead []string
}

// Empty reports whether the invocation did no observable work. An
// empty run usually means the CLI exited before reaching the model.
func (m Metrics) Empty() bool {
	return m.InputTokens == 0 && m.OutputTokens == 0 && m.ToolCalls == 0
}

// Invoker runs the assistant once in a workspace.
type Invoker interface {
	Invoke(ctx context.Context, workspace, prompt string) (Result, error)
}
