package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Prompts below this size are passed as a CLI argument; larger ones go
// through stdin to stay clear of ARG_MAX.
const stdinThreshold = 100_000

// CLIInvoker shells out to a print-mode assistant CLI (claude by
// default) with JSON output.
type CLIInvoker struct {
	Command  string
	Model    string
	MaxTurns int
	Timeout  time.Duration

	log *slog.Logger
}

// NewCLIInvoker creates an invoker for the given CLI command.
func NewCLIInvoker(command, model string, maxTurns int, timeout time.Duration, log *slog.Logger) *CLIInvoker {
	if command == "" {
		command = "claude"
	}
	return &CLIInvoker{
		Command:  command,
		Model:    model,
		MaxTurns: maxTurns,
		Timeout:  timeout,
		log:      log,
	}
}

// Invoke runs the assistant in workspace with the given prompt. A run
// that exceeds the configured timeout returns Result{TimedOut: true}
// and a nil error; only failures to start or parent-context
// cancellation are errors.
func (c *CLIInvoker) Invoke(ctx context.Context, workspace, prompt string) (Result, error) {
	args := []string{
		"--print",
		"--output-format", "json",
		"--dangerously-skip-permissions",
	}
	if c.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.MaxTurns))
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}

	viaStdin := len(prompt) >= stdinThreshold
	if !viaStdin {
		args = append(args, prompt)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Command, args...)
	cmd.Dir = workspace
	cmd.Env = assistantEnv()
	if viaStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	result := Result{
		ExitCode:         0,
		WallClockSeconds: elapsed,
		Stdout:           stdout.String(),
		Stderr:           stderr.String(),
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			result.ExitCode = -1
			result.TimedOut = true
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("starting assistant %q: %w", c.Command, err)
		}
	}

	metrics, perr := ParseOutput(result.Stdout)
	if perr != nil {
		c.log.Debug("assistant output not parseable", "error", perr)
	}
	result.Metrics = metrics
	return result, nil
}

// assistantEnv returns the process environment for the assistant,
// stripping markers that would make the CLI think it is nested inside
// another assistant session.
func assistantEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "CLAUDE_NO_TELEMETRY=1")
}
