// Package sandbox runs commands in fresh, resource-bounded,
// disposable environments bound to a single trial workspace.
package sandbox

import (
	"context"
	"time"
)

// Spec describes one isolated command execution.
type Spec struct {
	// Workspace is the host directory the sandbox is bound to.
	// Exactly one execution owns a workspace at a time.
	Workspace string

	// Command is run through `sh -c` inside the sandbox.
	Command string

	// Image is the container image providing the toolchain.
	Image string

	Env      map[string]string
	CPUs     string
	MemoryMB int

	// Timeout bounds wall-clock execution. Exceeding it is an
	// expected outcome reported via Result.TimedOut, not an error.
	Timeout time.Duration
}

// Result captures one execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner executes commands in isolated sandboxes. Implementations
// guarantee teardown on every exit path; Sweep reclaims sandboxes
// orphaned by a previous abnormal termination.
type Runner interface {
	Name() string
	Run(ctx context.Context, spec Spec) (Result, error)
	Sweep(ctx context.Context) error
}
