package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// orphanLabel marks containers created by this harness so a sweep
// can find leftovers from a crashed run.
const orphanLabel = "fixlab.sandbox=true"

// DockerRunner executes commands in throwaway Docker containers with
// the workspace bind-mounted at /work.
type DockerRunner struct {
	// CacheVolume, when set, is a named volume mounted at
	// /root/.cache so package managers only download once across
	// containers.
	CacheVolume string

	log *slog.Logger
}

// NewDockerRunner creates a Docker-backed runner.
func NewDockerRunner(cacheVolume string, log *slog.Logger) *DockerRunner {
	return &DockerRunner{CacheVolume: cacheVolume, log: log}
}

func (r *DockerRunner) Name() string { return "docker" }

// Run starts a fresh container, executes the command, and removes
// the container on every exit path. Timeout is a result, not an
// error: the container is force-removed and TimedOut is set.
func (r *DockerRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	absWorkspace, err := filepath.Abs(spec.Workspace)
	if err != nil {
		return Result{}, fmt.Errorf("resolving workspace: %w", err)
	}

	name := "fixlab-" + uuid.NewString()[:8]
	args := []string{
		"run", "--rm",
		"--name", name,
		"--label", orphanLabel,
		"-v", absWorkspace + ":/work",
	}
	if r.CacheVolume != "" {
		args = append(args, "-v", r.CacheVolume+":/root/.cache")
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, "-w", "/work", "--network", "host")
	if spec.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", spec.MemoryMB))
	}
	if spec.CPUs != "" {
		args = append(args, "--cpus", spec.CPUs)
	}
	args = append(args, spec.Image, "sh", "-c", spec.Command)

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Killing the docker client does not kill the container.
		r.removeContainer(name)
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		r.removeContainer(name)
		return result, fmt.Errorf("running docker container: %w", err)
	}

	return result, nil
}

// Sweep force-removes containers left behind by a previous abnormal
// termination (the label filter only matches our own sandboxes).
func (r *DockerRunner) Sweep(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-aq",
		"--filter", "label="+orphanLabel).Output()
	if err != nil {
		return fmt.Errorf("listing orphaned sandboxes: %w", err)
	}

	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		return nil
	}

	r.log.Warn("removing orphaned sandboxes from a previous run", "count", len(ids))
	args := append([]string{"rm", "-f"}, ids...)
	if err := exec.CommandContext(ctx, "docker", args...).Run(); err != nil {
		return fmt.Errorf("removing orphaned sandboxes: %w", err)
	}
	return nil
}

func (r *DockerRunner) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "rm", "-f", name).Run(); err != nil {
		r.log.Warn("failed to remove container", "name", name, "error", err)
	}
}
