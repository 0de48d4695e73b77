package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/modal-labs/libmodal/modal-go"
)

const modalAppName = "fixlab"

// ModalRunner executes commands in Modal sandboxes. Each Run uploads
// a snapshot of the workspace; sandbox-side changes do not propagate
// back, which is fine for verification where the exit code is the
// signal.
type ModalRunner struct {
	client *modal.Client
	log    *slog.Logger
}

// NewModalRunner creates a Modal-backed runner using ambient
// credentials (~/.modal.toml or environment).
func NewModalRunner(log *slog.Logger) (*ModalRunner, error) {
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &ModalRunner{client: client, log: log}, nil
}

func (r *ModalRunner) Name() string { return "modal" }

// Run creates a fresh sandbox from the registry image, uploads the
// workspace to /work, executes the command there, and terminates the
// sandbox on every exit path.
func (r *ModalRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	app, err := r.client.Apps.FromName(ctx, modalAppName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("resolving modal app: %w", err)
	}

	image := r.client.Images.FromRegistry(spec.Image, nil)

	cpu := 1.0
	if spec.CPUs != "" {
		fmt.Sscanf(spec.CPUs, "%f", &cpu)
	}
	memoryMiB := spec.MemoryMB
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}

	// The sandbox-level timeout is a backstop: if this process dies
	// mid-run, Modal reaps the sandbox on its own.
	sandboxTimeout := 2 * spec.Timeout
	if sandboxTimeout <= 0 {
		sandboxTimeout = time.Hour
	}

	sb, err := r.client.Sandboxes.Create(ctx, app, image, &modal.SandboxCreateParams{
		CPU:       cpu,
		MemoryMiB: memoryMiB,
		Timeout:   sandboxTimeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating modal sandbox: %w", err)
	}
	defer sb.Terminate(context.WithoutCancel(ctx))

	if err := r.uploadDir(ctx, sb, spec.Workspace, "/work"); err != nil {
		return Result{}, fmt.Errorf("uploading workspace: %w", err)
	}

	execParams := &modal.SandboxExecParams{
		Env:     spec.Env,
		Workdir: "/work",
	}
	if spec.Timeout > 0 {
		execParams.Timeout = spec.Timeout
	}

	process, err := sb.Exec(ctx, []string{"sh", "-c", spec.Command}, execParams)
	if err != nil {
		return Result{}, fmt.Errorf("executing in modal sandbox: %w", err)
	}

	var stdout, stderr bytes.Buffer
	done := make(chan struct{}, 2)
	go func() { io.Copy(&stdout, process.Stdout); done <- struct{}{} }()
	go func() { io.Copy(&stderr, process.Stderr); done <- struct{}{} }()
	<-done
	<-done

	exitCode, err := process.Wait(ctx)
	result := Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		// Modal reports exec timeouts through Wait.
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}
	return result, nil
}

// Sweep is a no-op for Modal: every sandbox is created with a hard
// timeout, so orphans from a crashed run expire server-side.
func (r *ModalRunner) Sweep(ctx context.Context) error {
	r.log.Debug("modal sandboxes expire server-side, nothing to sweep")
	return nil
}

func (r *ModalRunner) uploadDir(ctx context.Context, sb *modal.Sandbox, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			p, err := sb.Exec(ctx, []string{"mkdir", "-p", target}, &modal.SandboxExecParams{})
			if err != nil {
				return err
			}
			io.Copy(io.Discard, p.Stdout)
			io.Copy(io.Discard, p.Stderr)
			_, err = p.Wait(ctx)
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := sb.Open(ctx, target, "w")
		if err != nil {
			return fmt.Errorf("opening %s in sandbox: %w", target, err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return err
		}
		if err := f.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}
