// Package gitops wraps the read-only source-control collaborator:
// cloning, checkout of arbitrary revisions into workspaces, and diff
// measurement. It never mutates upstream history.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CloneOptions tunes Clone.
type CloneOptions struct {
	// Reference points at a local clone used to avoid refetching
	// objects. Tries --shared (git alternates) first, then falls
	// back to --local; --shared can fail for large repos under
	// concurrent access.
	Reference string
	Shallow   bool
}

// Clone clones url into dest.
func Clone(ctx context.Context, url, dest string, opts CloneOptions) error {
	if opts.Reference != "" {
		args := []string{"clone", "--shared", "--no-checkout", opts.Reference, dest}
		if _, err := runGit(ctx, "", args...); err == nil {
			return nil
		}
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("cleaning failed shared clone: %w", err)
		}
		if _, err := runGit(ctx, "", "clone", "--local", "--no-checkout", opts.Reference, dest); err != nil {
			return fmt.Errorf("git clone --local: %w", err)
		}
		return nil
	}

	args := []string{"clone"}
	if opts.Shallow {
		args = append(args, "--depth", "1")
	}
	args = append(args, url, dest)
	if _, err := runGit(ctx, "", args...); err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// Checkout resets the workspace to a specific commit, fetching it
// first if the clone does not have it.
func Checkout(ctx context.Context, repoPath, commit string) error {
	if _, err := runGit(ctx, repoPath, "checkout", commit); err == nil {
		return nil
	}
	if _, err := runGit(ctx, repoPath, "fetch", "--depth", "1", "origin", commit); err != nil {
		return fmt.Errorf("git fetch %s: %w", commit, err)
	}
	if _, err := runGit(ctx, repoPath, "checkout", commit); err != nil {
		return fmt.Errorf("git checkout %s: %w", commit, err)
	}
	return nil
}

// CommitMessage returns the full message of a commit.
func CommitMessage(ctx context.Context, repoPath, commit string) (string, error) {
	out, err := runGit(ctx, repoPath, "log", "-1", "--format=%B", commit)
	if err != nil {
		return "", fmt.Errorf("git log %s: %w", commit, err)
	}
	return strings.TrimSpace(out), nil
}

// ShowFile returns the contents of path as of commit.
func ShowFile(ctx context.Context, repoPath, commit, path string) ([]byte, error) {
	out, err := runGit(ctx, repoPath, "show", commit+":"+path)
	if err != nil {
		return nil, fmt.Errorf("git show %s:%s: %w", commit, path, err)
	}
	return []byte(out), nil
}

// CreateBaselineCommit snapshots the workspace so later diff stats
// measure only assistant changes, not harness preparation (stripped
// files, injected tests, generated context). Signing is disabled so
// a global signing config cannot break the harness.
func CreateBaselineCommit(ctx context.Context, repoPath string) error {
	if _, err := runGit(ctx, repoPath, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	// Nothing to commit is fine; ignore the error. Identity is
	// pinned so a missing global git config cannot break the run.
	runGit(ctx, repoPath, "-c", "commit.gpgsign=false",
		"-c", "user.name=fixlab", "-c", "user.email=fixlab@localhost",
		"commit", "--allow-empty", "-m", "fixlab baseline")
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
