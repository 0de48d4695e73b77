// Package executor drives trials through their stage pipeline and
// coordinates batches of them over a bounded worker pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rvullo/fixlab/internal/assistant"
	"github.com/rvullo/fixlab/internal/cache"
	"github.com/rvullo/fixlab/internal/gitops"
	"github.com/rvullo/fixlab/internal/models"
	"github.com/rvullo/fixlab/internal/sandbox"
)

const testOutputLimit = 4000

// TrialExecutor runs a single (trial, condition) pair through the
// stage pipeline: acquire workspace, checkout, setup, treatment,
// invoke assistant, verify. It always produces a RunRecord; harness
// malfunctions become error-outcome records, never panics or lost
// pairs.
type TrialExecutor struct {
	Repo    models.RepoConfig
	Runner  sandbox.Runner
	Invoker assistant.Invoker

	// GenInvoker runs treatment artifact generation, usually with a
	// longer timeout than fix attempts.
	GenInvoker assistant.Invoker

	Cache         *cache.Cache
	WorkspacesDir string

	// ReferenceClone, when set, is a local mirror used to speed up
	// workspace clones.
	ReferenceClone string

	KeepWorkspaces bool

	Sandbox  models.SandboxConfig
	MemoryMB int
	Verifier models.VerifierConfig
	Retry    models.RetryConfig

	// preval deduplicates concurrent pre-validation callers; prevalSeen
	// memoizes the verdict per trial so it runs once no matter how the
	// conditions are scheduled: same commit, same code, same test, same
	// verdict.
	preval     singleflight.Group
	prevalMu   sync.Mutex
	prevalSeen map[string]prevalVerdict

	Log *slog.Logger
}

type prevalVerdict struct {
	output string
	err    error
}

// Execute runs one pair and returns its record. The returned error is
// only non-nil for failures that should abort the whole batch, such
// as a run set that cannot be written; everything else is folded into
// the record's outcome.
func (e *TrialExecutor) Execute(ctx context.Context, trial models.Trial, cond models.Condition) models.RunRecord {
	rec := models.RunRecord{
		TrialID:   trial.ID,
		Condition: cond,
		ExitCode:  -1,
	}
	log := e.Log.With("trial", trial.ID, "condition", cond)

	fail := func(t models.ErrorType, err error) models.RunRecord {
		log.Warn("trial errored", "type", t, "error", err)
		rec.Outcome = models.OutcomeError
		rec.Error = &models.RunError{Type: t, Message: err.Error()}
		rec.RecordedAt = time.Now()
		return rec
	}

	// Stage: acquire workspace. Leftovers from a crashed run can hold
	// transient locks, so acquisition is retried like other
	// infrastructure operations.
	workspace := filepath.Join(e.WorkspacesDir, fmt.Sprintf("%s-%s", trial.ID, cond))
	if err := e.retryTransient(ctx, log, "workspace", func() error {
		if err := os.RemoveAll(workspace); err != nil {
			return err
		}
		return os.MkdirAll(e.WorkspacesDir, 0755)
	}); err != nil {
		return fail(models.ErrWorkspaceFailed, err)
	}
	defer func() {
		if !e.KeepWorkspaces {
			os.RemoveAll(workspace)
		}
	}()

	// Stage: checkout.
	log.Debug("cloning", "url", e.Repo.URL, "reference", e.ReferenceClone != "")
	err := e.retryTransient(ctx, log, "clone", func() error {
		os.RemoveAll(workspace)
		return gitops.Clone(ctx, e.Repo.URL, workspace, gitops.CloneOptions{Reference: e.ReferenceClone})
	})
	if err != nil {
		return fail(models.ErrWorkspaceFailed, err)
	}
	if err := gitops.Checkout(ctx, workspace, trial.PreFixCommit); err != nil {
		return fail(models.ErrCheckoutFailed, err)
	}

	// Stage: setup. Context files are stripped under every condition
	// so the baseline is not contaminated by whatever the repo ships.
	removed, err := stripContextFiles(workspace, e.Repo.StripExtra)
	if err != nil {
		return fail(models.ErrSetupFailed, err)
	}
	if len(removed) > 0 {
		log.Debug("stripped context files", "count", len(removed))
	}

	// Repos often add the bug-reproducing test functions in the fix
	// commit itself. Injecting the fix commit's test file yields a
	// valid failing-test scenario at the pre-fix commit.
	if trial.PromptSource == models.PromptFailingTest && trial.TestFile != "" {
		if err := e.injectTestFromFix(ctx, trial, workspace); err != nil {
			log.Debug("test injection skipped", "error", err)
		}
	}

	prevalOutput, err := e.preValidate(ctx, trial, workspace)
	if err != nil {
		return fail(models.ErrSetupFailed, err)
	}

	// Stage: treatment.
	if cond.RequiresArtifact() {
		metrics, fp, err := e.applyTreatment(ctx, trial, cond, workspace)
		rec.ArtifactFingerprint = fp
		if err != nil {
			if errors.Is(err, cache.ErrCorrupted) {
				return fail(models.ErrCacheCorrupted, err)
			}
			return fail(models.ErrTreatmentFailed, err)
		}
		rec.Treatment = &metrics
	}

	// Snapshot the workspace so diff stats only measure assistant
	// changes, not harness preparation.
	if err := gitops.CreateBaselineCommit(ctx, workspace); err != nil {
		return fail(models.ErrInternal, err)
	}

	// Stage: invoke assistant.
	prompt, err := e.buildPrompt(ctx, trial, cond, workspace, prevalOutput)
	if err != nil {
		return fail(models.ErrInternal, err)
	}

	log.Info("invoking assistant")
	res, err := e.Invoker.Invoke(ctx, workspace, prompt)
	if err != nil {
		return fail(models.ErrInternal, err)
	}

	rec.WallClockSeconds = res.WallClockSeconds
	rec.InputTokens = res.Metrics.InputTokens
	rec.OutputTokens = res.Metrics.OutputTokens
	rec.ToolCalls = res.Metrics.ToolCalls
	rec.CostUSD = res.Metrics.CostUSD
	rec.ExitCode = res.ExitCode
	rec.ContextFilesRead = res.Metrics.ContextFilesRead

	if res.TimedOut {
		return fail(models.ErrAssistantTimeout,
			fmt.Errorf("assistant timed out after %.1fs", res.WallClockSeconds))
	}
	if res.Metrics.Empty() {
		return fail(models.ErrAssistantProtocol,
			fmt.Errorf("assistant produced no work (exit %d, stderr %.200q)",
				res.ExitCode, strings.TrimSpace(res.Stderr)))
	}

	// Stage: verify.
	log.Info("verifying", "seconds", res.WallClockSeconds, "tool_calls", res.Metrics.ToolCalls)
	verdict, err := e.Runner.Run(ctx, sandbox.Spec{
		Workspace: workspace,
		Command:   e.testCommand(trial),
		Image:     e.Repo.Docker.Image,
		CPUs:      e.Sandbox.CPUs,
		MemoryMB:  e.MemoryMB,
		Timeout:   secondsOr(e.Verifier.TimeoutSec, 180),
	})
	if err != nil {
		return fail(models.ErrInternal, err)
	}
	if verdict.TimedOut {
		return fail(models.ErrVerificationTimeout,
			fmt.Errorf("test command exceeded %.0fs", e.Verifier.TimeoutSec))
	}

	rec.TestOutput = truncate(verdict.Stdout+verdict.Stderr, testOutputLimit)

	stats, err := gitops.UncommittedDiffStats(ctx, workspace)
	if err != nil {
		log.Warn("diff stats unavailable", "error", err)
	} else {
		rec.LinesChanged = stats.LinesChanged
		rec.FilesTouched = stats.Files
	}

	if verdict.ExitCode == 0 {
		rec.Outcome = models.OutcomePass
	} else {
		rec.Outcome = models.OutcomeFail
	}
	log.Info("trial finished", "outcome", rec.Outcome, "exit_code", verdict.ExitCode)
	rec.RecordedAt = time.Now()
	return rec
}

// preValidate confirms the trial is runnable before spending tokens:
// setup succeeds, the target test actually fails at the pre-fix
// commit, and no context file survived stripping. The verdict is
// shared across conditions of the same trial.
func (e *TrialExecutor) preValidate(ctx context.Context, trial models.Trial, workspace string) (string, error) {
	out, err, _ := e.preval.Do(trial.ID, func() (any, error) {
		e.prevalMu.Lock()
		cached, ok := e.prevalSeen[trial.ID]
		e.prevalMu.Unlock()
		if ok {
			return cached.output, cached.err
		}

		output, err := e.runPreValidation(ctx, trial, workspace)

		e.prevalMu.Lock()
		if e.prevalSeen == nil {
			e.prevalSeen = make(map[string]prevalVerdict)
		}
		e.prevalSeen[trial.ID] = prevalVerdict{output: output, err: err}
		e.prevalMu.Unlock()
		return output, err
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (e *TrialExecutor) runPreValidation(ctx context.Context, trial models.Trial, workspace string) (string, error) {
	result, err := e.Runner.Run(ctx, sandbox.Spec{
		Workspace: workspace,
		Command:   e.testCommand(trial),
		Image:     e.Repo.Docker.Image,
		CPUs:      e.Sandbox.CPUs,
		MemoryMB:  e.MemoryMB,
		Timeout:   secondsOr(e.Verifier.PreValTimeout, 180),
	})
	if err != nil {
		return "", fmt.Errorf("pre-validation run: %w", err)
	}
	if result.TimedOut {
		return "", fmt.Errorf("pre-validation timed out; setup or test infrastructure is broken")
	}
	if trial.PromptSource == models.PromptFailingTest && result.ExitCode == 0 {
		return "", fmt.Errorf("test already passes at %s; not a valid failing-test scenario",
			short(trial.PreFixCommit))
	}

	residual, err := findContextFiles(workspace)
	if err != nil {
		return "", err
	}
	if len(residual) > 0 {
		return "", fmt.Errorf("context files remain after stripping: %v", residual)
	}
	return result.Stdout + result.Stderr, nil
}

// applyTreatment resolves the condition's artifact through the cache
// and makes sure its files are present in the workspace. Exactly one
// worker generates for a given fingerprint; the rest restore bytes.
func (e *TrialExecutor) applyTreatment(ctx context.Context, trial models.Trial, cond models.Condition, workspace string) (models.TreatmentMetrics, string, error) {
	fp := cache.Fingerprint(string(cond), e.Repo.URL, trial.PreFixCommit)

	var gen models.TreatmentMetrics
	build := func(ctx context.Context) (*cache.Artifact, error) {
		prompt := assistant.FlatContextPrompt
		if cond == models.ConditionStructuredLayer {
			prompt = assistant.StructuredLayerPrompt
		}
		e.Log.Info("generating treatment artifact",
			"condition", cond, "fingerprint", short(fp))

		res, err := e.GenInvoker.Invoke(ctx, workspace, prompt)
		if err != nil {
			return nil, err
		}
		if res.TimedOut {
			return nil, fmt.Errorf("artifact generation timed out after %.0fs", res.WallClockSeconds)
		}

		paths, err := findContextFiles(workspace)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("artifact generation produced no context files (%.0fs)", res.WallClockSeconds)
		}

		art := &cache.Artifact{Files: make(map[string][]byte, len(paths))}
		for _, p := range paths {
			content, err := os.ReadFile(filepath.Join(workspace, p))
			if err != nil {
				return nil, err
			}
			art.Files[p] = content
		}
		gen = models.TreatmentMetrics{
			WallClockSeconds: res.WallClockSeconds,
			InputTokens:      res.Metrics.InputTokens,
			OutputTokens:     res.Metrics.OutputTokens,
			FilesCreated:     paths,
		}
		return art, nil
	}

	art, hit, err := e.Cache.GetOrBuild(ctx, fp, build)
	if err != nil {
		return models.TreatmentMetrics{}, fp, err
	}

	if hit {
		start := time.Now()
		files := make([]string, 0, len(art.Files))
		for path, content := range art.Files {
			dst := filepath.Join(workspace, path)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return models.TreatmentMetrics{}, fp, err
			}
			if err := os.WriteFile(dst, content, 0644); err != nil {
				return models.TreatmentMetrics{}, fp, err
			}
			files = append(files, path)
		}
		return models.TreatmentMetrics{
			WallClockSeconds: time.Since(start).Seconds(),
			CacheHit:         true,
			FilesCreated:     files,
		}, fp, nil
	}

	// We built it ourselves: the files are already in the workspace
	// and gen was filled by the build closure.
	return gen, fp, nil
}

// buildPrompt assembles the fix prompt from the trial's prompt source.
// Conditions with context artifacts get a preamble pointing the
// assistant at them.
func (e *TrialExecutor) buildPrompt(ctx context.Context, trial models.Trial, cond models.Condition, workspace, prevalOutput string) (string, error) {
	withPreamble := cond.RequiresArtifact()

	switch trial.PromptSource {
	case models.PromptFailingTest:
		if prevalOutput == "" {
			return "", fmt.Errorf("no failing test output captured for %s", trial.ID)
		}
		return assistant.FixPromptFromFailingTest(prevalOutput, withPreamble), nil

	case models.PromptCommitMessage:
		msg, err := gitops.CommitMessage(ctx, workspace, trial.FixCommit)
		if err != nil {
			// Fall back to the message recorded at scan time.
			msg = trial.CommitMessage
		}
		if msg == "" {
			return "", fmt.Errorf("no commit message available for %s", trial.ID)
		}
		return assistant.FixPromptFromCommitMessage(msg, withPreamble), nil

	case models.PromptIssue:
		title := fmt.Sprintf("Issue #%d", trial.IssueNumber)
		return assistant.FixPromptFromIssue(title, trial.CommitMessage, withPreamble), nil

	default:
		return "", fmt.Errorf("unknown prompt source %q", trial.PromptSource)
	}
}

// injectTestFromFix overwrites the trial's test file with the version
// from the fix commit.
func (e *TrialExecutor) injectTestFromFix(ctx context.Context, trial models.Trial, workspace string) error {
	content, err := gitops.ShowFile(ctx, workspace, trial.FixCommit, trial.TestFile)
	if err != nil {
		return err
	}
	dst := filepath.Join(workspace, trial.TestFile)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, content, 0644)
}

// testCommand builds the sandbox command: setup chain, then the test
// command narrowed to the trial's test file and pattern.
func (e *TrialExecutor) testCommand(trial models.Trial) string {
	cmd := e.Repo.Docker.TestCommand
	if trial.TestFile != "" {
		cmd = fmt.Sprintf("%s %s", cmd, trial.TestFile)
	}
	if trial.TestPattern != "" {
		cmd = fmt.Sprintf("%s -k '%s'", cmd, trial.TestPattern)
	}
	if len(e.Repo.Docker.Setup) > 0 {
		cmd = strings.Join(e.Repo.Docker.Setup, " && ") + " && " + cmd
	}
	return cmd
}

// retryTransient retries fn with exponential backoff per the retry
// config. Only infrastructure operations go through here; measured
// outcomes are never retried.
func (e *TrialExecutor) retryTransient(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	attempts := e.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(e.Retry.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(e.Retry.MaxDelayMs) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Warn("retrying", "op", op, "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * e.Retry.Multiplier)
			if maxDelay > 0 && delay > maxDelay {
				delay = maxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// stripContextFiles removes AI context files from the workspace:
// every AGENTS.md and CLAUDE.md, the .github directory, and the
// repo's configured extras. Returns the removed paths.
func stripContextFiles(workspace string, extra []string) ([]string, error) {
	var removed []string

	paths, err := findContextFiles(workspace)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := os.Remove(filepath.Join(workspace, p)); err != nil {
			return nil, err
		}
		removed = append(removed, p)
	}

	githubDir := filepath.Join(workspace, ".github")
	if _, err := os.Stat(githubDir); err == nil {
		if err := os.RemoveAll(githubDir); err != nil {
			return nil, err
		}
		removed = append(removed, ".github")
	}

	root, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	for _, e := range extra {
		target := filepath.Join(root, e)
		// Guard against strip_extra entries escaping the workspace.
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			continue
		}
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, err
		}
		removed = append(removed, e)
	}

	return removed, nil
}

// findContextFiles lists AGENTS.md and CLAUDE.md files relative to
// the workspace root, skipping .git.
func findContextFiles(workspace string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == "AGENTS.md" || d.Name() == "CLAUDE.md" {
			rel, err := filepath.Rel(workspace, path)
			if err != nil {
				return err
			}
			found = append(found, rel)
		}
		return nil
	})
	return found, err
}

func secondsOr(sec, fallback float64) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
