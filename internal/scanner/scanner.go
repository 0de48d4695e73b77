// Package scanner mines a repository's history for candidate
// bug-fix trials: commits whose message indicates a fix and whose
// diff touches a test file.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/rvullo/fixlab/internal/models"
)

// ErrNoMatches means the repository history contained no commits
// matching the bug-fix heuristics.
var ErrNoMatches = errors.New("no bug-fix commits found")

// ScanError wraps failures to read repository history. Candidates
// collected before the failure are still returned alongside it.
type ScanError struct {
	Repo string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Repo, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Options bounds a scan.
type Options struct {
	Limit int    // maximum candidates to return (default 50)
	Since string // optional git --since expression
}

var bugFixRe = regexp.MustCompile(
	`(?i)\bfix\b|\bbug\b|\bfixes?\s+#\d+|\bcloses?\s+#\d+|\bresolves?\s+#\d+`,
)

var issueRe = regexp.MustCompile(`#(\d+)`)

var testPathRe = regexp.MustCompile(`(?i)test|spec`)

// Scanner mines bug-fix candidates from git history. Read-only: it
// never mutates the scanned repository.
type Scanner struct {
	log *slog.Logger
}

// New creates a scanner.
func New(log *slog.Logger) *Scanner {
	return &Scanner{log: log}
}

// IsBugFix reports whether a commit message matches the bug-fix
// heuristics.
func IsBugFix(message string) bool {
	return bugFixRe.MatchString(message)
}

// Categorize buckets a fix by diff size.
func Categorize(lines, files int) models.Category {
	switch {
	case lines < 50 && files <= 2:
		return models.CategorySimpleFix
	case lines < 200 && files <= 5:
		return models.CategoryTargetedRefactor
	default:
		return models.CategoryComplexFix
	}
}

// Scan walks the history of repoPath and returns up to opts.Limit
// candidate trials. Candidates gathered before a mid-scan failure
// are returned together with the error.
func (s *Scanner) Scan(ctx context.Context, repoPath string, opts Options) ([]models.Trial, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	// Over-fetch: most commits will not match the heuristics.
	args := []string{"log", "--format=%H|%s", fmt.Sprintf("-%d", limit*10)}
	if opts.Since != "" {
		args = append(args, "--since="+opts.Since)
	}

	out, err := runGit(ctx, repoPath, args...)
	if err != nil {
		return nil, &ScanError{Repo: repoPath, Err: err}
	}

	seen := make(map[string]int)
	var trials []models.Trial

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if ctx.Err() != nil {
			return trials, &ScanError{Repo: repoPath, Err: ctx.Err()}
		}

		hash, message, ok := strings.Cut(line, "|")
		if !ok || !IsBugFix(message) {
			continue
		}

		// Root commits have no pre-fix state to replay.
		parent, err := runGit(ctx, repoPath, "rev-parse", hash+"^")
		if err != nil {
			continue
		}
		parent = strings.TrimSpace(parent)

		lines, files, err := commitStats(ctx, repoPath, hash)
		if err != nil {
			s.log.Warn("skipping commit, diff stats unavailable", "commit", hash, "error", err)
			continue
		}

		testFile := findTestFile(ctx, repoPath, hash)

		issue := 0
		if m := issueRe.FindStringSubmatch(message); m != nil {
			issue, _ = strconv.Atoi(m[1])
		}

		promptSource := models.PromptCommitMessage
		if testFile != "" {
			promptSource = models.PromptFailingTest
		}

		id := slugify(message)
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s-%d", id, n+1)
		} else {
			seen[id] = 1
		}

		trials = append(trials, models.Trial{
			ID:            id,
			Category:      Categorize(lines, files),
			PreFixCommit:  parent,
			FixCommit:     hash,
			TestFile:      testFile,
			PromptSource:  promptSource,
			IssueNumber:   issue,
			CommitMessage: message,
			LinesChanged:  lines,
			FilesChanged:  files,
		})

		if len(trials) >= limit {
			break
		}
	}

	if len(trials) == 0 {
		return nil, &ScanError{Repo: repoPath, Err: ErrNoMatches}
	}
	return trials, nil
}

var shortStatFilesRe = regexp.MustCompile(`(\d+) files? changed`)
var shortStatInsRe = regexp.MustCompile(`(\d+) insertions?`)
var shortStatDelRe = regexp.MustCompile(`(\d+) deletions?`)

func commitStats(ctx context.Context, repoPath, commit string) (lines, files int, err error) {
	out, err := runGit(ctx, repoPath, "diff", "--shortstat", commit+"^", commit)
	if err != nil {
		return 0, 0, err
	}
	if m := shortStatFilesRe.FindStringSubmatch(out); m != nil {
		files, _ = strconv.Atoi(m[1])
	}
	if m := shortStatInsRe.FindStringSubmatch(out); m != nil {
		n, _ := strconv.Atoi(m[1])
		lines += n
	}
	if m := shortStatDelRe.FindStringSubmatch(out); m != nil {
		n, _ := strconv.Atoi(m[1])
		lines += n
	}
	return lines, files, nil
}

func findTestFile(ctx context.Context, repoPath, commit string) string {
	out, err := runGit(ctx, repoPath, "diff", "--name-only", commit+"^", commit)
	if err != nil {
		return ""
	}
	for _, file := range strings.Split(strings.TrimSpace(out), "\n") {
		if file != "" && testPathRe.MatchString(file) {
			return file
		}
	}
	return ""
}

var slugStripRe = regexp.MustCompile(`[^\w\s-]`)
var slugDashRe = regexp.MustCompile(`[-\s]+`)

func slugify(text string) string {
	if len(text) > 50 {
		text = text[:50]
	}
	text = slugStripRe.ReplaceAllString(strings.ToLower(text), "")
	text = slugDashRe.ReplaceAllString(text, "-")
	text = strings.Trim(text, "-")
	if len(text) > 50 {
		text = text[:50]
	}
	return text
}
