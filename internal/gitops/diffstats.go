package gitops

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats measures uncommitted workspace changes.
type DiffStats struct {
	LinesChanged int
	FilesChanged int
	Files        []string
}

var contextFileRe = regexp.MustCompile(
	`(^|/)(AGENTS\.md|CLAUDE\.md|\.github/|\.claude/|\.cursor/|\.cursorrules)`,
)

// IsContextFile reports whether path is an AI context file. Such
// files are harness artifacts, not assistant work product, and are
// excluded from diff stats.
func IsContextFile(path string) bool {
	return contextFileRe.MatchString(path)
}

// UncommittedDiffStats measures all uncommitted changes in the
// workspace (tracked and untracked). Everything is staged first so
// newly created files show up.
func UncommittedDiffStats(ctx context.Context, repoPath string) (DiffStats, error) {
	if _, err := runGit(ctx, repoPath, "add", "-A"); err != nil {
		return DiffStats{}, fmt.Errorf("git add: %w", err)
	}

	raw, err := runGit(ctx, repoPath, "diff", "--cached", "HEAD")
	if err != nil {
		return DiffStats{}, fmt.Errorf("git diff: %w", err)
	}
	return parseDiffStats([]byte(raw))
}

func parseDiffStats(raw []byte) (DiffStats, error) {
	if len(raw) == 0 {
		return DiffStats{}, nil
	}

	fileDiffs, err := diff.ParseMultiFileDiff(raw)
	if err != nil {
		return DiffStats{}, fmt.Errorf("parsing diff: %w", err)
	}

	var stats DiffStats
	for _, fd := range fileDiffs {
		name := diffFileName(fd)
		if name == "" || IsContextFile(name) {
			continue
		}
		st := fd.Stat()
		stats.LinesChanged += int(st.Added + st.Deleted + st.Changed)
		stats.Files = append(stats.Files, name)
	}
	sort.Strings(stats.Files)
	stats.FilesChanged = len(stats.Files)
	return stats, nil
}

// diffFileName picks the post-image name, falling back to the
// pre-image for deletions. Git prefixes names with a/ and b/.
func diffFileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "b/")
	name = strings.TrimPrefix(name, "a/")
	if name == "/dev/null" {
		return ""
	}
	return name
}
