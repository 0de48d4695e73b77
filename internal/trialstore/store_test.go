package trialstore

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rvullo/fixlab/internal/models"
)

const repoTOML = `url = "https://example.com/repo.git"
default_branch = "main"

[docker]
image = "python:3.12"
test_command = "pytest"
`

func trialTOML(id string) string {
	var sb strings.Builder
	if id != "" {
		sb.WriteString(`id = "` + id + `"` + "\n")
	}
	sb.WriteString(`category = "simple_fix"
pre_fix_commit = "aaa111"
fix_commit = "bbb222"
prompt_source = "commit_message"
commit_message = "Fix something"
`)
	return sb.String()
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"repo.toml":      {Data: []byte(repoTOML)},
		"zz-last.toml":   {Data: []byte(trialTOML(""))},
		"aa-first.toml":  {Data: []byte(trialTOML("aa-first"))},
		"notes.md":       {Data: []byte("curation notes, ignored")},
		"sub/extra.toml": {Data: []byte("ignored, not top level")},
	}

	ts, err := LoadFS(fsys)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if ts.Repo.Docker.Image != "python:3.12" {
		t.Errorf("repo image = %q", ts.Repo.Docker.Image)
	}
	if len(ts.Trials) != 2 {
		t.Fatalf("got %d trials, want 2", len(ts.Trials))
	}
	// Sorted by id; the id defaults from the filename when omitted.
	if ts.Trials[0].ID != "aa-first" || ts.Trials[1].ID != "zz-last" {
		t.Errorf("ids = %q, %q", ts.Trials[0].ID, ts.Trials[1].ID)
	}
}

func TestLoadFSMissingRepoConfig(t *testing.T) {
	fsys := fstest.MapFS{
		"t1.toml": {Data: []byte(trialTOML("t1"))},
	}
	if _, err := LoadFS(fsys); err == nil {
		t.Fatal("expected error for missing repo.toml")
	}
}

func TestLoadFSDuplicateID(t *testing.T) {
	fsys := fstest.MapFS{
		"repo.toml": {Data: []byte(repoTOML)},
		"a.toml":    {Data: []byte(trialTOML("same"))},
		"b.toml":    {Data: []byte(trialTOML("same"))},
	}
	_, err := LoadFS(fsys)
	if err == nil || !strings.Contains(err.Error(), "duplicate trial id") {
		t.Fatalf("err = %v, want duplicate id error", err)
	}
}

func TestLoadFSInvalidTrial(t *testing.T) {
	fsys := fstest.MapFS{
		"repo.toml": {Data: []byte(repoTOML)},
		"bad.toml":  {Data: []byte("category = \"nonsense\"\n")},
	}
	if _, err := LoadFS(fsys); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadFSEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"repo.toml": {Data: []byte(repoTOML)},
	}
	_, err := LoadFS(fsys)
	if err == nil || !strings.Contains(err.Error(), "no trials") {
		t.Fatalf("err = %v, want no-trials error", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo := models.RepoConfig{
		URL:           "https://example.com/repo.git",
		DefaultBranch: "main",
		Docker: models.DockerConfig{
			Image:       "golang:1.25",
			Setup:       []string{"go mod download"},
			TestCommand: "go test ./...",
		},
		StripExtra: []string{".cursorrules"},
	}
	trials := []models.Trial{
		{
			ID:           "fix-parser",
			Category:     models.CategoryTargetedRefactor,
			PreFixCommit: "aaa111",
			FixCommit:    "bbb222",
			TestFile:     "parser_test.go",
			PromptSource: models.PromptFailingTest,
			IssueNumber:  12,
		},
		{
			ID:           "fix-races",
			Category:     models.CategorySimpleFix,
			PreFixCommit: "ccc333",
			FixCommit:    "ddd444",
			PromptSource: models.PromptCommitMessage,
		},
	}

	if err := Save(dir, repo, trials); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ts, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ts.Repo.URL != repo.URL || ts.Repo.Docker.TestCommand != repo.Docker.TestCommand {
		t.Errorf("repo round trip mismatch: %+v", ts.Repo)
	}
	if len(ts.Trials) != 2 {
		t.Fatalf("got %d trials", len(ts.Trials))
	}
	if ts.Trials[0] != trials[0] {
		t.Errorf("trial round trip mismatch:\n got %+v\nwant %+v", ts.Trials[0], trials[0])
	}
}

func TestFilter(t *testing.T) {
	ts := &TrialSet{Trials: []models.Trial{
		{ID: "a", Category: models.CategorySimpleFix},
		{ID: "b", Category: models.CategoryComplexFix},
		{ID: "c", Category: models.CategorySimpleFix},
	}}

	got := ts.Filter([]string{"simple_fix"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Filter simple_fix = %+v", got)
	}
	if got := ts.Filter(nil); len(got) != 3 {
		t.Errorf("empty filter = %d trials, want 3", len(got))
	}
	if got := ts.Filter([]string{"targeted_refactor"}); len(got) != 0 {
		t.Errorf("no-match filter = %+v", got)
	}
}
