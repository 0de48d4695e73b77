package models

import "fmt"

// Category classifies a trial by the size of the historical fix.
type Category string

const (
	CategorySimpleFix        Category = "simple_fix"
	CategoryTargetedRefactor Category = "targeted_refactor"
	CategoryComplexFix       Category = "complex_fix"
)

// PromptSource controls how the assistant prompt is built for a trial.
type PromptSource string

const (
	PromptFailingTest   PromptSource = "failing_test"
	PromptCommitMessage PromptSource = "commit_message"
	PromptIssue         PromptSource = "issue"
)

// Trial is one replayable bug-fix scenario mined from repository
// history. Trials are immutable after scanning; curation happens by
// editing or deleting the serialized record before a run.
type Trial struct {
	ID           string       `toml:"id" json:"id"`
	Category     Category     `toml:"category" json:"category"`
	PreFixCommit string       `toml:"pre_fix_commit" json:"pre_fix_commit"`
	FixCommit    string       `toml:"fix_commit" json:"fix_commit"`
	TestFile     string       `toml:"test_file,omitempty" json:"test_file,omitempty"`
	TestPattern  string       `toml:"test_pattern,omitempty" json:"test_pattern,omitempty"`
	PromptSource PromptSource `toml:"prompt_source" json:"prompt_source"`
	IssueNumber  int          `toml:"issue_number,omitempty" json:"issue_number,omitempty"`

	// Scanner provenance, informational only.
	CommitMessage string `toml:"commit_message,omitempty" json:"commit_message,omitempty"`
	LinesChanged  int    `toml:"lines_changed,omitempty" json:"lines_changed,omitempty"`
	FilesChanged  int    `toml:"files_changed,omitempty" json:"files_changed,omitempty"`
}

// Validate checks structural invariants of a trial record.
func (t Trial) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trial missing id")
	}
	switch t.Category {
	case CategorySimpleFix, CategoryTargetedRefactor, CategoryComplexFix:
	default:
		return fmt.Errorf("trial %s: unknown category %q", t.ID, t.Category)
	}
	if t.PreFixCommit == "" || t.FixCommit == "" {
		return fmt.Errorf("trial %s: pre_fix_commit and fix_commit are required", t.ID)
	}
	switch t.PromptSource {
	case PromptFailingTest, PromptCommitMessage, PromptIssue:
	default:
		return fmt.Errorf("trial %s: unknown prompt_source %q", t.ID, t.PromptSource)
	}
	if t.PromptSource == PromptFailingTest && t.TestFile == "" {
		return fmt.Errorf("trial %s: failing_test trials require test_file", t.ID)
	}
	return nil
}

// DockerConfig describes how to build and test the target repository
// inside a sandbox.
type DockerConfig struct {
	Image       string   `toml:"image" json:"image"`
	Setup       []string `toml:"setup,omitempty" json:"setup,omitempty"`
	TestCommand string   `toml:"test_command" json:"test_command"`
}

// RepoConfig identifies the repository under experiment and its
// sandbox settings. Stored once per trial directory (repo.toml).
type RepoConfig struct {
	URL           string       `toml:"url" json:"url"`
	DefaultBranch string       `toml:"default_branch" json:"default_branch"`
	Docker        DockerConfig `toml:"docker" json:"docker"`

	// Extra context files or directories removed from every
	// workspace before the assistant runs (e.g. ".cursorrules").
	StripExtra []string `toml:"strip_extra,omitempty" json:"strip_extra,omitempty"`
}

// Validate checks the repo config.
func (r RepoConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("repo config missing url")
	}
	if r.Docker.Image == "" {
		return fmt.Errorf("repo config missing docker.image")
	}
	if r.Docker.TestCommand == "" {
		return fmt.Errorf("repo config missing docker.test_command")
	}
	return nil
}
