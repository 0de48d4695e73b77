package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadRunConfigMissingFile(t *testing.T) {
	cfg, err := LoadRunConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
	if cfg.Concurrency != 1 || cfg.Sandbox.Type != "docker" || cfg.Analysis.Confidence != 0.95 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRunConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `name: parser-eval
concurrency: 4
conditions: [baseline, flat_context]
sandbox:
  type: modal
  memory: 8G
assistant:
  model: some-model
  max_turns: 25
analysis:
  confidence: 0.99
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if cfg.Name == nil || *cfg.Name != "parser-eval" {
		t.Errorf("Name = %v", cfg.Name)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if cfg.Sandbox.Type != "modal" || cfg.Sandbox.Memory != "8G" {
		t.Errorf("Sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Assistant.Model != "some-model" || cfg.Assistant.MaxTurns != 25 {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Analysis.Confidence != 0.99 {
		t.Errorf("Confidence = %v", cfg.Analysis.Confidence)
	}
	// Unset fields keep their defaults.
	if cfg.Assistant.Command != "claude" || cfg.Verifier.TimeoutSec != 180 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadRunConfigInvalidCondition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("conditions: [baseline, bogus]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadRunConfig(path)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v, want unknown condition error", err)
	}
}

func TestLoadRunConfigInvalidConfidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("analysis:\n  confidence: 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRunConfig(path); err == nil {
		t.Fatal("expected confidence validation error")
	}
}

func TestLoadRepoConfig(t *testing.T) {
	fsys := fstest.MapFS{"repo.toml": {Data: []byte(`url = "https://example.com/repo.git"

[docker]
image = "node:22"
setup = ["npm ci"]
test_command = "npm test"
`)}}

	cfg, err := LoadRepoConfig(fsys)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if cfg.URL != "https://example.com/repo.git" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q, want default main", cfg.DefaultBranch)
	}
	if cfg.Docker.Image != "node:22" || cfg.Docker.TestCommand != "npm test" {
		t.Errorf("Docker = %+v", cfg.Docker)
	}
}

func TestLoadRepoConfigInvalid(t *testing.T) {
	fsys := fstest.MapFS{"repo.toml": {Data: []byte(`url = "https://example.com/repo.git"` + "\n")}}
	if _, err := LoadRepoConfig(fsys); err == nil {
		t.Fatal("expected validation error for missing docker settings")
	}
	if _, err := LoadRepoConfig(fstest.MapFS{}); err == nil {
		t.Fatal("expected error for missing repo.toml")
	}
}
