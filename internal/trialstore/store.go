// Package trialstore persists trial definitions as one TOML record
// per trial, plus a repo.toml describing the repository under
// experiment. Records are written by the scanner and read-only
// afterwards; curation happens by editing or removing files between
// scan and run.
package trialstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rvullo/fixlab/internal/config"
	"github.com/rvullo/fixlab/internal/models"
)

// TrialSet is a fully loaded trial directory.
type TrialSet struct {
	Repo   models.RepoConfig
	Trials []models.Trial
}

// Load reads a trial directory from disk.
func Load(dir string) (*TrialSet, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("trial store %s: %w", dir, err)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads a trial set from the given filesystem. Every *.toml
// file except repo.toml is one trial record.
func LoadFS(fsys fs.FS) (*TrialSet, error) {
	repo, err := config.LoadRepoConfig(fsys)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading trial store: %w", err)
	}

	seen := make(map[string]bool)
	var trials []models.Trial
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "repo.toml" || !strings.HasSuffix(name, ".toml") {
			continue
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading trial %s: %w", name, err)
		}

		var trial models.Trial
		if _, err := toml.Decode(string(data), &trial); err != nil {
			return nil, fmt.Errorf("parsing trial %s: %w", name, err)
		}
		if trial.ID == "" {
			trial.ID = strings.TrimSuffix(name, ".toml")
		}
		if err := trial.Validate(); err != nil {
			return nil, fmt.Errorf("trial %s: %w", name, err)
		}
		if seen[trial.ID] {
			return nil, fmt.Errorf("duplicate trial id %q", trial.ID)
		}
		seen[trial.ID] = true
		trials = append(trials, trial)
	}

	if len(trials) == 0 {
		return nil, fmt.Errorf("trial store contains no trials")
	}

	sort.Slice(trials, func(i, j int) bool { return trials[i].ID < trials[j].ID })

	return &TrialSet{Repo: repo, Trials: trials}, nil
}

// Save writes a repo config and trial records into dir, one file per
// trial. Existing records with the same id are overwritten; other
// files are left alone so manual curation survives a re-scan.
func Save(dir string, repo models.RepoConfig, trials []models.Trial) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating trial store: %w", err)
	}

	if err := writeTOML(filepath.Join(dir, "repo.toml"), repo); err != nil {
		return err
	}

	for _, trial := range trials {
		if err := trial.Validate(); err != nil {
			return err
		}
		path := filepath.Join(dir, trial.ID+".toml")
		if err := writeTOML(path, trial); err != nil {
			return err
		}
	}
	return nil
}

// Filter returns the trials matching the given category names; an
// empty filter keeps everything.
func (ts *TrialSet) Filter(categories []string) []models.Trial {
	if len(categories) == 0 {
		return ts.Trials
	}
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var out []models.Trial
	for _, t := range ts.Trials {
		if want[string(t.Category)] {
			out = append(out, t)
		}
	}
	return out
}

func writeTOML(path string, v any) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
