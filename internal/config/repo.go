package config

import (
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"

	"github.com/rvullo/fixlab/internal/models"
)

// DefaultRepoConfig returns a RepoConfig with default values.
func DefaultRepoConfig() models.RepoConfig {
	return models.RepoConfig{
		DefaultBranch: "main",
	}
}

// LoadRepoConfig loads and parses a repo.toml file from the given
// filesystem (the trial store directory).
func LoadRepoConfig(fsys fs.FS) (models.RepoConfig, error) {
	cfg := DefaultRepoConfig()

	data, err := fs.ReadFile(fsys, "repo.toml")
	if err != nil {
		return cfg, fmt.Errorf("reading repo.toml: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing repo.toml: %w", err)
	}

	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
