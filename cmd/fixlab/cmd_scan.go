package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rvullo/fixlab/internal/config"
	"github.com/rvullo/fixlab/internal/gitops"
	"github.com/rvullo/fixlab/internal/logging"
	"github.com/rvullo/fixlab/internal/models"
	"github.com/rvullo/fixlab/internal/scanner"
	"github.com/rvullo/fixlab/internal/trialstore"
)

func newScanCmd() *cobra.Command {
	var (
		repoURL     string
		outDir      string
		limit       int
		since       string
		image       string
		testCommand string
		setup       []string
		branch      string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Mine bug-fix candidates from repository history into a trial directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New(flagLogLevel, flagLogFormat)

			repoPath := repoURL
			if isRemote(repoURL) {
				tmp, err := os.MkdirTemp("", "fixlab-scan-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				log.Info("cloning for scan", "url", repoURL)
				if err := gitops.Clone(ctx, repoURL, tmp, gitops.CloneOptions{}); err != nil {
					return err
				}
				repoPath = tmp
			}

			trials, err := scanner.New(log).Scan(ctx, repoPath, scanner.Options{
				Limit: limit,
				Since: since,
			})
			var scanErr *scanner.ScanError
			if errors.As(err, &scanErr) && len(trials) > 0 {
				// Partial results are still worth keeping.
				log.Warn("scan ended early", "error", err, "candidates", len(trials))
			} else if err != nil {
				return err
			}
			if len(trials) == 0 {
				return scanner.ErrNoMatches
			}

			repoCfg := config.DefaultRepoConfig()
			repoCfg.URL = repoURL
			if branch != "" {
				repoCfg.DefaultBranch = branch
			}
			repoCfg.Docker = models.DockerConfig{
				Image:       image,
				Setup:       setup,
				TestCommand: testCommand,
			}
			if err := repoCfg.Validate(); err != nil {
				return err
			}

			if err := trialstore.Save(outDir, repoCfg, trials); err != nil {
				return err
			}
			fmt.Printf("Wrote %d trial(s) to %s\n", len(trials), outDir)
			fmt.Println("Review and curate the records before running; delete any that are not real bug fixes.")
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "repo", "", "repository URL or local path to scan (required)")
	cmd.Flags().StringVar(&outDir, "out", "trials", "output trial directory")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum candidates to keep")
	cmd.Flags().StringVar(&since, "since", "", "only scan commits after this date (git --since)")
	cmd.Flags().StringVar(&image, "image", "", "docker image used to run the repo's tests (required)")
	cmd.Flags().StringVar(&testCommand, "test-command", "", "command that runs the repo's tests (required)")
	cmd.Flags().StringArrayVar(&setup, "setup", nil, "setup command run before tests (repeatable)")
	cmd.Flags().StringVar(&branch, "branch", "", "default branch override")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("test-command")

	return cmd
}

func isRemote(repo string) bool {
	return strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@")
}
