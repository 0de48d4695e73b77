package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rvullo/fixlab/internal/assistant"
	"github.com/rvullo/fixlab/internal/cache"
	"github.com/rvullo/fixlab/internal/config"
	"github.com/rvullo/fixlab/internal/executor"
	"github.com/rvullo/fixlab/internal/gitops"
	"github.com/rvullo/fixlab/internal/logging"
	"github.com/rvullo/fixlab/internal/models"
	"github.com/rvullo/fixlab/internal/report"
	"github.com/rvullo/fixlab/internal/runset"
	"github.com/rvullo/fixlab/internal/sandbox"
	"github.com/rvullo/fixlab/internal/stats"
	"github.com/rvullo/fixlab/internal/trialstore"
)

func newRunCmd() *cobra.Command {
	var (
		concurrency    int
		conditions     []string
		categories     []string
		dryRun         bool
		keepWorkspaces bool
		force          bool
		forceErrors    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute (or resume) a batch of trials across conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadRunConfig(flagConfig)
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}
			if len(conditions) > 0 {
				cfg.Conditions = conditions
			}
			if len(categories) > 0 {
				cfg.Categories = categories
			}
			if keepWorkspaces {
				cfg.KeepWorkspaces = true
			}
			if flagLogLevel != "" {
				cfg.LogLevel = flagLogLevel
			}
			if flagLogFormat != "" {
				cfg.LogFormat = flagLogFormat
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat)

			set, err := trialstore.Load(cfg.TrialsDir)
			if err != nil {
				return err
			}
			trials := set.Filter(cfg.Categories)
			if len(trials) == 0 {
				return fmt.Errorf("no trials in %s match categories %v", cfg.TrialsDir, cfg.Categories)
			}

			conds := make([]models.Condition, 0, len(cfg.Conditions))
			for _, name := range cfg.Conditions {
				c, err := models.ParseCondition(name)
				if err != nil {
					return err
				}
				conds = append(conds, c)
			}
			if len(conds) == 0 {
				conds = models.AllConditions
			}

			name := "runset"
			if cfg.Name != nil && *cfg.Name != "" {
				name = *cfg.Name
			}
			runSetPath := filepath.Join(cfg.ResultsDir, name+".jsonl")
			store, err := runset.Open(runSetPath)
			if err != nil {
				return err
			}
			defer store.Close()

			memMB, err := sandbox.ParseMemory(cfg.Sandbox.Memory)
			if err != nil {
				return fmt.Errorf("sandbox memory: %w", err)
			}
			runner, err := sandbox.New(cfg.Sandbox, log)
			if err != nil {
				return err
			}

			artifactCache, err := cache.New(cfg.CacheDir, log,
				cache.WithLeaseTTL(time.Duration(cfg.LeaseTTLSec*float64(time.Second))))
			if err != nil {
				return err
			}

			// A local reference clone makes per-trial clones near
			// instant. Losing it only costs speed.
			reference := filepath.Join(cfg.WorkspacesDir, ".reference")
			if _, err := os.Stat(reference); os.IsNotExist(err) {
				log.Info("creating reference clone", "url", set.Repo.URL)
				if err := gitops.Clone(ctx, set.Repo.URL, reference, gitops.CloneOptions{}); err != nil {
					log.Warn("reference clone failed, falling back to direct clones", "error", err)
					reference = ""
				}
			}

			exec := &executor.TrialExecutor{
				Repo:   set.Repo,
				Runner: runner,
				Invoker: assistant.NewCLIInvoker(
					cfg.Assistant.Command, cfg.Assistant.Model, cfg.Assistant.MaxTurns,
					time.Duration(cfg.Assistant.TimeoutSec*float64(time.Second)), log),
				GenInvoker: assistant.NewCLIInvoker(
					cfg.Assistant.Command, cfg.Assistant.Model, cfg.Assistant.MaxTurns,
					time.Duration(cfg.Assistant.GenTimeoutSec*float64(time.Second)), log),
				Cache:          artifactCache,
				WorkspacesDir:  cfg.WorkspacesDir,
				ReferenceClone: reference,
				KeepWorkspaces: cfg.KeepWorkspaces,
				Sandbox:        cfg.Sandbox,
				MemoryMB:       memMB,
				Verifier:       cfg.Verifier,
				Retry:          cfg.Retry,
				Log:            log,
			}
			coord := &executor.Coordinator{
				Exec:        exec,
				Store:       store,
				Concurrency: cfg.Concurrency,
				Force:       force,
				ForceErrors: forceErrors,
				Log:         log,
			}

			if dryRun {
				todo, skipped := coord.Plan(trials, conds)
				fmt.Printf("Would execute %d pair(s), skip %d already recorded:\n", len(todo), len(skipped))
				for _, p := range todo {
					fmt.Printf("  %s / %s\n", p.Trial.ID, p.Condition)
				}
				return nil
			}

			summary, err := coord.Run(ctx, trials, conds)
			if err != nil {
				return err
			}

			fmt.Printf("\nRun set: %s\n", runSetPath)
			fmt.Printf("Executed: %d (skipped %d of %d)\n", summary.Executed, summary.Skipped, summary.Total)
			fmt.Printf("Pass: %d  Fail: %d  Error: %d\n", summary.Passes, summary.Fails, summary.Errors)
			fmt.Printf("Duration: %.1fs\n", summary.DurationSec)

			analysis, err := stats.Analyze(store.Latest(), stats.Options{
				Confidence:       cfg.Analysis.Confidence,
				MaxIntervalWidth: cfg.Analysis.MaxIntervalWidth,
			})
			if err != nil {
				return err
			}
			reporter, err := report.New(cfg.ResultsDir)
			if err != nil {
				return err
			}
			rep := reporter.Compile(runSetPath, store.Latest(), analysis)
			jsonPath, err := reporter.WriteJSON(rep)
			if err != nil {
				return err
			}
			mdPath, err := reporter.WriteMarkdown(rep)
			if err != nil {
				return err
			}
			fmt.Printf("Report: %s, %s\n", jsonPath, mdPath)

			if summary.Cancelled {
				return fmt.Errorf("run cancelled before completion")
			}
			if summary.Errors > 0 {
				return fmt.Errorf("%d trial(s) recorded harness errors; re-run with --force-errors after fixing the cause", summary.Errors)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (overrides config)")
	cmd.Flags().StringSliceVar(&conditions, "conditions", nil, "conditions to run (overrides config)")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "trial categories to include (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing")
	cmd.Flags().BoolVar(&keepWorkspaces, "keep-workspaces", false, "keep trial workspaces for debugging")
	cmd.Flags().BoolVar(&force, "force", false, "re-run pairs that already have a terminal record")
	cmd.Flags().BoolVar(&forceErrors, "force-errors", false, "re-run pairs whose latest record is an error")

	return cmd
}
