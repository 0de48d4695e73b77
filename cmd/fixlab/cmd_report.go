package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rvullo/fixlab/internal/config"
	"github.com/rvullo/fixlab/internal/report"
	"github.com/rvullo/fixlab/internal/runset"
	"github.com/rvullo/fixlab/internal/stats"
)

func newReportCmd() *cobra.Command {
	var runSetPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the analysis report for an existing run set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunConfig(flagConfig)
			if err != nil {
				return err
			}

			path := runSetPath
			if path == "" {
				name := "runset"
				if cfg.Name != nil && *cfg.Name != "" {
					name = *cfg.Name
				}
				path = filepath.Join(cfg.ResultsDir, name+".jsonl")
			}

			store, err := runset.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			records := store.Latest()
			if len(records) == 0 {
				return fmt.Errorf("run set %s is empty", path)
			}

			analysis, err := stats.Analyze(records, stats.Options{
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
			rep := reporter.Compile(path, records, analysis)
			jsonPath, err := reporter.WriteJSON(rep)
			if err != nil {
				return err
			}
			mdPath, err := reporter.WriteMarkdown(rep)
			if err != nil {
				return err
			}

			fmt.Println(report.Markdown(rep))
			fmt.Printf("Written: %s, %s\n", jsonPath, mdPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&runSetPath, "run-set", "", "run set JSONL file (default: from config)")
	return cmd
}
