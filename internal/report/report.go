// Package report renders a run set's records and analysis into JSON
// and Markdown files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rvullo/fixlab/internal/models"
	"github.com/rvullo/fixlab/internal/stats"
)

// Report is the complete rendered output of one run set.
type Report struct {
	ID          string             `json:"id"`
	RunSet      string             `json:"run_set"`
	GeneratedAt time.Time          `json:"generated_at"`
	Analysis    stats.Analysis     `json:"analysis"`
	Records     []models.RunRecord `json:"records"`
}

// Reporter writes reports into an output directory.
type Reporter struct {
	OutputDir string
}

// New creates a Reporter, creating the output directory if needed.
func New(outputDir string) (*Reporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &Reporter{OutputDir: outputDir}, nil
}

// Compile assembles a report from the effective records of a run set.
// Records are ordered by trial then condition so reports diff cleanly
// across runs.
func (r *Reporter) Compile(runSet string, records []models.RunRecord, analysis stats.Analysis) Report {
	sorted := make([]models.RunRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TrialID != sorted[j].TrialID {
			return sorted[i].TrialID < sorted[j].TrialID
		}
		return sorted[i].Condition < sorted[j].Condition
	})

	now := time.Now()
	return Report{
		ID:          now.Format("2006-01-02-150405"),
		RunSet:      runSet,
		GeneratedAt: now,
		Analysis:    analysis,
		Records:     sorted,
	}
}

// WriteJSON writes the report as indented JSON and returns its path.
func (r *Reporter) WriteJSON(rep Report) (string, error) {
	path := filepath.Join(r.OutputDir, rep.ID+".json")
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// WriteMarkdown writes a human-readable summary and returns its path.
func (r *Reporter) WriteMarkdown(rep Report) (string, error) {
	path := filepath.Join(r.OutputDir, rep.ID+".md")
	if err := os.WriteFile(path, []byte(Markdown(rep)), 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// Markdown renders the report body.
func Markdown(rep Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run Report: %s\n\n", rep.ID)
	fmt.Fprintf(&b, "**Run set:** %s  \n", rep.RunSet)
	fmt.Fprintf(&b, "**Generated:** %s  \n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Confidence:** %.0f%%\n\n", rep.Analysis.Confidence*100)

	b.WriteString("## Conditions\n\n")
	b.WriteString("| Condition | Trials | Pass | Fail | Error | Rate | CI |\n")
	b.WriteString("|-----------|--------|------|------|-------|------|----|\n")
	for _, cs := range rep.Analysis.Conditions {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %.0f%% | [%.1f%%, %.1f%%] |\n",
			cs.Condition, cs.Trials, cs.Passes, cs.Fails, cs.Errors,
			cs.SuccessRate*100, cs.CI.Lower*100, cs.CI.Upper*100)
	}

	if len(rep.Analysis.Comparisons) > 0 {
		b.WriteString("\n## Comparisons\n\n")
		b.WriteString("| Condition | Against | Diff | CI | Verdict |\n")
		b.WriteString("|-----------|---------|------|----|---------|\n")
		for _, cmp := range rep.Analysis.Comparisons {
			verdict := "not significant"
			if cmp.Significant {
				verdict = "significant"
			}
			if cmp.Inconclusive {
				verdict += " (inconclusive: interval too wide)"
			}
			fmt.Fprintf(&b, "| %s | %s | %+.1f%% | [%+.1f%%, %+.1f%%] | %s |\n",
				cmp.Condition, cmp.Against, cmp.Diff*100,
				cmp.CI.Lower*100, cmp.CI.Upper*100, verdict)
		}
	}

	b.WriteString("\n## Trials\n\n")
	b.WriteString("| Trial | Condition | Outcome | Time (s) | Tokens | Tool Calls | Lines | Error |\n")
	b.WriteString("|-------|-----------|---------|----------|--------|------------|-------|-------|\n")
	for _, rec := range rep.Records {
		errCol := ""
		if rec.Error != nil {
			errCol = string(rec.Error.Type)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %.1f | %s | %d | %d | %s |\n",
			rec.TrialID, rec.Condition, strings.ToUpper(string(rec.Outcome)),
			rec.WallClockSeconds, formatTokens(rec.InputTokens+rec.OutputTokens),
			rec.ToolCalls, rec.LinesChanged, errCol)
	}

	return b.String()
}

func formatTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
