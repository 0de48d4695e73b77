package stats

import (
	"sort"

	"github.com/rvullo/fixlab/internal/models"
)

// ConditionStats summarizes outcomes for one condition. Error
// outcomes are harness malfunctions: they are counted for visibility
// but excluded from the success-rate denominator.
type ConditionStats struct {
	Condition   models.Condition `json:"condition"`
	Trials      int              `json:"trials"`
	Passes      int              `json:"passes"`
	Fails       int              `json:"fails"`
	Errors      int              `json:"errors"`
	SuccessRate float64          `json:"success_rate"`
	CI          Interval         `json:"ci"`
}

// Comparison is a pairwise rate difference between two conditions.
type Comparison struct {
	Condition models.Condition `json:"condition"`
	Against   models.Condition `json:"against"`
	Diff      float64          `json:"diff"`
	CI        Interval         `json:"ci"`

	// Significant means the difference interval excludes zero.
	Significant bool `json:"significant"`
	// Inconclusive means the interval is wider than the configured
	// maximum: too few valid trials to read anything into the
	// comparison, significant or not.
	Inconclusive bool `json:"inconclusive"`
}

// Analysis is the full statistical summary of a run set.
type Analysis struct {
	Confidence  float64          `json:"confidence"`
	Conditions  []ConditionStats `json:"conditions"`
	Comparisons []Comparison     `json:"comparisons"`
}

// Options controls interval computation.
type Options struct {
	// Confidence level, e.g. 0.95.
	Confidence float64
	// MaxIntervalWidth marks a comparison inconclusive when the
	// difference interval spans more than this.
	MaxIntervalWidth float64
}

// Analyze computes per-condition intervals and pairwise comparisons
// from the effective run records. Records for conditions not present
// in the data produce no rows. Baseline, when present, is always the
// reference side of a comparison.
func Analyze(records []models.RunRecord, opts Options) (Analysis, error) {
	type tally struct {
		passes, fails, errors int
	}
	tallies := make(map[models.Condition]*tally)
	for _, rec := range records {
		t := tallies[rec.Condition]
		if t == nil {
			t = &tally{}
			tallies[rec.Condition] = t
		}
		switch rec.Outcome {
		case models.OutcomePass:
			t.passes++
		case models.OutcomeFail:
			t.fails++
		case models.OutcomeError:
			t.errors++
		}
	}

	conditions := make([]models.Condition, 0, len(tallies))
	for cond := range tallies {
		conditions = append(conditions, cond)
	}
	sort.Slice(conditions, func(i, j int) bool {
		return conditionRank(conditions[i]) < conditionRank(conditions[j])
	})

	analysis := Analysis{Confidence: opts.Confidence}
	for _, cond := range conditions {
		t := tallies[cond]
		n := t.passes + t.fails
		ci, err := Wilson(t.passes, n, opts.Confidence)
		if err != nil {
			return Analysis{}, err
		}
		rate := 0.0
		if n > 0 {
			rate = float64(t.passes) / float64(n)
		}
		analysis.Conditions = append(analysis.Conditions, ConditionStats{
			Condition:   cond,
			Trials:      n + t.errors,
			Passes:      t.passes,
			Fails:       t.fails,
			Errors:      t.errors,
			SuccessRate: rate,
			CI:          ci,
		})
	}

	// Compare every treatment condition against the reference: the
	// baseline when present, otherwise the first condition.
	if len(conditions) >= 2 {
		ref := conditions[0]
		for _, cond := range conditions {
			if cond == models.ConditionBaseline {
				ref = cond
				break
			}
		}
		refTally := tallies[ref]
		refN := refTally.passes + refTally.fails
		for _, cond := range conditions {
			if cond == ref {
				continue
			}
			t := tallies[cond]
			n := t.passes + t.fails
			ci, err := DifferenceInterval(t.passes, n, refTally.passes, refN, opts.Confidence)
			if err != nil {
				return Analysis{}, err
			}
			analysis.Comparisons = append(analysis.Comparisons, Comparison{
				Condition:    cond,
				Against:      ref,
				Diff:         ci.Center,
				CI:           ci,
				Significant:  !ci.Contains(0),
				Inconclusive: opts.MaxIntervalWidth > 0 && ci.Width() > opts.MaxIntervalWidth,
			})
		}
	}

	return analysis, nil
}

func conditionRank(c models.Condition) int {
	for i, known := range models.AllConditions {
		if c == known {
			return i
		}
	}
	return len(models.AllConditions)
}
