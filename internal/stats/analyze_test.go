package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvullo/fixlab/internal/models"
)

func makeRecords(cond models.Condition, passes, fails, errors int) []models.RunRecord {
	var recs []models.RunRecord
	add := func(n int, outcome models.Outcome) {
		for i := 0; i < n; i++ {
			recs = append(recs, models.RunRecord{
				TrialID:   fmt.Sprintf("%s-%s-%d", cond, outcome, i),
				Condition: cond,
				Outcome:   outcome,
			})
		}
	}
	add(passes, models.OutcomePass)
	add(fails, models.OutcomeFail)
	add(errors, models.OutcomeError)
	return recs
}

func TestAnalyzeExcludesErrorsFromDenominator(t *testing.T) {
	recs := makeRecords(models.ConditionBaseline, 6, 2, 2)

	analysis, err := Analyze(recs, Options{Confidence: 0.95})
	require.NoError(t, err)
	require.Len(t, analysis.Conditions, 1)

	cs := analysis.Conditions[0]
	require.Equal(t, 10, cs.Trials)
	require.Equal(t, 2, cs.Errors)
	// 6 passes over 8 valid trials, not over 10.
	require.InDelta(t, 0.75, cs.SuccessRate, 1e-9)
}

func TestAnalyzeSmallSampleInconclusive(t *testing.T) {
	recs := append(
		makeRecords(models.ConditionBaseline, 10, 0, 0),
		makeRecords(models.ConditionFlatContext, 9, 1, 0)...)

	analysis, err := Analyze(recs, Options{Confidence: 0.95, MaxIntervalWidth: 0.5})
	require.NoError(t, err)
	require.Len(t, analysis.Comparisons, 1)

	cmp := analysis.Comparisons[0]
	require.Equal(t, models.ConditionFlatContext, cmp.Condition)
	require.Equal(t, models.ConditionBaseline, cmp.Against)
	require.False(t, cmp.Significant)
	require.True(t, cmp.Inconclusive, "ten trials cannot support a verdict")
}

func TestAnalyzeLargeSampleConclusive(t *testing.T) {
	recs := append(
		makeRecords(models.ConditionBaseline, 60, 40, 0),
		makeRecords(models.ConditionStructuredLayer, 90, 10, 0)...)

	analysis, err := Analyze(recs, Options{Confidence: 0.95, MaxIntervalWidth: 0.5})
	require.NoError(t, err)
	require.Len(t, analysis.Comparisons, 1)

	cmp := analysis.Comparisons[0]
	require.True(t, cmp.Significant)
	require.False(t, cmp.Inconclusive)
	require.InDelta(t, 0.3, cmp.Diff, 1e-9)
}

func TestAnalyzeBaselineIsReference(t *testing.T) {
	recs := append(
		makeRecords(models.ConditionFlatContext, 5, 5, 0),
		makeRecords(models.ConditionStructuredLayer, 5, 5, 0)...)
	recs = append(recs, makeRecords(models.ConditionBaseline, 5, 5, 0)...)

	analysis, err := Analyze(recs, Options{Confidence: 0.95})
	require.NoError(t, err)
	require.Len(t, analysis.Comparisons, 2)
	for _, cmp := range analysis.Comparisons {
		require.Equal(t, models.ConditionBaseline, cmp.Against)
	}

	// Condition rows come out in canonical order.
	require.Equal(t, models.ConditionBaseline, analysis.Conditions[0].Condition)
	require.Equal(t, models.ConditionFlatContext, analysis.Conditions[1].Condition)
	require.Equal(t, models.ConditionStructuredLayer, analysis.Conditions[2].Condition)
}

func TestAnalyzeDeterministic(t *testing.T) {
	recs := append(
		makeRecords(models.ConditionBaseline, 7, 3, 1),
		makeRecords(models.ConditionFlatContext, 8, 2, 0)...)

	a, err := Analyze(recs, Options{Confidence: 0.9, MaxIntervalWidth: 0.3})
	require.NoError(t, err)
	b, err := Analyze(recs, Options{Confidence: 0.9, MaxIntervalWidth: 0.3})
	require.NoError(t, err)
	require.Equal(t, a, b)
}
