package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// invNormCDF tolerance: the approximation is good to ~4.5e-4.
const zTol = 1e-3

func TestInvNormCDF(t *testing.T) {
	cases := []struct {
		p    float64
		want float64
	}{
		{0.5, 0},
		{0.975, 1.95996},   // 95% two-sided
		{0.95, 1.64485},    // 90% two-sided
		{0.995, 2.57583},   // 99% two-sided
		{0.01, -2.32635},   // lower tail
		{0.0001, -3.71902}, // deep lower tail
	}
	for _, tc := range cases {
		got, err := invNormCDF(tc.p)
		require.NoError(t, err)
		require.InDelta(t, tc.want, got, zTol, "p=%v", tc.p)
	}

	_, err := invNormCDF(0)
	require.Error(t, err)
	_, err = invNormCDF(1)
	require.Error(t, err)
}

func TestWilsonFixtures(t *testing.T) {
	// Hand-computed with z = 1.95996.
	iv, err := Wilson(8, 10, 0.95)
	require.NoError(t, err)
	require.InDelta(t, 0.4902, iv.Lower, 2e-3)
	require.InDelta(t, 0.9433, iv.Upper, 2e-3)

	// Observed 0% must not collapse to a zero-width interval.
	iv, err = Wilson(0, 10, 0.95)
	require.NoError(t, err)
	require.InDelta(t, 0.0, iv.Lower, 1e-9)
	require.InDelta(t, 0.2775, iv.Upper, 2e-3)

	// Observed 100% stays below 1 on the low side.
	iv, err = Wilson(10, 10, 0.95)
	require.NoError(t, err)
	require.InDelta(t, 0.7225, iv.Lower, 2e-3)
	require.InDelta(t, 1.0, iv.Upper, 1e-9)
}

func TestWilsonDegenerate(t *testing.T) {
	iv, err := Wilson(0, 0, 0.95)
	require.NoError(t, err)
	require.Equal(t, Interval{Lower: 0, Upper: 1, Center: 0}, iv)

	_, err = Wilson(11, 10, 0.95)
	require.Error(t, err)
}

func TestDifferenceIntervalSmallSample(t *testing.T) {
	// 9/10 vs 10/10 looks like a big effect but ten trials cannot
	// support a conclusion: the interval spans zero and is wide.
	iv, err := DifferenceInterval(9, 10, 10, 10, 0.95)
	require.NoError(t, err)
	require.InDelta(t, -0.1, iv.Center, 1e-9)
	require.True(t, iv.Contains(0), "interval must span zero")
	require.Greater(t, iv.Width(), 0.5)
}

func TestDifferenceIntervalLargeSample(t *testing.T) {
	// 90/100 vs 60/100 is a real difference.
	iv, err := DifferenceInterval(90, 100, 60, 100, 0.95)
	require.NoError(t, err)
	require.InDelta(t, 0.3, iv.Center, 1e-9)
	require.False(t, iv.Contains(0), "interval must exclude zero")
	require.Less(t, iv.Width(), 0.5)
}

func TestNullFalsePositiveRate(t *testing.T) {
	// Under the null (both conditions p=0.5) the share of simulated
	// experiments whose difference interval excludes zero must stay
	// near the nominal 5%. The score interval is conservative, so we
	// only bound it from above.
	rng := rand.New(rand.NewSource(1))
	const (
		experiments = 200
		n           = 100
	)
	significant := 0
	for i := 0; i < experiments; i++ {
		var s1, s2 int
		for j := 0; j < n; j++ {
			if rng.Float64() < 0.5 {
				s1++
			}
			if rng.Float64() < 0.5 {
				s2++
			}
		}
		iv, err := DifferenceInterval(s1, n, s2, n, 0.95)
		require.NoError(t, err)
		if !iv.Contains(0) {
			significant++
		}
	}
	rate := float64(significant) / experiments
	require.LessOrEqual(t, rate, 0.15, "false positive rate %v far above nominal", rate)
}
