// Package stats computes confidence intervals over trial outcomes.
// Everything here is pure and deterministic: the same records always
// produce the same analysis.
package stats

import (
	"fmt"
	"math"
)

// Interval is a confidence interval over a proportion or a difference
// of proportions.
type Interval struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Center float64 `json:"center"`
}

// Width returns the total span of the interval.
func (iv Interval) Width() float64 { return iv.Upper - iv.Lower }

// Contains reports whether v lies inside the interval.
func (iv Interval) Contains(v float64) bool { return iv.Lower <= v && v <= iv.Upper }

// invNormCDF is a rational approximation of the inverse normal CDF,
// Abramowitz & Stegun formula 26.2.23. Three-region piecewise with
// ~4.5e-4 absolute error, which is plenty for interval bounds.
func invNormCDF(p float64) (float64, error) {
	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("p must be in (0, 1), got %v", p)
	}

	const (
		a1 = -3.969683028665376e1
		a2 = 2.209460984245205e2
		a3 = -2.759285104469687e2
		a4 = 1.383577518672690e2
		a5 = -3.066479806614716e1
		a6 = 2.506628277459239e0

		b1 = -5.447609879822406e1
		b2 = 1.615858368580409e2
		b3 = -1.556989798598866e2
		b4 = 6.680131188771972e1
		b5 = -1.328068155288572e1

		c1 = -7.784894002430293e-3
		c2 = -3.223964580411365e-1
		c3 = -2.400758277161838e0
		c4 = -2.549732539343734e0
		c5 = 4.374664141464968e0
		c6 = 2.938163982698783e0

		d1 = 7.784695709041462e-3
		d2 = 3.224671290700398e-1
		d3 = 2.445134137142996e0
		d4 = 3.754408661907416e0

		pLow  = 0.02425
		pHigh = 1 - pLow
	)

	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c1*q+c2)*q+c3)*q+c4)*q+c5)*q + c6) /
			((((d1*q+d2)*q+d3)*q+d4)*q + 1), nil
	case p <= pHigh:
		q := p - 0.5
		r := q * q
		return (((((a1*r+a2)*r+a3)*r+a4)*r+a5)*r + a6) * q /
			(((((b1*r+b2)*r+b3)*r+b4)*r+b5)*r + 1), nil
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c1*q+c2)*q+c3)*q+c4)*q+c5)*q + c6) /
			((((d1*q+d2)*q+d3)*q+d4)*q + 1), nil
	}
}

// Wilson computes the Wilson score interval for a binomial proportion.
// Wilson intervals hold up at 0% and 100% observed rates and small n,
// where the Wald interval collapses. n == 0 returns the vacuous
// interval [0, 1].
func Wilson(successes, n int, confidence float64) (Interval, error) {
	if n == 0 {
		return Interval{Lower: 0, Upper: 1, Center: 0}, nil
	}
	if successes < 0 || successes > n {
		return Interval{}, fmt.Errorf("successes %d out of range for n=%d", successes, n)
	}

	z, err := invNormCDF(1 - (1-confidence)/2)
	if err != nil {
		return Interval{}, fmt.Errorf("confidence %v: %w", confidence, err)
	}
	z2 := z * z
	nf := float64(n)
	pHat := float64(successes) / nf

	denom := 1 + z2/nf
	center := (pHat + z2/(2*nf)) / denom
	spread := z * math.Sqrt(pHat*(1-pHat)/nf+z2/(4*nf*nf)) / denom

	return Interval{
		Lower:  math.Max(0, center-spread),
		Upper:  math.Min(1, center+spread),
		Center: center,
	}, nil
}

// DifferenceInterval computes a score-based confidence interval for
// p1 - p2 using Newcombe's method: combine the two Wilson intervals
// rather than assuming normality of the difference.
func DifferenceInterval(successes1, n1, successes2, n2 int, confidence float64) (Interval, error) {
	w1, err := Wilson(successes1, n1, confidence)
	if err != nil {
		return Interval{}, err
	}
	w2, err := Wilson(successes2, n2, confidence)
	if err != nil {
		return Interval{}, err
	}

	var p1, p2 float64
	if n1 > 0 {
		p1 = float64(successes1) / float64(n1)
	}
	if n2 > 0 {
		p2 = float64(successes2) / float64(n2)
	}
	diff := p1 - p2

	lowerDelta := math.Sqrt(math.Pow(p1-w1.Lower, 2) + math.Pow(w2.Upper-p2, 2))
	upperDelta := math.Sqrt(math.Pow(w1.Upper-p1, 2) + math.Pow(p2-w2.Lower, 2))

	return Interval{
		Lower:  math.Max(-1, diff-lowerDelta),
		Upper:  math.Min(1, diff+upperDelta),
		Center: diff,
	}, nil
}
