// Package stats provides the small statistical toolkit the trial engine
// relies on: a two-proportion z-test for interim arm comparisons, the
// standard normal CDF, and Beta sampling for Thompson allocation.
package stats

import (
	"math"
	"math/rand"
)

// NormalCDF returns P(Z <= z) for a standard normal variable.
func NormalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// ZTestResult is the outcome of a two-proportion comparison.
type ZTestResult struct {
	Z      float64
	PValue float64
}

// TwoProportionZTest tests H0: p1 >= p2 against H1: p1 < p2 using the
// pooled-variance z statistic, with successes s over trials n per group.
// The one-sided p-value is the probability of a z at least this extreme
// under H0; a small p-value is evidence group 1 underperforms group 2.
// Degenerate inputs (empty groups, pooled rate of 0 or 1) return a p-value
// of 1 so callers never act on them.
func TwoProportionZTest(s1, n1, s2, n2 int) ZTestResult {
	if n1 <= 0 || n2 <= 0 {
		return ZTestResult{Z: 0, PValue: 1}
	}
	p1 := float64(s1) / float64(n1)
	p2 := float64(s2) / float64(n2)
	pooled := float64(s1+s2) / float64(n1+n2)
	if pooled <= 0 || pooled >= 1 {
		return ZTestResult{Z: 0, PValue: 1}
	}
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	z := (p1 - p2) / se
	return ZTestResult{Z: z, PValue: NormalCDF(z)}
}

// SampleSizePerArm returns the enrollment needed per arm to detect the given
// absolute effect size between two proportions at the given one-sided
// significance level alpha and power, using the standard normal
// approximation. The baseline rate anchors the variance term.
func SampleSizePerArm(baseline, effectSize, alpha, power float64) int {
	if effectSize <= 0 {
		return 0
	}
	zAlpha := NormalQuantile(1 - alpha)
	zBeta := NormalQuantile(power)
	p1 := baseline
	p2 := baseline + effectSize
	if p2 > 1 {
		p2 = 1
	}
	pBar := (p1 + p2) / 2
	n := math.Pow(zAlpha+zBeta, 2) * 2 * pBar * (1 - pBar) / (effectSize * effectSize)
	return int(math.Ceil(n))
}

// NormalQuantile returns the inverse standard normal CDF via the
// Beasley-Springer-Moro rational approximation. Accurate to roughly 1e-9
// over (0,1); out-of-range inputs return +/-Inf.
func NormalQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	a := [6]float64{
		-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00,
	}
	b := [5]float64{
		-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01,
	}
	c := [6]float64{
		-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00,
	}
	d := [4]float64{
		7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00,
	}
	const low, high = 0.02425, 1 - 0.02425
	switch {
	case p < low:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > high:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}

// SampleBeta draws from Beta(alpha, beta) using two gamma draws.
func SampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) via Marsaglia-Tsang, with the
// standard boost for shape < 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
