package agreement

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/brv.report/internal/cpet"
)

// LoAMultiplier scales the SD of differences into limits of agreement.
const LoAMultiplier = 1.96

// BlandAltman is the agreement summary of paired values with
// difference = estimate - reference.
type BlandAltman struct {
	N          int         `json:"n"`
	Bias       cpet.Metric `json:"bias"`
	SD         cpet.Metric `json:"sd"`
	LowerLoA   cpet.Metric `json:"lower_loa"`
	UpperLoA   cpet.Metric `json:"upper_loa"`
	BiasCILow  cpet.Metric `json:"bias_ci_low"`
	BiasCIHigh cpet.Metric `json:"bias_ci_high"`
	// BiasP tests bias = 0 (paired t-test).
	BiasP cpet.Metric `json:"bias_p"`
	// LoA confidence half-width, t * sqrt(3 SD² / n).
	LoACIHalfWidth cpet.Metric `json:"loa_ci_half_width"`
	// Regression of difference on mean.
	ProportionalSlope cpet.Metric `json:"proportional_slope"`
	ProportionalP     cpet.Metric `json:"proportional_p"`
	ProportionalBias  bool        `json:"proportional_bias"`
	// WithinLoA is the share of differences inside the limits.
	WithinLoA   cpet.Metric `json:"within_loa"`
	Means       []float64   `json:"means"`
	Differences []float64   `json:"differences"`
}

// ComputeBlandAltman summarises estimate vs reference. Statistics that
// need more pairs than available stay undefined.
func ComputeBlandAltman(estimate, reference []float64, level, alpha float64) BlandAltman {
	n := len(estimate)
	ba := BlandAltman{
		N:                 n,
		Bias:              cpet.Undefined(),
		SD:                cpet.Undefined(),
		LowerLoA:          cpet.Undefined(),
		UpperLoA:          cpet.Undefined(),
		BiasCILow:         cpet.Undefined(),
		BiasCIHigh:        cpet.Undefined(),
		BiasP:             cpet.Undefined(),
		LoACIHalfWidth:    cpet.Undefined(),
		ProportionalSlope: cpet.Undefined(),
		ProportionalP:     cpet.Undefined(),
		WithinLoA:         cpet.Undefined(),
		Means:             make([]float64, n),
		Differences:       make([]float64, n),
	}
	for i := range estimate {
		ba.Means[i] = (estimate[i] + reference[i]) / 2
		ba.Differences[i] = estimate[i] - reference[i]
	}
	if n == 0 {
		return ba
	}
	bias := stat.Mean(ba.Differences, nil)
	ba.Bias = cpet.Metric(bias)
	if n < 2 {
		return ba
	}

	sd := stat.StdDev(ba.Differences, nil)
	ba.SD = cpet.Metric(sd)
	lower, upper := bias-LoAMultiplier*sd, bias+LoAMultiplier*sd
	ba.LowerLoA, ba.UpperLoA = cpet.Metric(lower), cpet.Metric(upper)

	var inside int
	for _, d := range ba.Differences {
		if d >= lower && d <= upper {
			inside++
		}
	}
	ba.WithinLoA = cpet.Metric(float64(inside) / float64(n))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	tq := dist.Quantile(1 - (1-level)/2)
	se := sd / math.Sqrt(float64(n))
	ba.BiasCILow, ba.BiasCIHigh = cpet.Metric(bias-tq*se), cpet.Metric(bias+tq*se)
	ba.LoACIHalfWidth = cpet.Metric(tq * math.Sqrt(3*sd*sd/float64(n)))
	switch {
	case se > 0:
		ba.BiasP = cpet.Metric(2 * dist.Survival(math.Abs(bias/se)))
	case bias == 0:
		ba.BiasP = 1
	}

	if n >= 3 {
		slope, p := slopeTest(ba.Means, ba.Differences)
		ba.ProportionalSlope = cpet.Metric(slope)
		ba.ProportionalP = cpet.Metric(p)
		ba.ProportionalBias = !math.IsNaN(p) && p < alpha
	}
	return ba
}

// slopeTest regresses y on x and returns the slope with its two-sided
// p-value (t test, n-2 degrees of freedom).
func slopeTest(x, y []float64) (slope, p float64) {
	n := len(x)
	if n < 3 || stat.Variance(x, nil) == 0 {
		return math.NaN(), math.NaN()
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	mx := stat.Mean(x, nil)
	var sse, sxx float64
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
		d := x[i] - mx
		sxx += d * d
	}
	se := math.Sqrt(sse / float64(n-2) / sxx)
	if se == 0 {
		if beta == 0 {
			return beta, 1
		}
		return beta, 0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return beta, 2 * dist.Survival(math.Abs(beta/se))
}
