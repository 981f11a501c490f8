// Package agreement compares paired cohort values (engine estimates against
// a reference) with small-sample statistics: normality-driven choice of
// Pearson or Spearman correlation with a confidence interval, Bland-Altman
// agreement and the standard error of estimate.
package agreement

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
)

// MinPairs is the smallest cohort any correlation is computed for.
const MinPairs = 3

// Config holds the statistical settings of a run.
type Config struct {
	NormalityAlpha float64
	CILevel        float64
	CIMethod       CIMethod
	Resamples      int
	Seed           int64
	MinN           int
}

// DefaultConfig mirrors config/analysis.defaults.json.
func DefaultConfig() Config {
	return Config{
		NormalityAlpha: 0.05,
		CILevel:        0.95,
		CIMethod:       CIFisher,
		Resamples:      2000,
		Seed:           1,
		MinN:           MinPairs,
	}
}

func (c Config) minN() int {
	if c.MinN < MinPairs {
		return MinPairs
	}
	return c.MinN
}

// Regression is the simple linear prediction of the reference from the
// estimate. SEE is its residual standard deviation (n-2 denominator).
type Regression struct {
	Intercept cpet.Metric `json:"intercept"`
	Slope     cpet.Metric `json:"slope"`
	R2        cpet.Metric `json:"r2"`
	SEE       cpet.Metric `json:"see"`
}

// Fit predicts y from x. Fewer than three pairs or a constant x leave
// every field undefined.
func Fit(x, y []float64) Regression {
	reg := Regression{
		Intercept: cpet.Undefined(),
		Slope:     cpet.Undefined(),
		R2:        cpet.Undefined(),
		SEE:       cpet.Undefined(),
	}
	n := len(x)
	if n < 3 || stat.Variance(x, nil) == 0 {
		return reg
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	var sse float64
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
	}
	reg.Intercept, reg.Slope = cpet.Metric(alpha), cpet.Metric(beta)
	reg.SEE = cpet.Metric(math.Sqrt(sse / float64(n-2)))
	if stat.Variance(y, nil) > 0 {
		reg.R2 = cpet.Metric(stat.RSquared(x, y, nil, alpha, beta))
	}
	return reg
}

// Result is one cohort comparison.
type Result struct {
	Comparison string `json:"comparison"`
	N          int    `json:"n"`

	Method             Method     `json:"method"`
	MethodReason       string     `json:"method_reason"`
	NormalityEstimate  *Normality `json:"normality_estimate,omitempty"`
	NormalityReference *Normality `json:"normality_reference,omitempty"`

	R        cpet.Metric `json:"r"`
	P        cpet.Metric `json:"p"`
	CILow    cpet.Metric `json:"ci_low"`
	CIHigh   cpet.Metric `json:"ci_high"`
	CILevel  float64     `json:"ci_level"`
	CIMethod CIMethod    `json:"ci_method"`

	MeanEstimate  cpet.Metric `json:"mean_estimate"`
	MeanReference cpet.Metric `json:"mean_reference"`
	SDEstimate    cpet.Metric `json:"sd_estimate"`
	SDReference   cpet.Metric `json:"sd_reference"`

	BlandAltman BlandAltman `json:"bland_altman"`
	Regression  Regression  `json:"regression"`

	// Notes lists statistics reported as not computable and why.
	Notes []string `json:"notes,omitempty"`
}

// Pair is one subject's paired values.
type Pair struct {
	SubjectID string
	Estimate  float64
	Reference float64
}

// Split drops pairs with a non-finite side and returns the two series.
func Split(pairs []Pair) (ids []string, est, ref []float64) {
	for _, p := range pairs {
		if !finite(p.Estimate) || !finite(p.Reference) {
			continue
		}
		ids = append(ids, p.SubjectID)
		est = append(est, p.Estimate)
		ref = append(ref, p.Reference)
	}
	return ids, est, ref
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Analyze runs the full comparison of estimate against reference. Fewer
// than cfg.MinN pairs is a *cpet.InsufficientSampleError. A constant
// series skips correlation and the regression but keeps Bland-Altman.
func Analyze(name string, estimate, reference []float64, cfg Config) (*Result, error) {
	if len(estimate) != len(reference) {
		return nil, fmt.Errorf("comparison %s: %d estimates vs %d references", name, len(estimate), len(reference))
	}
	n := len(estimate)
	if n < cfg.minN() {
		return nil, &cpet.InsufficientSampleError{Comparison: name, N: n, Required: cfg.minN()}
	}

	res := &Result{
		Comparison:    name,
		N:             n,
		Method:        MethodNone,
		R:             cpet.Undefined(),
		P:             cpet.Undefined(),
		CILow:         cpet.Undefined(),
		CIHigh:        cpet.Undefined(),
		CILevel:       cfg.CILevel,
		CIMethod:      cfg.CIMethod,
		MeanEstimate:  cpet.Metric(stat.Mean(estimate, nil)),
		MeanReference: cpet.Metric(stat.Mean(reference, nil)),
		SDEstimate:    cpet.Metric(stat.StdDev(estimate, nil)),
		SDReference:   cpet.Metric(stat.StdDev(reference, nil)),
		BlandAltman:   ComputeBlandAltman(estimate, reference, cfg.CILevel, cfg.NormalityAlpha),
		Regression:    Fit(estimate, reference),
	}

	if stat.Variance(estimate, nil) == 0 || stat.Variance(reference, nil) == 0 {
		res.MethodReason = "zero variance"
		res.Notes = append(res.Notes, "correlation not computable: zero variance in a series")
		monitoring.Logf("comparison %s: n=%d, zero variance, reporting agreement only", name, n)
		return res, nil
	}

	method, nx, ny, reason := SelectMethod(estimate, reference, cfg.NormalityAlpha)
	res.Method, res.MethodReason = method, reason
	res.NormalityEstimate, res.NormalityReference = &nx, &ny

	r := coefficient(method, estimate, reference)
	res.R = cpet.Metric(r)
	res.P = cpet.Metric(correlationP(r, n))

	var lo, hi float64
	switch cfg.CIMethod {
	case CIBootstrap:
		lo, hi = bootstrapCI(method, estimate, reference, cfg.CILevel, cfg.Resamples, cfg.Seed)
	default:
		lo, hi = fisherCI(method, r, n, cfg.CILevel)
	}
	res.CILow, res.CIHigh = cpet.Metric(lo), cpet.Metric(hi)
	if !res.CILow.Defined() {
		res.Notes = append(res.Notes, fmt.Sprintf("%s confidence interval not computable at n=%d", cfg.CIMethod, n))
	}

	monitoring.Logf("comparison %s: n=%d method=%s (%s; shapiro-wilk p estimate=%.4f reference=%.4f) r=%.3f",
		name, n, method, reason, nx.P, ny.P, r)
	return res, nil
}

// OneSampleResult compares a cohort mean with a fixed reference value.
type OneSampleResult struct {
	Comparison string      `json:"comparison"`
	N          int         `json:"n"`
	Reference  float64     `json:"reference"`
	Mean       cpet.Metric `json:"mean"`
	SD         cpet.Metric `json:"sd"`
	MeanDiff   cpet.Metric `json:"mean_diff"`
	T          cpet.Metric `json:"t"`
	P          cpet.Metric `json:"p"`
	CILow      cpet.Metric `json:"ci_low"`
	CIHigh     cpet.Metric `json:"ci_high"`
	CILevel    float64     `json:"ci_level"`
}

// OneSample runs a one-sample t-test of values against reference, with a
// t confidence interval of the mean difference.
func OneSample(name string, values []float64, reference float64, cfg Config) (*OneSampleResult, error) {
	n := len(values)
	if n < cfg.minN() {
		return nil, &cpet.InsufficientSampleError{Comparison: name, N: n, Required: cfg.minN()}
	}
	mean, sd := stat.MeanStdDev(values, nil)
	res := &OneSampleResult{
		Comparison: name,
		N:          n,
		Reference:  reference,
		Mean:       cpet.Metric(mean),
		SD:         cpet.Metric(sd),
		MeanDiff:   cpet.Metric(mean - reference),
		T:          cpet.Undefined(),
		P:          cpet.Undefined(),
		CILow:      cpet.Undefined(),
		CIHigh:     cpet.Undefined(),
		CILevel:    cfg.CILevel,
	}
	se := sd / math.Sqrt(float64(n))
	if se == 0 {
		return res, nil
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	t := (mean - reference) / se
	tq := dist.Quantile(1 - (1-cfg.CILevel)/2)
	res.T = cpet.Metric(t)
	res.P = cpet.Metric(2 * dist.Survival(math.Abs(t)))
	res.CILow = cpet.Metric(mean - reference - tq*se)
	res.CIHigh = cpet.Metric(mean - reference + tq*se)
	return res, nil
}
