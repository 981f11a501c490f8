// Package breakpoint locates curvature transitions (candidate ventilatory
// thresholds) in a conditioned breath-by-breath series.
//
// Two polynomial layers are fitted. The trend is a single polynomial whose
// degree is searched over a configured range and chosen by leave-one-out
// error or adjusted R². Its analytic derivatives describe the overall shape
// of the curve. The local profile fits a tricube-weighted polynomial around
// every point of a dense, evenly spaced grid and reads the second and third
// derivatives from the local coefficients; candidates are the places where
// curvature switches on or off.
package breakpoint

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/brv.report/internal/cpet"
)

// Criterion selects how the trend degree is chosen.
type Criterion string

const (
	// CriterionLOOCV minimises the leave-one-out prediction error (PRESS).
	CriterionLOOCV Criterion = "loocv"
	// CriterionAdjustedR2 maximises adjusted R².
	CriterionAdjustedR2 Criterion = "adjusted_r2"
)

// ParseCriterion validates a criterion name. Empty selects CriterionLOOCV.
func ParseCriterion(s string) (Criterion, error) {
	switch Criterion(s) {
	case "", CriterionLOOCV:
		return CriterionLOOCV, nil
	case CriterionAdjustedR2:
		return CriterionAdjustedR2, nil
	}
	return "", fmt.Errorf("unknown degree criterion %q", s)
}

// PolyFit is a least-squares polynomial in the normalised coordinate
// t = (x - Center) / Scale. Coef is in ascending power order. PRESS is
// infinite when a point has leverage one and then encodes as null.
type PolyFit struct {
	Degree int         `json:"degree"`
	Coef   []float64   `json:"coef"`
	Center float64     `json:"center"`
	Scale  float64     `json:"scale"`
	N      int         `json:"n"`
	SSE    float64     `json:"sse"`
	R2     float64     `json:"r2"`
	AdjR2  float64     `json:"adj_r2"`
	PRESS  cpet.Metric `json:"press"`
}

// Eval returns the fitted value at x.
func (p *PolyFit) Eval(x float64) float64 {
	return p.Derivative(x, 0)
}

// Derivative returns the order-th derivative with respect to x at x,
// computed analytically from the coefficients.
func (p *PolyFit) Derivative(x float64, order int) float64 {
	if order > p.Degree {
		return 0
	}
	t := (x - p.Center) / p.Scale
	var v float64
	for k := p.Degree; k >= order; k-- {
		v = v*t + p.Coef[k]*fallingFactorial(k, order)
	}
	return v / math.Pow(p.Scale, float64(order))
}

// fallingFactorial returns k*(k-1)*...*(k-n+1).
func fallingFactorial(k, n int) float64 {
	f := 1.0
	for i := 0; i < n; i++ {
		f *= float64(k - i)
	}
	return f
}

// DegreeScore records the goodness of fit of one considered degree.
type DegreeScore struct {
	Degree int         `json:"degree"`
	AdjR2  float64     `json:"adj_r2"`
	PRESS  cpet.Metric `json:"press"`
}

// Trend is the selected polynomial plus the scores of every degree tried.
type Trend struct {
	PolyFit
	Criterion  Criterion     `json:"criterion"`
	Considered []DegreeScore `json:"considered"`
}

// normalisation maps the observed range onto [-1, 1] to keep the
// Vandermonde matrix well conditioned.
func normalisation(x []float64) (center, scale float64) {
	lo, hi := floats.Min(x), floats.Max(x)
	center = (lo + hi) / 2
	scale = (hi - lo) / 2
	if scale == 0 {
		scale = 1
	}
	return center, scale
}

// FitPolynomial fits a polynomial of the given degree by QR least squares
// and computes R², adjusted R² and the PRESS statistic.
func FitPolynomial(x, y []float64, degree int) (*PolyFit, error) {
	n, p := len(x), degree+1
	if len(y) != n {
		return nil, fmt.Errorf("length mismatch: %d x values, %d y values", n, len(y))
	}
	if degree < 1 {
		return nil, fmt.Errorf("degree must be at least 1, got %d", degree)
	}
	if n <= p {
		return nil, fmt.Errorf("degree %d needs more than %d points, have %d", degree, p, n)
	}

	center, scale := normalisation(x)
	a := mat.NewDense(n, p, nil)
	for i, xi := range x {
		t := (xi - center) / scale
		v := 1.0
		for k := 0; k < p; k++ {
			a.Set(i, k, v)
			v *= t
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(a)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, b); err != nil {
		return nil, fmt.Errorf("degree %d least squares: %w", degree, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(a, &coef)

	// Leverages h_ii = a_i^T (A^T A)^-1 a_i for the leave-one-out residuals.
	var ata mat.Dense
	ata.Mul(a.T(), a)
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(p, ata.RawMatrix().Data)); !ok {
		return nil, fmt.Errorf("degree %d: normal matrix not positive definite", degree)
	}

	mean := floats.Sum(y) / float64(n)
	var sse, sst, press float64
	var z mat.VecDense
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		sse += r * r
		d := y[i] - mean
		sst += d * d

		row := a.RowView(i)
		if err := chol.SolveVecTo(&z, row); err != nil {
			return nil, fmt.Errorf("degree %d leverage: %w", degree, err)
		}
		h := mat.Dot(row, &z)
		if h >= 1-1e-12 {
			press = math.Inf(1)
			continue
		}
		loo := r / (1 - h)
		press += loo * loo
	}

	r2 := 1.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	adj := 1 - (1-r2)*float64(n-1)/float64(n-p)

	return &PolyFit{
		Degree: degree,
		Coef:   coef.RawVector().Data,
		Center: center,
		Scale:  scale,
		N:      n,
		SSE:    sse,
		R2:     r2,
		AdjR2:  adj,
		PRESS:  cpet.Metric(press),
	}, nil
}

// better reports whether candidate beats best under the criterion. Ties
// keep the incumbent, which is always the lower degree.
func better(c Criterion, candidate, best *PolyFit) bool {
	const rel = 1e-9
	if c == CriterionAdjustedR2 {
		return candidate.AdjR2 > best.AdjR2+rel*math.Max(1, math.Abs(best.AdjR2))
	}
	cp, bp := float64(candidate.PRESS), float64(best.PRESS)
	if math.IsInf(bp, 1) {
		return !math.IsInf(cp, 1)
	}
	return cp < bp-rel*math.Max(1, math.Abs(bp))
}
