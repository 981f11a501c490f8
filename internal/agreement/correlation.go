package agreement

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method is the correlation method chosen for a comparison.
type Method string

const (
	MethodPearson  Method = "pearson"
	MethodSpearman Method = "spearman"
	// MethodNone marks a comparison where correlation was not computable.
	MethodNone Method = "none"
)

// CIMethod selects how the correlation confidence interval is built.
type CIMethod string

const (
	CIFisher    CIMethod = "fisher"
	CIBootstrap CIMethod = "bootstrap"
)

// ParseCIMethod validates a CI method name. Empty selects CIFisher.
func ParseCIMethod(s string) (CIMethod, error) {
	switch CIMethod(s) {
	case "", CIFisher:
		return CIFisher, nil
	case CIBootstrap:
		return CIBootstrap, nil
	}
	return "", fmt.Errorf("unknown ci method %q (want fisher or bootstrap)", s)
}

// Ranks returns 1-based ranks of x; ties share their average rank.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	r := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			r[idx[k]] = avg
		}
		i = j
	}
	return r
}

// SelectMethod returns Pearson when both samples pass Shapiro-Wilk at
// alpha, Spearman otherwise, with a reason suitable for the run report.
func SelectMethod(x, y []float64, alpha float64) (Method, Normality, Normality, string) {
	nx, errX := ShapiroWilk(x)
	ny, errY := ShapiroWilk(y)
	switch {
	case errX != nil || errY != nil:
		return MethodSpearman, nx, ny, "normality not testable"
	case nx.P <= alpha && ny.P <= alpha:
		return MethodSpearman, nx, ny, fmt.Sprintf("both samples non-normal at alpha %.3g", alpha)
	case nx.P <= alpha:
		return MethodSpearman, nx, ny, fmt.Sprintf("estimate non-normal at alpha %.3g", alpha)
	case ny.P <= alpha:
		return MethodSpearman, nx, ny, fmt.Sprintf("reference non-normal at alpha %.3g", alpha)
	}
	return MethodPearson, nx, ny, fmt.Sprintf("both samples normal at alpha %.3g", alpha)
}

// coefficient computes r for the method. Spearman is Pearson on ranks.
func coefficient(m Method, x, y []float64) float64 {
	if m == MethodSpearman {
		x, y = Ranks(x), Ranks(y)
	}
	return stat.Correlation(x, y, nil)
}

// correlationP is the two-sided p-value of r under H0: rho = 0 using the
// t distribution with n-2 degrees of freedom.
func correlationP(r float64, n int) float64 {
	if n < 3 || math.IsNaN(r) {
		return math.NaN()
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(math.Abs(t))
}

// fisherCI is the Fisher z interval. Spearman uses the Bonett-Wright
// standard error sqrt((1 + r²/2) / (n - 3)). Undefined for n <= 3.
func fisherCI(m Method, r float64, n int, level float64) (lo, hi float64) {
	if n <= 3 || math.IsNaN(r) {
		return math.NaN(), math.NaN()
	}
	if math.Abs(r) >= 1 {
		return r, r
	}
	se := 1 / math.Sqrt(float64(n-3))
	if m == MethodSpearman {
		se = math.Sqrt((1 + r*r/2) / float64(n-3))
	}
	z := math.Atanh(r)
	q := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	return math.Tanh(z - q*se), math.Tanh(z + q*se)
}

// bootstrapCI is the percentile bootstrap interval of r from paired
// resampling with a fixed seed. Degenerate resamples are skipped.
func bootstrapCI(m Method, x, y []float64, level float64, resamples int, seed int64) (lo, hi float64) {
	n := len(x)
	rng := rand.New(rand.NewSource(seed))
	bx := make([]float64, n)
	by := make([]float64, n)
	rs := make([]float64, 0, resamples)
	for b := 0; b < resamples; b++ {
		for i := 0; i < n; i++ {
			k := rng.Intn(n)
			bx[i], by[i] = x[k], y[k]
		}
		if r := coefficient(m, bx, by); !math.IsNaN(r) {
			rs = append(rs, r)
		}
	}
	if len(rs) < resamples/2 || len(rs) == 0 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(rs)
	tail := (1 - level) / 2
	return stat.Quantile(tail, stat.Empirical, rs, nil), stat.Quantile(1-tail, stat.Empirical, rs, nil)
}
