package agreement

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Royston (1995) polynomial approximations for the Shapiro-Wilk
// coefficients and the W null distribution.
var (
	swC1 = []float64{0, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056}
	swC2 = []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}
	swC3 = []float64{0.5440, -0.39978, 0.025054, -6.714e-4}
	swC4 = []float64{1.3822, -0.77857, 0.062767, -0.0020322}
	swC5 = []float64{-1.5861, -0.31082, -0.083751, 0.0038915}
	swC6 = []float64{-0.4803, -0.082676, 0.0030302}
	swG  = []float64{-2.273, 0.459}
)

// ErrConstantSample is returned when a statistic needs spread and the
// sample has none.
var ErrConstantSample = errors.New("sample has zero variance")

const (
	swMinN = 3
	swMaxN = 5000
)

// poly evaluates c[0] + c[1]x + c[2]x² + ...
func poly(c []float64, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}

// Normality is a Shapiro-Wilk test outcome.
type Normality struct {
	W float64 `json:"w"`
	P float64 `json:"p"`
}

// ShapiroWilk tests x for normality with Royston's algorithm (AS R94),
// valid for 3 <= n <= 5000.
func ShapiroWilk(x []float64) (Normality, error) {
	n := len(x)
	if n < swMinN || n > swMaxN {
		return Normality{}, fmt.Errorf("shapiro-wilk needs %d..%d values, got %d", swMinN, swMaxN, n)
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	if sorted[n-1]-sorted[0] == 0 {
		return Normality{}, ErrConstantSample
	}

	half := n / 2
	a := make([]float64, half)
	if n == 3 {
		a[0] = math.Sqrt(0.5)
	} else {
		m := make([]float64, half)
		for i := range m {
			m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
		}
		summ2 := 2 * floats.Dot(m, m)
		ssumm2 := math.Sqrt(summ2)
		rsn := 1 / math.Sqrt(float64(n))
		a1 := poly(swC1, rsn) - m[0]/ssumm2

		first := 1
		var fac float64
		if n > 5 {
			first = 2
			a2 := -m[1]/ssumm2 + poly(swC2, rsn)
			fac = math.Sqrt((summ2 - 2*m[0]*m[0] - 2*m[1]*m[1]) / (1 - 2*a1*a1 - 2*a2*a2))
			a[1] = a2
		} else {
			fac = math.Sqrt((summ2 - 2*m[0]*m[0]) / (1 - 2*a1*a1))
		}
		a[0] = a1
		for i := first; i < half; i++ {
			a[i] = -m[i] / fac
		}
	}

	// W is the squared correlation between the antisymmetric coefficient
	// vector and the ordered sample.
	c := make([]float64, n)
	for i := 0; i < half; i++ {
		c[i] = -a[i]
		c[n-1-i] = a[i]
	}
	mean := floats.Sum(sorted) / float64(n)
	var num, ssc, ssx float64
	for i, v := range sorted {
		d := v - mean
		num += c[i] * d
		ssc += c[i] * c[i]
		ssx += d * d
	}
	w := num * num / (ssc * ssx)
	w = math.Min(w, 1)

	return Normality{W: w, P: swPValue(w, n)}, nil
}

func swPValue(w float64, n int) float64 {
	if n == 3 {
		const sixOverPi, piOverThree = 6 / math.Pi, math.Pi / 3
		return math.Max(0, sixOverPi*(math.Asin(math.Sqrt(w))-piOverThree))
	}
	if w >= 1 {
		return 1
	}
	y := math.Log(1 - w)
	nf := float64(n)
	var mu, sigma float64
	if n <= 11 {
		gamma := poly(swG, nf)
		if y >= gamma {
			return 1e-99
		}
		y = -math.Log(gamma - y)
		mu = poly(swC3, nf)
		sigma = math.Exp(poly(swC4, nf))
	} else {
		ln := math.Log(nf)
		mu = poly(swC5, ln)
		sigma = math.Exp(poly(swC6, ln))
	}
	return distuv.Normal{Mu: mu, Sigma: sigma}.Survival(y)
}
