package breakpoint

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Profile is the local curvature profile of a series on a dense grid.
// Second and Third hold the second and third derivatives of the local fit
// at each grid point; they are NaN where too few samples fall inside the
// window. Width is the half-width actually used at each point, narrower
// than HalfWidth near the ends of the range.
type Profile struct {
	Grid      []float64 `json:"grid"`
	Second    []float64 `json:"second"`
	Third     []float64 `json:"third"`
	Width     []float64 `json:"width,omitempty"`
	Usable    []bool    `json:"usable"`
	HalfWidth float64   `json:"half_width"`
}

// width returns the half-width used at grid point i.
func (p *Profile) width(i int) float64 {
	if p.Width == nil {
		return p.HalfWidth
	}
	return p.Width[i]
}

// Change returns the signed curvature change across one full half-width
// at grid point i: third derivative times w*w/HalfWidth. For a kink this
// does not depend on how far the window was narrowed.
func (p *Profile) Change(i int) float64 {
	w := p.width(i)
	return p.Third[i] * w * w / p.HalfWidth
}

// tricube is the local regression kernel on |t| < 1.
func tricube(t float64) float64 {
	a := math.Abs(t)
	if a >= 1 {
		return 0
	}
	v := 1 - a*a*a
	return v * v * v
}

// LocalProfile fits a tricube-weighted polynomial of the given degree
// (at least 2) centred on every grid point. x must be strictly increasing.
// Near either end of [x[0], x[len-1]] the window narrows symmetrically so
// it stays inside the observed range; a grid point is usable while that
// narrowed half-width is at least minFraction of halfWidth.
func LocalProfile(x, y, grid []float64, halfWidth float64, degree int, minFraction float64) *Profile {
	n := len(grid)
	p := &Profile{
		Grid:      grid,
		Second:    make([]float64, n),
		Third:     make([]float64, n),
		Width:     make([]float64, n),
		Usable:    make([]bool, n),
		HalfWidth: halfWidth,
	}
	for i := range grid {
		p.Second[i], p.Third[i] = math.NaN(), math.NaN()
	}
	if len(x) == 0 || halfWidth <= 0 {
		return p
	}
	lo, hi := x[0], x[len(x)-1]
	floor := minFraction * halfWidth
	const eps = 1e-9

	for i, g := range grid {
		room := math.Min(halfWidth, math.Min(g-lo, hi-g))
		w := math.Max(room, floor)
		p.Width[i] = w
		if w <= 0 {
			continue
		}
		c, ok := localFit(x, y, g, w, degree)
		if !ok {
			continue
		}
		w2 := w * w
		p.Second[i] = 2 * c[2] / w2
		if degree >= 3 {
			p.Third[i] = 6 * c[3] / (w2 * w)
		}
		p.Usable[i] = room > 0 && room >= floor-eps*halfWidth
	}

	if degree < 3 {
		centralDifference(p.Grid, p.Second, p.Third)
	}
	return p
}

// localFit returns the local polynomial coefficients in t = (x-g)/h.
func localFit(x, y []float64, g, h float64, degree int) ([]float64, bool) {
	start := sort.SearchFloat64s(x, g-h)
	end := sort.SearchFloat64s(x, g+h)
	// Points exactly at g±h carry zero weight.
	var rows []int
	for j := start; j < end && j < len(x); j++ {
		if tricube((x[j]-g)/h) > 0 {
			rows = append(rows, j)
		}
	}
	p := degree + 1
	if len(rows) < p+1 {
		return nil, false
	}

	a := mat.NewDense(len(rows), p, nil)
	b := mat.NewVecDense(len(rows), nil)
	for r, j := range rows {
		t := (x[j] - g) / h
		sw := math.Sqrt(tricube(t))
		v := sw
		for k := 0; k < p; k++ {
			a.Set(r, k, v)
			v *= t
		}
		b.SetVec(r, sw*y[j])
	}

	var qr mat.QR
	qr.Factorize(a)
	var c mat.VecDense
	if err := qr.SolveVecTo(&c, false, b); err != nil {
		return nil, false
	}
	coef := c.RawVector().Data
	// Higher-order terms at rounding level are zero; otherwise a straight
	// line yields spurious third-derivative peaks.
	var norm float64
	for _, v := range coef {
		norm += math.Abs(v)
	}
	for k := 2; k < len(coef); k++ {
		if math.Abs(coef[k]) <= 1e-10*norm {
			coef[k] = 0
		}
	}
	return coef, true
}

// centralDifference fills dst with the numerical derivative of src on grid.
func centralDifference(grid, src, dst []float64) {
	for i := range dst {
		if i == 0 || i == len(dst)-1 {
			dst[i] = math.NaN()
			continue
		}
		dst[i] = (src[i+1] - src[i-1]) / (grid[i+1] - grid[i-1])
	}
}
