package breakpoint

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
)

// Config controls the trend degree search and the curvature profile.
type Config struct {
	MinDegree        int
	MaxDegree        int
	Criterion        Criterion
	GridPoints       int
	WindowFraction   float64
	LocalDegree      int
	EdgeFraction     float64
	MinRelativeScore float64
	MinScore         float64
}

// DefaultConfig mirrors config/analysis.defaults.json.
func DefaultConfig() Config {
	return Config{
		MinDegree:        2,
		MaxDegree:        5,
		Criterion:        CriterionLOOCV,
		GridPoints:       501,
		WindowFraction:   0.2,
		LocalDegree:      3,
		EdgeFraction:     0.25,
		MinRelativeScore: 0.2,
		MinScore:         0,
	}
}

// Validate checks the ranges the detector relies on.
func (c Config) Validate() error {
	if c.MinDegree < 1 || c.MaxDegree < c.MinDegree {
		return fmt.Errorf("degree range [%d, %d] is invalid", c.MinDegree, c.MaxDegree)
	}
	if _, err := ParseCriterion(string(c.Criterion)); err != nil {
		return err
	}
	if c.GridPoints < 3 {
		return fmt.Errorf("grid_points must be at least 3, got %d", c.GridPoints)
	}
	if c.WindowFraction <= 0 || c.WindowFraction > 1 {
		return fmt.Errorf("window_fraction must be in (0, 1], got %v", c.WindowFraction)
	}
	if c.LocalDegree < 2 {
		return fmt.Errorf("local_degree must be at least 2, got %d", c.LocalDegree)
	}
	if c.EdgeFraction < 0 || c.EdgeFraction > 1 {
		return fmt.Errorf("edge_fraction must be in [0, 1], got %v", c.EdgeFraction)
	}
	if c.MinRelativeScore < 0 || c.MinRelativeScore > 1 {
		return fmt.Errorf("min_relative_score must be in [0, 1], got %v", c.MinRelativeScore)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min_score must be non-negative, got %v", c.MinScore)
	}
	return nil
}

// Kind says which side of a curvature event a candidate marks.
type Kind string

const (
	KindOnset  Kind = "onset"  // curvature increasing
	KindOffset Kind = "offset" // curvature decreasing
	KindPeak   Kind = "peak"   // onset and offset within one window
)

// Candidate is a possible threshold location on the effort axis.
// Score is the magnitude of the curvature change across one half-width of
// the profile window, in the channel's units per effort unit squared.
// Curvature is the local second derivative and may be undefined when no
// local fit covers the candidate.
type Candidate struct {
	Effort    float64     `json:"effort"`
	Score     float64     `json:"score"`
	Curvature cpet.Metric `json:"curvature"`
	Kind      Kind        `json:"kind"`
}

// Curve is the trend evaluated on the detection grid.
type Curve struct {
	X         []float64 `json:"x"`
	Fitted    []float64 `json:"fitted"`
	Slope     []float64 `json:"slope"`
	Curvature []float64 `json:"curvature"`
}

// Result is everything the detector derived for one series.
type Result struct {
	SubjectID  string      `json:"subject_id"`
	Channel    string      `json:"channel"`
	Trend      *Trend      `json:"trend"`
	Curve      Curve       `json:"curve"`
	Profile    *Profile    `json:"-"`
	Candidates []Candidate `json:"candidates"`
}

// Detector finds curvature candidates. It holds no per-subject state apart
// from the optional run-owned fit cache.
type Detector struct {
	cfg   Config
	cache *FitCache
}

// NewDetector returns a detector. cache may be nil.
func NewDetector(cfg Config, cache *FitCache) *Detector {
	return &Detector{cfg: cfg, cache: cache}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// Cache returns the fit cache, possibly nil.
func (d *Detector) Cache() *FitCache { return d.cache }

// FitTrend fits every degree in the configured range and keeps the best
// under the configured criterion. Equal scores keep the lower degree.
func (d *Detector) FitTrend(s cpet.Series) (*Trend, error) {
	channel := s.Channel.String()
	var best *PolyFit
	var considered []DegreeScore
	var lastErr error
	for deg := d.cfg.MinDegree; deg <= d.cfg.MaxDegree; deg++ {
		fit, ok := d.cache.Get(s.SubjectID, channel, deg)
		if !ok {
			var err error
			fit, err = FitPolynomial(s.X, s.Y, deg)
			if err != nil {
				lastErr = err
				monitoring.Debugf("subject %s channel %s: skip degree %d: %v", s.SubjectID, channel, deg, err)
				continue
			}
			d.cache.Put(s.SubjectID, channel, fit)
		}
		considered = append(considered, DegreeScore{Degree: deg, AdjR2: fit.AdjR2, PRESS: fit.PRESS})
		if best == nil || better(d.cfg.Criterion, fit, best) {
			best = fit
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no degree in [%d, %d] could be fitted: %w", d.cfg.MinDegree, d.cfg.MaxDegree, lastErr)
	}
	return &Trend{PolyFit: *best, Criterion: d.cfg.Criterion, Considered: considered}, nil
}

func (d *Detector) grid(lo, hi float64) []float64 {
	return floats.Span(make([]float64, d.cfg.GridPoints), lo, hi)
}

func trendCurve(t *Trend, grid []float64) Curve {
	c := Curve{
		X:         grid,
		Fitted:    make([]float64, len(grid)),
		Slope:     make([]float64, len(grid)),
		Curvature: make([]float64, len(grid)),
	}
	for i, x := range grid {
		c.Fitted[i] = t.Eval(x)
		c.Slope[i] = t.Derivative(x, 1)
		c.Curvature[i] = t.Derivative(x, 2)
	}
	return c
}

// Detect fits the trend and the local curvature profile of s and returns
// the candidates in effort order. Fewer than two candidates yields a
// *cpet.BreakpointNotFoundError alongside the (still populated) result.
func (d *Detector) Detect(s cpet.Series) (*Result, error) {
	if s.Len() < 2 {
		return nil, &cpet.InsufficientDataError{SubjectID: s.SubjectID, Channel: s.Channel, Valid: s.Len(), Required: 2}
	}
	trend, err := d.FitTrend(s)
	if err != nil {
		return nil, fmt.Errorf("subject %s: trend: %w", s.SubjectID, err)
	}
	lo, hi := s.X[0], s.X[s.Len()-1]
	grid := d.grid(lo, hi)
	prof := LocalProfile(s.X, s.Y, grid, d.cfg.WindowFraction*(hi-lo), d.cfg.LocalDegree, d.cfg.EdgeFraction)

	res := &Result{
		SubjectID:  s.SubjectID,
		Channel:    s.Channel.String(),
		Trend:      trend,
		Curve:      trendCurve(trend, grid),
		Profile:    prof,
		Candidates: FindCandidates(prof, d.cfg.MinRelativeScore, d.cfg.MinScore),
	}
	monitoring.Debugf("subject %s channel %s: trend degree %d (adj R2 %.4f), %d candidates",
		s.SubjectID, res.Channel, trend.Degree, trend.AdjR2, len(res.Candidates))
	if len(res.Candidates) < 2 {
		return res, &cpet.BreakpointNotFoundError{SubjectID: s.SubjectID, Channel: res.Channel, Found: len(res.Candidates)}
	}
	return res, nil
}

// DetectComposite profiles the primary series together with auxiliary
// channels of the same subject on a common grid spanning their shared
// range. Each channel's curvature-change profile is normalised by its peak
// magnitude and the normalised profiles are summed; the sum is rescaled to
// the primary channel's units so scores stay comparable with Detect. The trend
// and the reported curvature belong to the primary series.
func (d *Detector) DetectComposite(primary cpet.Series, aux []cpet.Series) (*Result, error) {
	if len(aux) == 0 {
		return d.Detect(primary)
	}
	if primary.Len() < 2 {
		return nil, &cpet.InsufficientDataError{SubjectID: primary.SubjectID, Channel: primary.Channel, Valid: primary.Len(), Required: 2}
	}
	all := append([]cpet.Series{primary}, aux...)
	names := make([]string, len(all))
	lo, hi := math.Inf(-1), math.Inf(1)
	for i, s := range all {
		names[i] = s.Channel.String()
		if s.Len() < 2 {
			return nil, &cpet.InsufficientDataError{SubjectID: s.SubjectID, Channel: s.Channel, Valid: s.Len(), Required: 2}
		}
		lo = math.Max(lo, s.X[0])
		hi = math.Min(hi, s.X[s.Len()-1])
	}
	channel := strings.Join(names, "+")
	if hi <= lo {
		return nil, fmt.Errorf("subject %s channels %s: no common effort range", primary.SubjectID, channel)
	}

	trend, err := d.FitTrend(primary)
	if err != nil {
		return nil, fmt.Errorf("subject %s: trend: %w", primary.SubjectID, err)
	}
	grid := d.grid(lo, hi)
	h := d.cfg.WindowFraction * (hi - lo)

	profiles := make([]*Profile, len(all))
	usable := make([]bool, len(grid))
	for i := range usable {
		usable[i] = true
	}
	for k, s := range all {
		profiles[k] = LocalProfile(s.X, s.Y, grid, h, d.cfg.LocalDegree, d.cfg.EdgeFraction)
		for i := range grid {
			usable[i] = usable[i] && profiles[k].Usable[i] && !math.IsNaN(profiles[k].Third[i])
		}
	}
	// Common-range edges also bound the composite window.
	floor := d.cfg.EdgeFraction * h
	for i, g := range grid {
		if room := math.Min(g-lo, hi-g); room <= 0 || room < floor-1e-9*h {
			usable[i] = false
		}
	}

	comp := &Profile{
		Grid:      grid,
		Second:    profiles[0].Second,
		Third:     make([]float64, len(grid)),
		Usable:    usable,
		HalfWidth: h,
	}
	changes := make([][]float64, len(profiles))
	for k, p := range profiles {
		changes[k] = make([]float64, len(grid))
		for i := range grid {
			changes[k][i] = p.Change(i)
		}
	}
	unit := peakMagnitude(changes[0], usable)
	if unit == 0 {
		unit = 1
	}
	for k := range profiles {
		peak := peakMagnitude(changes[k], usable)
		if peak == 0 {
			continue
		}
		for i := range grid {
			if usable[i] {
				comp.Third[i] += changes[k][i] / peak * unit / h
			}
		}
	}
	for i := range grid {
		if !usable[i] {
			comp.Third[i] = math.NaN()
		}
	}

	res := &Result{
		SubjectID:  primary.SubjectID,
		Channel:    channel,
		Trend:      trend,
		Curve:      trendCurve(trend, grid),
		Profile:    comp,
		Candidates: FindCandidates(comp, d.cfg.MinRelativeScore, d.cfg.MinScore),
	}
	monitoring.Debugf("subject %s channels %s: %d composite candidates", primary.SubjectID, channel, len(res.Candidates))
	if len(res.Candidates) < 2 {
		return res, &cpet.BreakpointNotFoundError{SubjectID: primary.SubjectID, Channel: channel, Found: len(res.Candidates)}
	}
	return res, nil
}

func peakMagnitude(v []float64, usable []bool) float64 {
	var m float64
	for i, x := range v {
		if usable[i] && !math.IsNaN(x) {
			m = math.Max(m, math.Abs(x))
		}
	}
	return m
}

// FindCandidates extracts candidates from a profile: strict local maxima of
// the curvature change over usable grid points whose score reaches
// max(minScore, minRelative × best score). Same-sign peaks closer than the
// half-width keep the stronger one. An onset and offset within one
// half-width of each other collapse to a single peak placed where the third
// derivative changes sign between them, which is the curvature maximum.
func FindCandidates(p *Profile, minRelative, minScore float64) []Candidate {
	n := len(p.Grid)
	h := p.HalfWidth
	mag := make([]float64, n)
	best := 0.0
	for i := range mag {
		if !p.Usable[i] || math.IsNaN(p.Third[i]) {
			mag[i] = math.NaN()
			continue
		}
		mag[i] = math.Abs(p.Change(i))
		best = math.Max(best, mag[i])
	}
	if best == 0 {
		return nil
	}
	threshold := math.Max(minScore, minRelative*best)

	type peak struct {
		i     int
		score float64
		sign  int
	}
	var peaks []peak
	for i := 1; i < n-1; i++ {
		l, c, r := mag[i-1], mag[i], mag[i+1]
		if math.IsNaN(l) || math.IsNaN(c) || math.IsNaN(r) {
			continue
		}
		if c > l && c >= r && c > 0 && c >= threshold {
			sign := 1
			if p.Third[i] < 0 {
				sign = -1
			}
			pk := peak{i: i, score: c, sign: sign}
			if k := len(peaks) - 1; k >= 0 && peaks[k].sign == sign && p.Grid[i]-p.Grid[peaks[k].i] < h {
				if c > peaks[k].score {
					peaks[k] = pk
				}
				continue
			}
			peaks = append(peaks, pk)
		}
	}

	var out []Candidate
	for k := 0; k < len(peaks); k++ {
		a := peaks[k]
		if k+1 < len(peaks) {
			b := peaks[k+1]
			if a.sign != b.sign && p.Grid[b.i]-p.Grid[a.i] <= h {
				effort, curv := collapsePeak(p, a.i, b.i)
				out = append(out, Candidate{
					Effort:    effort,
					Score:     math.Max(a.score, b.score),
					Curvature: curv,
					Kind:      KindPeak,
				})
				k++
				continue
			}
		}
		kind := KindOnset
		if a.sign < 0 {
			kind = KindOffset
		}
		out = append(out, Candidate{
			Effort:    p.Grid[a.i],
			Score:     a.score,
			Curvature: cpet.Metric(p.Second[a.i]),
			Kind:      kind,
		})
	}
	return out
}

// collapsePeak locates the curvature maximum between an onset at grid index
// a and an offset at b. The location is the linearly interpolated sign
// change of the third derivative, or the midpoint when no finite sign change
// lies between them. The curvature is read at the nearest fitted grid point
// and otherwise falls back to the larger of the two flanks.
func collapsePeak(p *Profile, a, b int) (float64, cpet.Metric) {
	effort := (p.Grid[a] + p.Grid[b]) / 2
	at := (a + b) / 2
	for j := a; j < b; j++ {
		t0, t1 := p.Third[j], p.Third[j+1]
		if math.IsNaN(t0) || math.IsNaN(t1) || t0 == t1 || t0*t1 > 0 {
			continue
		}
		frac := t0 / (t0 - t1)
		effort = p.Grid[j] + frac*(p.Grid[j+1]-p.Grid[j])
		at = j
		if frac > 0.5 {
			at = j + 1
		}
		break
	}
	if c := cpet.Metric(p.Second[at]); c.Defined() {
		return effort, c
	}
	ca, cb := cpet.Metric(p.Second[a]), cpet.Metric(p.Second[b])
	switch {
	case ca.Defined() && cb.Defined():
		if math.Abs(cb.Float()) > math.Abs(ca.Float()) {
			return effort, cb
		}
		return effort, ca
	case cb.Defined():
		return effort, cb
	default:
		return effort, ca
	}
}
