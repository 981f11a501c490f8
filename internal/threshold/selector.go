// Package threshold turns detector candidates into an ordered (VT1, VT2)
// estimate for one subject.
package threshold

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/brv.report/internal/breakpoint"
	"github.com/banshee-data/brv.report/internal/cpet"
)

// Estimate is the selected threshold pair. VT1 < VT2 always holds for a
// value returned without error.
type Estimate struct {
	SubjectID  string  `json:"subject_id"`
	VT1        float64 `json:"vt1"`
	VT2        float64 `json:"vt2"`
	VT1Score   float64 `json:"vt1_score"`
	VT2Score   float64 `json:"vt2_score"`
	Candidates int     `json:"candidates"`
	// TieBreak names the rule that settled an equal-score cut, if any.
	TieBreak string `json:"tie_break,omitempty"`
}

// Calibration carries cohort gold-standard medians for calibration runs.
type Calibration struct {
	VT1Median float64 `json:"vt1_median"`
	VT2Median float64 `json:"vt2_median"`
}

// CalibrationFromGold summarises gold-standard thresholds. It returns nil
// for an empty cohort.
func CalibrationFromGold(gold []cpet.GoldStandard) *Calibration {
	if len(gold) == 0 {
		return nil
	}
	vt1 := make([]float64, len(gold))
	vt2 := make([]float64, len(gold))
	for i, g := range gold {
		vt1[i], vt2[i] = g.VT1, g.VT2
	}
	return &Calibration{VT1Median: median(vt1), VT2Median: median(vt2)}
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return stat.Mean(s[n/2-1:n/2+1], nil)
}

// distance to the nearer of the two calibration medians.
func (c *Calibration) distance(x float64) float64 {
	return math.Min(math.Abs(x-c.VT1Median), math.Abs(x-c.VT2Median))
}

// Selector picks two candidates. With a nil Calibration, equal scores are
// broken by earliest effort.
type Selector struct {
	Calibration *Calibration
}

// scoreKey quantises a score relative to the best one so that values equal
// up to rounding compare as ties.
func scoreKey(score, best float64) int64 {
	if best <= 0 {
		return 0
	}
	return int64(math.Round(score / best * 1e9))
}

// Select assigns VT1 and VT2. Exactly two candidates are taken in effort
// order. With more, the two highest scores win and are then ordered by
// effort. A selected pair with VT1 >= VT2 is a *cpet.ThresholdOrderingError,
// never swapped.
func (s Selector) Select(subjectID string, cands []breakpoint.Candidate) (Estimate, error) {
	if len(cands) < 2 {
		return Estimate{}, &cpet.BreakpointNotFoundError{SubjectID: subjectID, Found: len(cands)}
	}
	ranked := append([]breakpoint.Candidate(nil), cands...)
	est := Estimate{SubjectID: subjectID, Candidates: len(cands)}

	if len(ranked) > 2 {
		best := 0.0
		for _, c := range ranked {
			best = math.Max(best, c.Score)
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			ki, kj := scoreKey(ranked[i].Score, best), scoreKey(ranked[j].Score, best)
			if ki != kj {
				return ki > kj
			}
			if s.Calibration != nil {
				di, dj := s.Calibration.distance(ranked[i].Effort), s.Calibration.distance(ranked[j].Effort)
				if di != dj {
					return di < dj
				}
			}
			return ranked[i].Effort < ranked[j].Effort
		})
		if scoreKey(ranked[1].Score, best) == scoreKey(ranked[2].Score, best) {
			est.TieBreak = "earliest_effort"
			if s.Calibration != nil {
				est.TieBreak = "calibration_median"
			}
		}
		ranked = ranked[:2]
	}

	// Stable on equal effort so an equal pair surfaces as an ordering error.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Effort < ranked[j].Effort })
	a, b := ranked[0], ranked[1]
	if !(a.Effort < b.Effort) {
		return Estimate{}, &cpet.ThresholdOrderingError{SubjectID: subjectID, VT1: a.Effort, VT2: b.Effort}
	}
	est.VT1, est.VT1Score = a.Effort, a.Score
	est.VT2, est.VT2Score = b.Effort, b.Score
	return est, nil
}
