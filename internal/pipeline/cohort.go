package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/zones"
)

// Comparison names used in reports and the run store.
const (
	CompareVT1          = "vt1"
	CompareVT2          = "vt2"
	CompareVT1Augmented = "vt1_augmented"
	CompareVT2Augmented = "vt2_augmented"
	CompareZone1Zone2   = "rmssd_zone1_vs_zone2"
	CompareZone2Zone3   = "rmssd_zone2_vs_zone3"
)

// LiteratureComparison names the one-sample test of a zone's RMSSD.
func LiteratureComparison(z zones.Zone) string {
	return fmt.Sprintf("rmssd_%s_vs_literature", z)
}

type pairFunc func(s *SubjectResult) (est, ref float64)

type comparison struct {
	name string
	pair pairFunc
}

func goldPair(augmented, second bool) pairFunc {
	return func(s *SubjectResult) (float64, float64) {
		p := &s.Primary
		if augmented {
			p = s.Augmented
		}
		if s.Excluded || s.Gold == nil || p == nil || p.Estimate == nil {
			return math.NaN(), math.NaN()
		}
		if second {
			return p.Estimate.VT2, s.Gold.VT2
		}
		return p.Estimate.VT1, s.Gold.VT1
	}
}

func zonePair(a, b zones.Zone) pairFunc {
	return func(s *SubjectResult) (float64, float64) {
		if s.Excluded {
			return math.NaN(), math.NaN()
		}
		return s.Primary.rmssd(a), s.Primary.rmssd(b)
	}
}

// cohort is the synchronisation point: it runs once all subjects are done.
func (r *Runner) cohort(rep *Report) error {
	comparisons := []comparison{
		{CompareVT1, goldPair(false, false)},
		{CompareVT2, goldPair(false, true)},
		{CompareZone1Zone2, zonePair(zones.Zone1, zones.Zone2)},
		{CompareZone2Zone3, zonePair(zones.Zone2, zones.Zone3)},
	}
	if len(r.augment) > 0 {
		comparisons = append(comparisons,
			comparison{CompareVT1Augmented, goldPair(true, false)},
			comparison{CompareVT2Augmented, goldPair(true, true)},
		)
	}

	rep.Comparisons = []*agreement.Result{}
	for _, c := range comparisons {
		pairs := make([]agreement.Pair, len(rep.Subjects))
		for i := range rep.Subjects {
			est, ref := c.pair(&rep.Subjects[i])
			pairs[i] = agreement.Pair{SubjectID: rep.Subjects[i].Subject.ID, Estimate: est, Reference: ref}
		}
		_, est, ref := agreement.Split(pairs)
		res, err := agreement.Analyze(c.name, est, ref, r.stats)
		if err != nil {
			if !errors.Is(err, cpet.ErrInsufficientSample) {
				return fmt.Errorf("comparison %s: %w", c.name, err)
			}
			rep.Skipped = append(rep.Skipped, Skipped{Comparison: c.name, N: len(est), Kind: cpet.KindOf(err), Message: err.Error()})
			monitoring.Logf("comparison %s skipped: %v", c.name, err)
			continue
		}
		rep.Comparisons = append(rep.Comparisons, res)
	}

	lit := r.cfg.GetLiteratureRMSSD()
	for _, z := range zones.All {
		ref := lit[z.Index()]
		if math.IsNaN(ref) {
			continue
		}
		name := LiteratureComparison(z)
		var values []float64
		for i := range rep.Subjects {
			s := &rep.Subjects[i]
			if v := s.Primary.rmssd(z); !s.Excluded && !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		res, err := agreement.OneSample(name, values, ref, r.stats)
		if err != nil {
			if !errors.Is(err, cpet.ErrInsufficientSample) {
				return fmt.Errorf("comparison %s: %w", name, err)
			}
			rep.Skipped = append(rep.Skipped, Skipped{Comparison: name, N: len(values), Kind: cpet.KindOf(err), Message: err.Error()})
			continue
		}
		rep.References = append(rep.References, res)
	}
	return nil
}
