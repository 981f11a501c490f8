package pipeline

import (
	"math"

	"github.com/banshee-data/brv.report/internal/breakpoint"
	"github.com/banshee-data/brv.report/internal/brv"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/threshold"
	"github.com/banshee-data/brv.report/internal/zones"
)

type subjectOutcome struct {
	result     SubjectResult
	exclusions []Exclusion
}

func (o *subjectOutcome) exclude(stage Stage, err error) {
	o.exclusions = append(o.exclusions, Exclusion{
		SubjectID: o.result.Subject.ID,
		Stage:     stage,
		Kind:      cpet.KindOf(err),
		Message:   err.Error(),
	})
}

// analyseSubject runs condition, detect, select, segment and BRV for one
// trial, then the augmented pass. It owns t for its whole duration and
// shares nothing mutable with other subjects except the run's fit cache.
func (r *Runner) analyseSubject(det *breakpoint.Detector, sel threshold.Selector, t cpet.Trial, gold *cpet.GoldStandard) subjectOutcome {
	log := monitoring.Prefixed("subject " + t.Subject.ID)
	o := subjectOutcome{result: SubjectResult{
		Subject:        t.Subject,
		PredictedMaxHR: t.Subject.PredictedMaxHR(),
		Samples:        len(t.Samples),
		Gold:           gold,
	}}

	series, err := cpet.Condition(t, r.axis, r.channel, r.cfg.GetMinSamples())
	if err != nil {
		log.Logf("excluded at %s: %v", StageCondition, err)
		o.exclude(StageCondition, err)
		o.result.Excluded = true
		return o
	}
	o.result.Valid = series.Len()
	log.Debugf("conditioned %d of %d samples on %s", series.Len(), len(t.Samples), r.axis)

	res, err := det.Detect(series)
	o.result.Primary.Detection = res
	if err != nil {
		log.Logf("excluded at %s: %v", StageDetect, err)
		o.exclude(StageDetect, err)
		o.result.Excluded = true
		return o
	}

	stage, err := r.finishPass(sel, t, &o.result.Primary)
	if err != nil {
		log.Logf("excluded at %s: %v", stage, err)
		o.exclude(stage, err)
		o.result.Excluded = true
		return o
	}
	est := o.result.Primary.Estimate
	log.Logf("VT1 %.1f VT2 %.1f from %d candidates", est.VT1, est.VT2, est.Candidates)

	if len(r.augment) > 0 {
		aug, err := r.augmentedPass(det, sel, t, series)
		o.result.Augmented = aug
		if err != nil {
			log.Logf("augmented pass failed: %v", err)
			o.exclude(StageAugment, err)
		}
	}
	return o
}

// finishPass selects thresholds from p.Detection and derives zones and BRV.
func (r *Runner) finishPass(sel threshold.Selector, t cpet.Trial, p *Pass) (Stage, error) {
	est, err := sel.Select(t.Subject.ID, p.Detection.Candidates)
	if err != nil {
		return StageSelect, err
	}
	p.Estimate = &est

	seg, err := zones.Partition(t, r.axis, est.VT1, est.VT2)
	if err != nil {
		return StageSegment, err
	}
	byZone := brv.ByZone(seg, r.source)
	p.BRV = byZone[:]
	p.ZoneSamples = make([]int, len(zones.All))
	for _, z := range zones.All {
		p.ZoneSamples[z.Index()] = len(seg.Samples(z))
	}
	return "", nil
}

// augmentedPass repeats detection with the auxiliary channels folded into
// a composite curvature profile. The returned pass may be partially filled
// when err is non-nil.
func (r *Runner) augmentedPass(det *breakpoint.Detector, sel threshold.Selector, t cpet.Trial, primary cpet.Series) (*Pass, error) {
	aux := make([]cpet.Series, 0, len(r.augment))
	for _, ch := range r.augment {
		if ch == r.channel {
			continue
		}
		s, err := cpet.Condition(t, r.axis, ch, r.cfg.GetMinSamples())
		if err != nil {
			return nil, err
		}
		aux = append(aux, s)
	}
	p := &Pass{}
	res, err := det.DetectComposite(primary, aux)
	p.Detection = res
	if err != nil {
		return p, err
	}
	if _, err := r.finishPass(sel, t, p); err != nil {
		return p, err
	}
	return p, nil
}

// rmssd returns a zone's RMSSD from a pass, NaN when unavailable.
func (p *Pass) rmssd(z zones.Zone) float64 {
	if p == nil || len(p.BRV) <= z.Index() {
		return math.NaN()
	}
	return p.BRV[z.Index()].RMSSD.Float()
}
