// Package brv estimates breath-rate variability (RMSSD of successive
// breath intervals) within each metabolic zone.
package brv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/units"
	"github.com/banshee-data/brv.report/internal/zones"
)

// Source selects where breath intervals come from.
type Source string

const (
	SourceTtot Source = units.IntervalTtot
	SourceRR   Source = units.IntervalRR
)

// ParseSource validates an interval source. Empty selects SourceTtot.
func ParseSource(s string) (Source, error) {
	if s == "" {
		return SourceTtot, nil
	}
	if !units.IsValidIntervalSource(s) {
		return "", fmt.Errorf("unknown interval source %q (want %s)", s, units.GetValidIntervalSourcesString())
	}
	return Source(s), nil
}

// LowSampleIntervals is the interval count at which RMSSD rests on a single
// successive difference.
const LowSampleIntervals = 2

// Result is the variability of one zone. RMSSD is undefined with fewer
// than two intervals.
type Result struct {
	Zone         zones.Zone  `json:"zone"`
	RMSSD        cpet.Metric `json:"rmssd_ms"`
	Intervals    int         `json:"intervals"`
	LowSample    bool        `json:"low_sample"`
	MeanInterval cpet.Metric `json:"mean_interval_ms"`
	SDInterval   cpet.Metric `json:"sd_interval_ms"`
}

// Defined reports whether RMSSD has a value.
func (r Result) Defined() bool { return r.RMSSD.Defined() }

// Intervals returns the breath intervals in milliseconds of samples, in
// order, skipping samples without a usable value.
func Intervals(samples []cpet.Sample, src Source) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		var v float64
		switch src {
		case SourceRR:
			v = units.BreathIntervalMs(s.Value(cpet.ChannelRR))
		default:
			ttot := s.Value(cpet.ChannelTtot)
			if !(ttot > 0) {
				continue
			}
			v = units.SecondsToMs(ttot)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// RMSSD returns the root mean square of successive differences and
// whether it is defined (at least two intervals).
func RMSSD(intervals []float64) (float64, bool) {
	if len(intervals) < 2 {
		return math.NaN(), false
	}
	var sum float64
	for i := 1; i < len(intervals); i++ {
		d := intervals[i] - intervals[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(intervals)-1)), true
}

// Estimate summarises one zone's intervals.
func Estimate(z zones.Zone, intervals []float64) Result {
	r := Result{
		Zone:         z,
		RMSSD:        cpet.Undefined(),
		Intervals:    len(intervals),
		MeanInterval: cpet.Undefined(),
		SDInterval:   cpet.Undefined(),
	}
	if v, ok := RMSSD(intervals); ok {
		r.RMSSD = cpet.Metric(v)
		r.LowSample = len(intervals) == LowSampleIntervals
	}
	if len(intervals) > 0 {
		r.MeanInterval = cpet.Metric(stat.Mean(intervals, nil))
	}
	if len(intervals) > 1 {
		r.SDInterval = cpet.Metric(stat.StdDev(intervals, nil))
	}
	return r
}

// ByZone estimates every zone of a partitioned trial.
func ByZone(seg zones.Segments, src Source) [3]Result {
	var out [3]Result
	for _, z := range zones.All {
		out[z.Index()] = Estimate(z, Intervals(seg.Samples(z), src))
	}
	return out
}
