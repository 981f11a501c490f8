// Package cpet holds the cardiopulmonary exercise test data model: subjects,
// breath-by-breath samples, trials and externally supplied gold-standard
// ventilatory thresholds. It also conditions a single channel of a trial
// into a clean effort-axis series for the breakpoint detector.
package cpet

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Channel identifies one breath-by-breath measurement column.
type Channel int

const (
	ChannelRR Channel = iota
	ChannelVO2Rel
	ChannelVO2Abs
	ChannelVCO2
	ChannelRER
	ChannelVt
	ChannelVe
	ChannelHR
	ChannelPETO2
	ChannelPETCO2
	ChannelTtot
	ChannelTi
	ChannelTe

	NumChannels = int(ChannelTe) + 1
)

// channelNames uses the snake_case column names of the cleaned CSV export.
var channelNames = [NumChannels]string{
	ChannelRR:     "rr_br_per_min",
	ChannelVO2Rel: "vo2_ml_per_kg_min",
	ChannelVO2Abs: "vo2_ml_per_min",
	ChannelVCO2:   "vco2_ml_per_min",
	ChannelRER:    "rer",
	ChannelVt:     "vt_btps_l",
	ChannelVe:     "ve_btps_l_per_min",
	ChannelHR:     "hr_bpm",
	ChannelPETO2:  "peto2_mmhg",
	ChannelPETCO2: "petco2_mmhg",
	ChannelTtot:   "ttot_sec",
	ChannelTi:     "ti_sec",
	ChannelTe:     "te_sec",
}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel resolves a column name (case-insensitive) to a Channel.
func ParseChannel(name string) (Channel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// Channels returns every channel in their canonical (column) order.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// Axis selects the effort axis a trial is analysed against.
type Axis string

const (
	AxisTime Axis = "time"
	AxisWork Axis = "work"
)

// ParseAxis validates an axis name. Empty input selects AxisTime.
func ParseAxis(s string) (Axis, error) {
	switch Axis(strings.ToLower(strings.TrimSpace(s))) {
	case "", AxisTime:
		return AxisTime, nil
	case AxisWork:
		return AxisWork, nil
	}
	return "", fmt.Errorf("unknown effort axis %q (want time or work)", s)
}

// Subject describes one participant. Values are immutable once loaded.
type Subject struct {
	ID         string  `json:"id"`
	Sex        string  `json:"sex,omitempty"`
	Age        float64 `json:"age,omitempty"`
	BodyMassKg float64 `json:"body_mass_kg,omitempty"`
}

// PredictedMaxHR returns the age-predicted maximal heart rate (220 - age),
// undefined when the age is unknown.
func (s Subject) PredictedMaxHR() Metric {
	if s.Age <= 0 || math.IsNaN(s.Age) {
		return Undefined()
	}
	return Metric(220 - s.Age)
}

// Sample is one breath. Missing channel values are NaN.
type Sample struct {
	Time   float64              `json:"time"`
	Work   float64              `json:"work"`
	Values [NumChannels]float64 `json:"values"`
	// Seq is the ingestion order, used to keep duplicate effort values stable.
	Seq int `json:"seq"`
}

// NewSample returns a sample with every channel marked missing.
func NewSample(seq int) Sample {
	s := Sample{Time: math.NaN(), Work: math.NaN(), Seq: seq}
	for i := range s.Values {
		s.Values[i] = math.NaN()
	}
	return s
}

// Effort returns the sample position on the given axis.
func (s Sample) Effort(axis Axis) float64 {
	if axis == AxisWork {
		return s.Work
	}
	return s.Time
}

// Value returns the channel value, NaN if missing.
func (s Sample) Value(c Channel) float64 {
	if c < 0 || int(c) >= NumChannels {
		return math.NaN()
	}
	return s.Values[c]
}

// Trial is the ordered breath sequence of one subject's test session.
type Trial struct {
	Subject Subject  `json:"subject"`
	Samples []Sample `json:"samples"`
}

// SortedBy returns a copy of the trial ordered by (effort, Seq). Samples
// without a finite effort value are moved to the end in ingestion order.
func (t Trial) SortedBy(axis Axis) Trial {
	out := Trial{Subject: t.Subject, Samples: make([]Sample, len(t.Samples))}
	copy(out.Samples, t.Samples)
	sort.SliceStable(out.Samples, func(i, j int) bool {
		a, b := out.Samples[i], out.Samples[j]
		ea, eb := a.Effort(axis), b.Effort(axis)
		fa, fb := isFinite(ea), isFinite(eb)
		if fa != fb {
			return fa
		}
		if fa && ea != eb {
			return ea < eb
		}
		return a.Seq < b.Seq
	})
	return out
}

// GoldStandard holds the externally derived (gas-exchange) thresholds.
type GoldStandard struct {
	SubjectID string  `json:"subject_id"`
	VT1       float64 `json:"vt1"`
	VT2       float64 `json:"vt2"`
}

// Validate enforces the VT1 < VT2 ordering shared with engine estimates.
func (g GoldStandard) Validate() error {
	if !isFinite(g.VT1) || !isFinite(g.VT2) {
		return fmt.Errorf("gold standard for %s: thresholds must be finite", g.SubjectID)
	}
	if g.VT1 >= g.VT2 {
		return fmt.Errorf("gold standard for %s: VT1 %.3f must be below VT2 %.3f", g.SubjectID, g.VT1, g.VT2)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
