// Package zones splits a trial into the three metabolic zones bounded by
// the estimated thresholds.
package zones

import (
	"fmt"
	"math"

	"github.com/banshee-data/brv.report/internal/cpet"
)

// Zone is a metabolic zone. The zero value is not a zone.
type Zone int

const (
	Zone1 Zone = iota + 1 // [start, VT1)
	Zone2                 // [VT1, VT2)
	Zone3                 // [VT2, end]
)

// All lists the zones in effort order.
var All = [...]Zone{Zone1, Zone2, Zone3}

func (z Zone) String() string {
	switch z {
	case Zone1, Zone2, Zone3:
		return fmt.Sprintf("zone%d", int(z))
	}
	return fmt.Sprintf("zone(%d)", int(z))
}

// MarshalText encodes the zone by name.
func (z Zone) MarshalText() ([]byte, error) {
	if z < Zone1 || z > Zone3 {
		return nil, fmt.Errorf("invalid zone %d", int(z))
	}
	return []byte(z.String()), nil
}

// ParseZone resolves "zone1".."zone3".
func ParseZone(s string) (Zone, error) {
	for _, z := range All {
		if z.String() == s {
			return z, nil
		}
	}
	return 0, fmt.Errorf("unknown zone %q", s)
}

// UnmarshalText decodes a zone name.
func (z *Zone) UnmarshalText(b []byte) error {
	v, err := ParseZone(string(b))
	if err != nil {
		return err
	}
	*z = v
	return nil
}

// Index returns the 0-based position of z in All.
func (z Zone) Index() int { return int(z) - 1 }

// Of returns the zone of an effort value under half-open membership: a
// value exactly at a threshold belongs to the zone that starts there.
func Of(effort, vt1, vt2 float64) Zone {
	switch {
	case effort < vt1:
		return Zone1
	case effort < vt2:
		return Zone2
	}
	return Zone3
}

// Segments holds the samples of each zone in effort order, plus samples
// that have no finite effort position and therefore no zone.
type Segments struct {
	Zones    [3][]cpet.Sample
	Unplaced []cpet.Sample
}

// Samples returns the samples of zone z.
func (s Segments) Samples(z Zone) []cpet.Sample { return s.Zones[z.Index()] }

// Count returns the number of placed samples.
func (s Segments) Count() int {
	return len(s.Zones[0]) + len(s.Zones[1]) + len(s.Zones[2])
}

// Partition assigns every sample of t with a finite effort value to exactly
// one zone. Because samples are visited in (effort, Seq) order the zones
// are contiguous. vt1 must be below vt2.
func Partition(t cpet.Trial, axis cpet.Axis, vt1, vt2 float64) (Segments, error) {
	if !(vt1 < vt2) {
		return Segments{}, &cpet.ThresholdOrderingError{SubjectID: t.Subject.ID, VT1: vt1, VT2: vt2}
	}
	var seg Segments
	for _, sm := range t.SortedBy(axis).Samples {
		x := sm.Effort(axis)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			seg.Unplaced = append(seg.Unplaced, sm)
			continue
		}
		z := Of(x, vt1, vt2)
		seg.Zones[z.Index()] = append(seg.Zones[z.Index()], sm)
	}
	return seg, nil
}
