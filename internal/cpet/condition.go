package cpet

// DefaultMinSamples is the fewest valid samples a conditioned series may hold.
const DefaultMinSamples = 10

// Series is one conditioned channel of a trial: X strictly increasing,
// Y finite. It is the input of the breakpoint detector.
type Series struct {
	SubjectID string
	Channel   Channel
	Axis      Axis
	X         []float64
	Y         []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.X) }

// Condition restricts a trial to samples where both the effort value and
// the channel value are finite, orders them by (effort, Seq) and collapses
// co-located samples into one point carrying their mean value. No smoothing
// or outlier rejection happens here, so raw variability is preserved.
//
// minSamples <= 0 selects DefaultMinSamples.
func Condition(t Trial, axis Axis, c Channel, minSamples int) (Series, error) {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	sorted := t.SortedBy(axis)
	s := Series{SubjectID: t.Subject.ID, Channel: c, Axis: axis}

	var sum float64
	var count int
	flush := func() {
		if count > 0 {
			s.Y[len(s.Y)-1] = sum / float64(count)
		}
	}
	for _, sm := range sorted.Samples {
		x, y := sm.Effort(axis), sm.Value(c)
		if !isFinite(x) || !isFinite(y) {
			continue
		}
		if n := len(s.X); n > 0 && s.X[n-1] == x {
			sum += y
			count++
			continue
		}
		flush()
		s.X = append(s.X, x)
		s.Y = append(s.Y, y)
		sum, count = y, 1
	}
	flush()

	if len(s.X) < minSamples {
		return Series{}, &InsufficientDataError{
			SubjectID: t.Subject.ID,
			Channel:   c,
			Valid:     len(s.X),
			Required:  minSamples,
		}
	}
	return s, nil
}
