package cpet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rrTrial(id string, times []float64, rr []float64) Trial {
	t := Trial{Subject: Subject{ID: id}}
	for i := range times {
		s := NewSample(i)
		s.Time = times[i]
		s.Values[ChannelRR] = rr[i]
		t.Samples = append(t.Samples, s)
	}
	return t
}

func TestParseChannel(t *testing.T) {
	for _, c := range Channels() {
		got, err := ParseChannel(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseChannel("  RR_BR_PER_MIN ")
	require.NoError(t, err)
	assert.Equal(t, ChannelRR, got)

	_, err = ParseChannel("spo2")
	assert.Error(t, err)
}

func TestParseAxis(t *testing.T) {
	testCases := []struct {
		in      string
		want    Axis
		wantErr bool
	}{
		{"", AxisTime, false},
		{"time", AxisTime, false},
		{"Work", AxisWork, false},
		{"distance", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAxis(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPredictedMaxHR(t *testing.T) {
	assert.Equal(t, 190.0, Subject{Age: 30}.PredictedMaxHR().Float())
	assert.False(t, Subject{}.PredictedMaxHR().Defined())
}

func TestSortedByStableOnDuplicates(t *testing.T) {
	tr := rrTrial("S1", []float64{3, 1, 2, 1, math.NaN()}, []float64{30, 10, 20, 11, 99})
	sorted := tr.SortedBy(AxisTime)

	seqs := make([]int, len(sorted.Samples))
	for i, s := range sorted.Samples {
		seqs[i] = s.Seq
	}
	assert.Equal(t, []int{1, 3, 2, 0, 4}, seqs)
	// The original trial is untouched.
	assert.Equal(t, 0, tr.Samples[0].Seq)
}

func TestConditionFiltersAndCollapses(t *testing.T) {
	times := []float64{0, 1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, math.Inf(1)}
	rr := []float64{10, 12, 14, math.NaN(), 16, 17, 18, 19, 20, 21, 22, 23, 50}
	s, err := Condition(rrTrial("S1", times, rr), AxisTime, ChannelRR, 10)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 3, 4, 5, 6, 7, 8, 9, 10}, s.X)
	assert.Equal(t, []float64{10, 13, 16, 17, 18, 19, 20, 21, 22, 23}, s.Y)
	assert.Equal(t, "S1", s.SubjectID)
	for i := 1; i < s.Len(); i++ {
		assert.Greater(t, s.X[i], s.X[i-1])
	}
}

func TestConditionInsufficientData(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4}
	rr := []float64{10, 11, 12, 13, 14}
	_, err := Condition(rrTrial("S5", times, rr), AxisTime, ChannelRR, 0)
	require.Error(t, err)

	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 5, ide.Valid)
	assert.Equal(t, DefaultMinSamples, ide.Required)
	assert.Equal(t, KindInsufficientData, KindOf(fmt.Errorf("wrapped: %w", err)))
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{&BreakpointNotFoundError{SubjectID: "a", Found: 1}, KindBreakpointNotFound},
		{&ThresholdOrderingError{SubjectID: "a", VT1: 2, VT2: 1}, KindThresholdOrdering},
		{&InsufficientSampleError{Comparison: "vt1", N: 2, Required: 3}, KindInsufficientSample},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, KindOf(tc.err))
	}
}

func TestGoldStandardValidate(t *testing.T) {
	assert.NoError(t, GoldStandard{SubjectID: "a", VT1: 300, VT2: 500}.Validate())
	assert.Error(t, GoldStandard{SubjectID: "a", VT1: 500, VT2: 500}.Validate())
	assert.Error(t, GoldStandard{SubjectID: "a", VT1: math.NaN(), VT2: 500}.Validate())
}

func TestMetricJSON(t *testing.T) {
	b, err := json.Marshal([]Metric{1.5, Undefined(), Metric(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, `[1.5,null,null]`, string(b))

	var back []Metric
	require.NoError(t, json.Unmarshal([]byte(`[2, null]`), &back))
	require.Len(t, back, 2)
	assert.Equal(t, Metric(2), back[0])
	assert.False(t, back[1].Defined())
	assert.Nil(t, back[1].NullFloat())
	assert.Equal(t, 2.0, back[0].NullFloat())
}
