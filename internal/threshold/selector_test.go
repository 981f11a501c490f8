package threshold

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/brv.report/internal/breakpoint"
	"github.com/banshee-data/brv.report/internal/cpet"
)

func cand(effort, score float64) breakpoint.Candidate {
	return breakpoint.Candidate{Effort: effort, Score: score, Kind: breakpoint.KindPeak}
}

func TestSelect(t *testing.T) {
	cal := &Calibration{VT1Median: 300, VT2Median: 600}
	testCases := []struct {
		name     string
		cal      *Calibration
		cands    []breakpoint.Candidate
		vt1, vt2 float64
		tieBreak string
		wantKind cpet.ErrorKind
	}{
		{
			name:  "exactly two keep effort order regardless of score",
			cands: []breakpoint.Candidate{cand(200, 0.1), cand(100, 5)},
			vt1:   100,
			vt2:   200,
		},
		{
			name:  "two highest of many reordered by effort",
			cands: []breakpoint.Candidate{cand(100, 1), cand(250, 9), cand(400, 3), cand(500, 7)},
			vt1:   250,
			vt2:   500,
		},
		{
			name:     "tie without calibration prefers earliest effort",
			cands:    []breakpoint.Candidate{cand(100, 2), cand(350, 5), cand(450, 2), cand(700, 2)},
			vt1:      100,
			vt2:      350,
			tieBreak: "earliest_effort",
		},
		{
			name:     "tie with calibration prefers candidate nearest a gold median",
			cal:      cal,
			cands:    []breakpoint.Candidate{cand(100, 2), cand(350, 5), cand(590, 2), cand(700, 2)},
			vt1:      350,
			vt2:      590,
			tieBreak: "calibration_median",
		},
		{
			name:     "scores equal up to rounding still tie",
			cands:    []breakpoint.Candidate{cand(100, 1), cand(300, 1+1e-13), cand(500, 3)},
			vt1:      100,
			vt2:      500,
			tieBreak: "earliest_effort",
		},
		{
			name:     "single candidate",
			cands:    []breakpoint.Candidate{cand(100, 1)},
			wantKind: cpet.KindBreakpointNotFound,
		},
		{
			name:     "equal efforts violate ordering",
			cands:    []breakpoint.Candidate{cand(300, 1), cand(300, 2)},
			wantKind: cpet.KindThresholdOrdering,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			est, err := Selector{Calibration: tc.cal}.Select("S", tc.cands)
			if tc.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantKind, cpet.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.vt1, est.VT1)
			assert.Equal(t, tc.vt2, est.VT2)
			assert.Less(t, est.VT1, est.VT2)
			assert.Equal(t, tc.tieBreak, est.TieBreak)
			assert.Equal(t, len(tc.cands), est.Candidates)
		})
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	in := []breakpoint.Candidate{cand(100, 1), cand(250, 9), cand(400, 3)}
	orig := append([]breakpoint.Candidate(nil), in...)
	_, err := Selector{}.Select("S", in)
	require.NoError(t, err)
	assert.Equal(t, orig, in)
}

func TestOrderingErrorFields(t *testing.T) {
	_, err := Selector{}.Select("S9", []breakpoint.Candidate{cand(42, 1), cand(42, 1)})
	var oe *cpet.ThresholdOrderingError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "S9", oe.SubjectID)
	assert.Equal(t, 42.0, oe.VT1)
}

func TestCalibrationFromGold(t *testing.T) {
	assert.Nil(t, CalibrationFromGold(nil))

	c := CalibrationFromGold([]cpet.GoldStandard{
		{SubjectID: "a", VT1: 300, VT2: 500},
		{SubjectID: "b", VT1: 100, VT2: 700},
		{SubjectID: "c", VT1: 200, VT2: 600},
		{SubjectID: "d", VT1: 400, VT2: 800},
	})
	require.NotNil(t, c)
	assert.Equal(t, 250.0, c.VT1Median)
	assert.Equal(t, 650.0, c.VT2Median)
}
