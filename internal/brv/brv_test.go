package brv

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/zones"
)

func TestRMSSD(t *testing.T) {
	testCases := []struct {
		name      string
		intervals []float64
		want      float64
		defined   bool
	}{
		{"identical intervals", []float64{1.0, 1.0, 1.0, 1.0}, 0, true},
		{"single interval", []float64{1.0}, math.NaN(), false},
		{"empty", nil, math.NaN(), false},
		{"two intervals", []float64{1000, 1300}, 300, true},
		{"alternating", []float64{1000, 1100, 1000, 1100}, 100, true},
		{"mixed", []float64{800, 1000, 700}, math.Sqrt((200*200 + 300*300) / 2.0), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RMSSD(tc.intervals)
			assert.Equal(t, tc.defined, ok)
			if !tc.defined {
				assert.True(t, math.IsNaN(got), "undefined RMSSD must not be zero")
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRMSSDNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		iv := make([]float64, 2+rng.Intn(30))
		for j := range iv {
			iv[j] = 500 + rng.Float64()*3000
		}
		got, ok := RMSSD(iv)
		require.True(t, ok)
		assert.GreaterOrEqual(t, got, 0.0)
	}
}

func TestEstimateFlags(t *testing.T) {
	r := Estimate(zones.Zone2, []float64{1000, 1200})
	assert.True(t, r.Defined())
	assert.True(t, r.LowSample)
	assert.Equal(t, 2, r.Intervals)
	assert.Equal(t, cpet.Metric(1100), r.MeanInterval)

	r = Estimate(zones.Zone3, []float64{900})
	assert.False(t, r.Defined())
	assert.False(t, r.LowSample)
	assert.Equal(t, 1, r.Intervals)
	assert.False(t, r.SDInterval.Defined())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zone":"zone3","rmssd_ms":null,"intervals":1,"low_sample":false,"mean_interval_ms":900,"sd_interval_ms":null}`, string(b))
}

func TestIntervals(t *testing.T) {
	var samples []cpet.Sample
	for i, v := range []struct{ ttot, rr float64 }{
		{2.5, 24}, {math.NaN(), 30}, {0, 0}, {3.0, math.NaN()},
	} {
		s := cpet.NewSample(i)
		s.Values[cpet.ChannelTtot] = v.ttot
		s.Values[cpet.ChannelRR] = v.rr
		samples = append(samples, s)
	}
	assert.Equal(t, []float64{2500, 3000}, Intervals(samples, SourceTtot))
	assert.Equal(t, []float64{2500, 2000}, Intervals(samples, SourceRR))
}

func TestByZone(t *testing.T) {
	tr := cpet.Trial{Subject: cpet.Subject{ID: "Z"}}
	ttot := []float64{3, 3, 3, 3, 2.5, 2.0, 2.5, 1.5}
	for i, v := range ttot {
		s := cpet.NewSample(i)
		s.Time = float64(i * 10)
		s.Values[cpet.ChannelTtot] = v
		tr.Samples = append(tr.Samples, s)
	}
	seg, err := zones.Partition(tr, cpet.AxisTime, 40, 70)
	require.NoError(t, err)

	res := ByZone(seg, SourceTtot)
	assert.Equal(t, zones.Zone1, res[0].Zone)
	assert.Equal(t, cpet.Metric(0), res[0].RMSSD)
	assert.Equal(t, 4, res[0].Intervals)

	assert.Equal(t, 3, res[1].Intervals)
	assert.InDelta(t, math.Sqrt((500*500+500*500)/2.0), res[1].RMSSD.Float(), 1e-9)

	assert.Equal(t, 1, res[2].Intervals)
	assert.False(t, res[2].Defined())
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceTtot, s)
	s, err = ParseSource("rr")
	require.NoError(t, err)
	assert.Equal(t, SourceRR, s)
	_, err = ParseSource("ecg")
	assert.Error(t, err)
}
