package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/config"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/timeutil"
	"github.com/banshee-data/brv.report/internal/zones"
)

func init() {
	monitoring.SetLogger(nil)
}

// scenarioRR is linear below 10, quadratic between 10 and 20 and linear
// above 20 on a unit effort scale.
func scenarioRR(x float64) float64 {
	switch {
	case x < 10:
		return 12 + 0.2*x
	case x < 20:
		return 14 + 0.2*(x-10) + 0.05*(x-10)*(x-10)
	default:
		return 21 + 1.2*(x-20)
	}
}

// syntheticTrial stretches the scenario by scale along the time axis so
// the thresholds sit near 10*scale and 20*scale. Breath durations follow
// the rate with an alternating jitter of the given size.
func syntheticTrial(id string, scale, jitter float64, rate func(float64) float64) cpet.Trial {
	t := cpet.Trial{Subject: cpet.Subject{ID: id, Sex: "F", Age: 30}}
	for i := 0; i <= 60; i++ {
		x := float64(i) * 0.5
		s := cpet.NewSample(i)
		s.Time = x * scale
		s.Work = 25 * math.Floor(x/2)
		rr := rate(x)
		s.Values[cpet.ChannelRR] = rr
		s.Values[cpet.ChannelVt] = 0.5 + 0.1*rr
		s.Values[cpet.ChannelVe] = 5 + 0.3*rr
		sign := 1.0
		if i%2 == 1 {
			sign = -1
		}
		s.Values[cpet.ChannelTtot] = 60/rr + sign*jitter
		t.Samples = append(t.Samples, s)
	}
	return t
}

func cohortInput(n int) Input {
	var in Input
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("S%02d", i+1)
		scale := 10 + float64(i)
		in.Trials = append(in.Trials, syntheticTrial(id, scale, 0.02*(1+0.1*float64(i)), scenarioRR))
		in.Gold = append(in.Gold, cpet.GoldStandard{
			SubjectID: id,
			VT1:       10*scale + float64(i%3) - 1,
			VT2:       20*scale + float64(i%2)*2,
		})
	}
	return in
}

func shortTrial(id string) cpet.Trial {
	t := syntheticTrial(id, 10, 0.02, scenarioRR)
	t.Samples = t.Samples[:5]
	return t
}

func fixedRunner(t *testing.T, cfg *config.AnalysisConfig, opts ...Option) *Runner {
	t.Helper()
	clock := timeutil.NewSteppingClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Second)
	opts = append([]Option{WithClock(clock), WithIDGenerator(func() string { return "run-1" })}, opts...)
	r, err := NewRunner(cfg, opts...)
	require.NoError(t, err)
	return r
}

func intPtr(v int) *int { return &v }

func TestRunCohort(t *testing.T) {
	in := cohortInput(6)
	rep, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, time.Second, rep.FinishedAt.Sub(rep.StartedAt))
	assert.Empty(t, rep.Exclusions)
	require.Len(t, rep.Subjects, 6)

	for i, s := range rep.Subjects {
		scale := 10 + float64(i)
		assert.Equal(t, in.Trials[i].Subject.ID, s.Subject.ID, "input order kept")
		require.NotNil(t, s.Primary.Estimate, s.Subject.ID)
		assert.InDelta(t, 10*scale, s.Primary.Estimate.VT1, scale)
		assert.InDelta(t, 20*scale, s.Primary.Estimate.VT2, scale)
		assert.Less(t, s.Primary.Estimate.VT1, s.Primary.Estimate.VT2)

		require.Len(t, s.Primary.BRV, 3)
		total := 0
		for _, n := range s.Primary.ZoneSamples {
			total += n
		}
		assert.Equal(t, s.Samples, total, "every sample lands in one zone")
		for _, b := range s.Primary.BRV {
			assert.True(t, b.Defined())
			assert.GreaterOrEqual(t, b.RMSSD.Float(), 0.0)
		}

		require.NotNil(t, s.Augmented)
		require.NotNil(t, s.Augmented.Estimate)
		assert.Equal(t, "rr_br_per_min+vt_btps_l+ve_btps_l_per_min", s.Augmented.Detection.Channel)
		assert.InDelta(t, s.Primary.Estimate.VT1, s.Augmented.Estimate.VT1, 0.1*scale)
	}

	for _, name := range []string{CompareVT1, CompareVT2, CompareZone1Zone2, CompareZone2Zone3, CompareVT1Augmented, CompareVT2Augmented} {
		c := rep.Comparison(name)
		require.NotNil(t, c, name)
		assert.Equal(t, 6, c.N, name)
		assert.Equal(t, 6, c.BlandAltman.N, name)
	}
	assert.NotEqual(t, agreement.MethodNone, rep.Comparison(CompareVT1).Method)
	assert.Empty(t, rep.References, "no literature values configured")
	assert.Empty(t, rep.Skipped)
}

func TestRunExcludesShortTrial(t *testing.T) {
	in := cohortInput(6)
	full, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), in)
	require.NoError(t, err)

	in.Trials = append(in.Trials, shortTrial("SHORT"))
	in.Gold = append(in.Gold, cpet.GoldStandard{SubjectID: "SHORT", VT1: 100, VT2: 200})
	rep, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, rep.Subjects, 7)
	short := rep.Subjects[6]
	assert.True(t, short.Excluded)
	assert.Nil(t, short.Primary.Estimate)

	ex := rep.ExclusionsFor("SHORT")
	require.Len(t, ex, 1)
	assert.Equal(t, StageCondition, ex[0].Stage)
	assert.Equal(t, cpet.KindInsufficientData, ex[0].Kind)
	assert.Contains(t, ex[0].Message, "5 valid samples")

	// Seven trials with gold standards, but one fewer pair than subjects.
	for _, name := range []string{CompareVT1, CompareVT2} {
		assert.Equal(t, 6, rep.Comparison(name).N, name)
		assert.Equal(t, full.Comparison(name).R, rep.Comparison(name).R, "the short trial must not leak into %s", name)
	}
}

func TestRunKeepsDetectionOfFailedSubject(t *testing.T) {
	in := cohortInput(4)
	in.Trials = append(in.Trials, syntheticTrial("FLAT", 10, 0.02, func(x float64) float64 { return 14 + 0.3*x }))

	rep, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), in)
	require.NoError(t, err)

	flat := rep.Subjects[4]
	assert.True(t, flat.Excluded)
	require.NotNil(t, flat.Primary.Detection, "the fitted trend is still reported")
	assert.Equal(t, 61, flat.Valid)

	ex := rep.ExclusionsFor("FLAT")
	require.Len(t, ex, 1)
	assert.Equal(t, StageDetect, ex[0].Stage)
	assert.Equal(t, cpet.KindBreakpointNotFound, ex[0].Kind)

	// FLAT has no gold standard either way, and the zone contrasts drop it.
	assert.Equal(t, 4, rep.Comparison(CompareZone1Zone2).N)
}

func TestRunAugmentFailureOnlyAffectsAugmentedComparisons(t *testing.T) {
	in := cohortInput(5)
	for i := range in.Trials[0].Samples {
		in.Trials[0].Samples[i].Values[cpet.ChannelVe] = math.NaN()
	}
	rep, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), in)
	require.NoError(t, err)

	ex := rep.ExclusionsFor("S01")
	require.Len(t, ex, 1)
	assert.Equal(t, StageAugment, ex[0].Stage)
	assert.False(t, rep.Subjects[0].Excluded)

	assert.Equal(t, 5, rep.Comparison(CompareVT1).N)
	assert.Equal(t, 4, rep.Comparison(CompareVT1Augmented).N)
}

func TestRunWithoutAugmentation(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	cfg.AugmentChannels = []string{}
	rep, err := fixedRunner(t, cfg).Run(context.Background(), cohortInput(3))
	require.NoError(t, err)

	assert.Nil(t, rep.Comparison(CompareVT1Augmented))
	for _, s := range rep.Subjects {
		assert.Nil(t, s.Augmented)
	}
}

func TestRunSmallCohortSkipsComparisons(t *testing.T) {
	rep, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(context.Background(), cohortInput(2))
	require.NoError(t, err)

	assert.Empty(t, rep.Comparisons)
	require.NotEmpty(t, rep.Skipped)
	for _, s := range rep.Skipped {
		assert.Equal(t, cpet.KindInsufficientSample, s.Kind)
		assert.Equal(t, 2, s.N)
	}
}

func TestRunLiteratureComparison(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	ref := 30.0
	cfg.LiteratureRMSSD = &config.ZoneValues{Zone2: &ref}
	rep, err := fixedRunner(t, cfg).Run(context.Background(), cohortInput(5))
	require.NoError(t, err)

	require.Len(t, rep.References, 1)
	lit := rep.References[0]
	assert.Equal(t, LiteratureComparison(zones.Zone2), lit.Comparison)
	assert.Equal(t, "rmssd_zone2_vs_literature", lit.Comparison)
	assert.Equal(t, 5, lit.N)
	assert.Equal(t, ref, lit.Reference)
}

func TestRunCalibratedTies(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	on := true
	cfg.CalibrateTies = &on
	rep, err := fixedRunner(t, cfg).Run(context.Background(), cohortInput(3))
	require.NoError(t, err)
	require.NotNil(t, rep.Calibration)
	assert.Equal(t, 110.0, rep.Calibration.VT1Median)
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	in := cohortInput(6)
	in.Trials = append(in.Trials, shortTrial("SHORT"))

	encode := func(workers int) string {
		rep, err := fixedRunner(t, config.DefaultAnalysisConfig(), WithWorkers(workers)).Run(context.Background(), in)
		require.NoError(t, err)
		b, err := json.Marshal(rep)
		require.NoError(t, err, "the report must always be JSON-encodable")
		return string(b)
	}
	assert.Equal(t, encode(1), encode(4))
}

func TestRunRejectsBadInput(t *testing.T) {
	r := fixedRunner(t, config.DefaultAnalysisConfig())

	dup := cohortInput(2)
	dup.Trials = append(dup.Trials, dup.Trials[0])
	_, err := r.Run(context.Background(), dup)
	assert.Error(t, err)

	bad := cohortInput(2)
	bad.Gold[0].VT1, bad.Gold[0].VT2 = 300, 200
	_, err = r.Run(context.Background(), bad)
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fixedRunner(t, config.DefaultAnalysisConfig()).Run(ctx, cohortInput(3))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestNewRunnerValidates(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	cfg.Workers = intPtr(0)
	_, err := NewRunner(cfg)
	assert.Error(t, err)

	r, err := NewRunner(nil)
	require.NoError(t, err, "nil config falls back to defaults")
	assert.Equal(t, 4, r.workers)
}
