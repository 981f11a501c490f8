// Package pipeline runs the per-subject threshold and BRV analysis on a
// bounded worker pool and then the cohort agreement statistics, producing
// a single run report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/breakpoint"
	"github.com/banshee-data/brv.report/internal/brv"
	"github.com/banshee-data/brv.report/internal/config"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/threshold"
	"github.com/banshee-data/brv.report/internal/timeutil"
	"github.com/banshee-data/brv.report/internal/version"
)

// Input is the loaded dataset of a run.
type Input struct {
	Trials []cpet.Trial
	Gold   []cpet.GoldStandard
}

// Runner executes analysis runs with a fixed configuration.
type Runner struct {
	cfg     *config.AnalysisConfig
	detect  breakpoint.Config
	stats   agreement.Config
	source  brv.Source
	axis    cpet.Axis
	channel cpet.Channel
	augment []cpet.Channel
	workers int

	clock timeutil.Clock
	newID func() string
}

// Option customises a Runner.
type Option func(*Runner)

// WithClock sets the clock used for run timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(f func() string) Option {
	return func(r *Runner) { r.newID = f }
}

// WithWorkers overrides the configured worker count.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRunner validates cfg and resolves it into the settings of each stage.
func NewRunner(cfg *config.AnalysisConfig, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}
	criterion, err := breakpoint.ParseCriterion(cfg.GetDegreeCriterion())
	if err != nil {
		return nil, err
	}
	ciMethod, err := agreement.ParseCIMethod(cfg.GetCIMethod())
	if err != nil {
		return nil, err
	}
	source, err := brv.ParseSource(cfg.GetIntervalSource())
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg: cfg,
		detect: breakpoint.Config{
			MinDegree:        cfg.GetMinDegree(),
			MaxDegree:        cfg.GetMaxDegree(),
			Criterion:        criterion,
			GridPoints:       cfg.GetGridPoints(),
			WindowFraction:   cfg.GetWindowFraction(),
			LocalDegree:      cfg.GetLocalDegree(),
			EdgeFraction:     cfg.GetEdgeFraction(),
			MinRelativeScore: cfg.GetMinRelativeScore(),
			MinScore:         cfg.GetMinScore(),
		},
		stats: agreement.Config{
			NormalityAlpha: cfg.GetNormalityAlpha(),
			CILevel:        cfg.GetCILevel(),
			CIMethod:       ciMethod,
			Resamples:      cfg.GetBootstrapResamples(),
			Seed:           cfg.GetBootstrapSeed(),
			MinN:           cfg.GetMinCohort(),
		},
		source:  source,
		axis:    cfg.GetEffortAxis(),
		channel: cfg.GetChannel(),
		augment: cfg.GetAugmentChannels(),
		workers: cfg.GetWorkers(),
		clock:   timeutil.RealClock{},
		newID:   uuid.NewString,
	}
	if err := r.detect.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector settings: %w", err)
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Run analyses every trial and then the cohort. Per-subject failures are
// recorded as exclusions and never abort the run; an error is returned
// only for malformed input or a cancelled context.
func (r *Runner) Run(ctx context.Context, in Input) (*Report, error) {
	seen := make(map[string]bool, len(in.Trials))
	for _, t := range in.Trials {
		if t.Subject.ID == "" {
			return nil, fmt.Errorf("trial without subject ID")
		}
		if seen[t.Subject.ID] {
			return nil, fmt.Errorf("duplicate trial for subject %s", t.Subject.ID)
		}
		seen[t.Subject.ID] = true
	}
	gold := make(map[string]cpet.GoldStandard, len(in.Gold))
	for _, g := range in.Gold {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if _, dup := gold[g.SubjectID]; dup {
			return nil, fmt.Errorf("duplicate gold standard for subject %s", g.SubjectID)
		}
		gold[g.SubjectID] = g
		if !seen[g.SubjectID] {
			monitoring.Logf("gold standard for %s has no trial", g.SubjectID)
		}
	}

	rep := &Report{
		RunID:     r.newID(),
		Version:   version.Version,
		StartedAt: r.clock.Now(),
		Config:    r.cfg,
	}
	var sel threshold.Selector
	if r.cfg.GetCalibrateTies() {
		sel.Calibration = threshold.CalibrationFromGold(in.Gold)
		rep.Calibration = sel.Calibration
	}

	// The fit cache belongs to this run and is dropped with it.
	det := breakpoint.NewDetector(r.detect, breakpoint.NewFitCache())
	outcomes := make([]subjectOutcome, len(in.Trials))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range in.Trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var gs *cpet.GoldStandard
			if v, ok := gold[in.Trials[i].Subject.ID]; ok {
				gs = &v
			}
			outcomes[i] = r.analyseSubject(det, sel, in.Trials[i], gs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep.Subjects = make([]SubjectResult, len(outcomes))
	rep.Exclusions = []Exclusion{}
	for i, o := range outcomes {
		rep.Subjects[i] = o.result
		rep.Exclusions = append(rep.Exclusions, o.exclusions...)
	}
	if err := r.cohort(rep); err != nil {
		return nil, err
	}

	elapsed := r.clock.Since(rep.StartedAt)
	rep.FinishedAt = rep.StartedAt.Add(elapsed)
	hits, misses := det.Cache().Stats()
	monitoring.Logf("run %s: %d subjects, %d exclusions, %d comparisons in %s (fit cache %d hits, %d misses)",
		rep.RunID, len(rep.Subjects), len(rep.Exclusions), len(rep.Comparisons), elapsed.Round(time.Millisecond), hits, misses)
	return rep, nil
}
