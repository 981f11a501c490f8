package pipeline

import (
	"time"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/breakpoint"
	"github.com/banshee-data/brv.report/internal/brv"
	"github.com/banshee-data/brv.report/internal/config"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/threshold"
)

// Stage names the per-subject step an exclusion happened in.
type Stage string

const (
	StageCondition Stage = "condition"
	StageDetect    Stage = "detect"
	StageSelect    Stage = "select"
	StageSegment   Stage = "segment"
	// StageAugment failures only remove the subject from the augmented
	// comparisons.
	StageAugment Stage = "augment"
)

// Exclusion records why a subject is missing from cohort statistics.
type Exclusion struct {
	SubjectID string         `json:"subject_id"`
	Stage     Stage          `json:"stage"`
	Kind      cpet.ErrorKind `json:"kind"`
	Message   string         `json:"message"`
}

// Pass holds one threshold detection and what was derived from it.
type Pass struct {
	Detection *breakpoint.Result  `json:"detection,omitempty"`
	Estimate  *threshold.Estimate `json:"estimate,omitempty"`
	// BRV has one entry per zone once the trial is segmented.
	BRV []brv.Result `json:"brv,omitempty"`
	// ZoneSamples counts the samples placed in each zone.
	ZoneSamples []int `json:"zone_samples,omitempty"`
}

// SubjectResult is the per-subject output of a run.
type SubjectResult struct {
	Subject cpet.Subject `json:"subject"`
	// PredictedMaxHR is 220 - age, undefined when the age is unknown.
	PredictedMaxHR cpet.Metric        `json:"predicted_max_hr"`
	Samples        int                `json:"samples"`
	Valid          int                `json:"valid"`
	Gold           *cpet.GoldStandard `json:"gold,omitempty"`
	Primary        Pass               `json:"primary"`
	Augmented      *Pass              `json:"augmented,omitempty"`
	Excluded       bool               `json:"excluded"`
}

// Skipped is a comparison that could not be computed.
type Skipped struct {
	Comparison string         `json:"comparison"`
	N          int            `json:"n"`
	Kind       cpet.ErrorKind `json:"kind"`
	Message    string         `json:"message"`
}

// Report is the complete, auditable outcome of one run.
type Report struct {
	RunID       string                       `json:"run_id"`
	Version     string                       `json:"version"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`
	Config      *config.AnalysisConfig       `json:"config"`
	Calibration *threshold.Calibration       `json:"calibration,omitempty"`
	Subjects    []SubjectResult              `json:"subjects"`
	Exclusions  []Exclusion                  `json:"exclusions"`
	Comparisons []*agreement.Result          `json:"comparisons"`
	References  []*agreement.OneSampleResult `json:"reference_comparisons,omitempty"`
	Skipped     []Skipped                    `json:"skipped,omitempty"`
}

// Comparison returns the named comparison, or nil.
func (r *Report) Comparison(name string) *agreement.Result {
	for _, c := range r.Comparisons {
		if c.Comparison == name {
			return c
		}
	}
	return nil
}

// ExclusionsFor returns the exclusions recorded for a subject.
func (r *Report) ExclusionsFor(subjectID string) []Exclusion {
	var out []Exclusion
	for _, e := range r.Exclusions {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out
}
