package cpet

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, report-facing name of a failure.
type ErrorKind string

const (
	KindInsufficientData   ErrorKind = "insufficient_data"
	KindBreakpointNotFound ErrorKind = "breakpoint_not_found"
	KindThresholdOrdering  ErrorKind = "threshold_ordering"
	KindInsufficientSample ErrorKind = "insufficient_sample"
	KindInternal           ErrorKind = "internal"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrBreakpointNotFound = errors.New("breakpoint not found")
	ErrThresholdOrdering  = errors.New("threshold ordering violated")
	ErrInsufficientSample = errors.New("insufficient sample")
)

// InsufficientDataError reports too few valid samples for a subject channel.
type InsufficientDataError struct {
	SubjectID string
	Channel   Channel
	Valid     int
	Required  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("subject %s channel %s: %d valid samples, need at least %d",
		e.SubjectID, e.Channel, e.Valid, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// BreakpointNotFoundError reports fewer than two curvature candidates.
type BreakpointNotFoundError struct {
	SubjectID string
	Channel   string
	Found     int
}

func (e *BreakpointNotFoundError) Error() string {
	return fmt.Sprintf("subject %s channel %s: found %d curvature candidates, need 2",
		e.SubjectID, e.Channel, e.Found)
}

func (e *BreakpointNotFoundError) Is(target error) bool { return target == ErrBreakpointNotFound }

// ThresholdOrderingError reports a selected pair with VT1 >= VT2.
type ThresholdOrderingError struct {
	SubjectID string
	VT1       float64
	VT2       float64
}

func (e *ThresholdOrderingError) Error() string {
	return fmt.Sprintf("subject %s: selected VT1 %.3f is not below VT2 %.3f", e.SubjectID, e.VT1, e.VT2)
}

func (e *ThresholdOrderingError) Is(target error) bool { return target == ErrThresholdOrdering }

// InsufficientSampleError reports a cohort too small for a statistic.
type InsufficientSampleError struct {
	Comparison string
	N          int
	Required   int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("comparison %s: n=%d, need at least %d", e.Comparison, e.N, e.Required)
}

func (e *InsufficientSampleError) Is(target error) bool { return target == ErrInsufficientSample }

// KindOf classifies a (possibly wrapped) error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrBreakpointNotFound):
		return KindBreakpointNotFound
	case errors.Is(err, ErrThresholdOrdering):
		return KindThresholdOrdering
	case errors.Is(err, ErrInsufficientSample):
		return KindInsufficientSample
	}
	return KindInternal
}
