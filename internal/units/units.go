// Package units provides shared constants and conversions for breath timing
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Conversion constants
const (
	MsPerSecond      = 1000.0
	SecondsPerMinute = 60.0
	MsPerMinute      = MsPerSecond * SecondsPerMinute
)

// Breath interval sources
const (
	IntervalTtot = "ttot" // total breath duration column, seconds
	IntervalRR   = "rr"   // derived from respiratory rate, breaths/min
)

// ValidIntervalSources contains all valid interval source values
var ValidIntervalSources = []string{IntervalTtot, IntervalRR}

// IsValidIntervalSource checks if the given source is in the list of valid sources
func IsValidIntervalSource(source string) bool {
	for _, s := range ValidIntervalSources {
		if source == s {
			return true
		}
	}
	return false
}

// GetValidIntervalSourcesString returns a comma-separated string for error messages
func GetValidIntervalSourcesString() string {
	return strings.Join(ValidIntervalSources, ", ")
}

// SecondsToMs converts seconds to milliseconds.
func SecondsToMs(s float64) float64 {
	return s * MsPerSecond
}

// BreathIntervalMs converts a respiratory rate in breaths/min into the
// mean inter-breath interval in milliseconds. Non-positive or non-finite
// rates give NaN.
func BreathIntervalMs(rate float64) float64 {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return math.NaN()
	}
	return MsPerMinute / rate
}

// ParseClock converts an elapsed-time stamp "HH:MM:SS" or "MM:SS" into
// seconds. The seconds field may carry a fractional part.
func ParseClock(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock value %q: want HH:MM:SS or MM:SS", s)
	}
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		if last {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil || f < 0 || f >= 60 {
				return 0, fmt.Errorf("invalid clock value %q: bad seconds %q", s, p)
			}
			v = f
		} else {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 || (i > 0 && n >= 60) {
				return 0, fmt.Errorf("invalid clock value %q: bad field %q", s, p)
			}
			v = float64(n)
		}
		total = total*SecondsPerMinute + v
	}
	return total, nil
}
