package cpet

import (
	"encoding/json"
	"math"
	"strconv"
)

// Metric is a computed value that may be undefined. Undefined is NaN in
// memory and null on the wire; it is never folded into zero.
type Metric float64

// Undefined returns the undefined Metric.
func Undefined() Metric { return Metric(math.NaN()) }

// Defined reports whether m holds a finite value.
func (m Metric) Defined() bool { return isFinite(float64(m)) }

// Float returns m as a float64 (NaN when undefined).
func (m Metric) Float() float64 { return float64(m) }

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(m), 'g', -1, 64), nil
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Undefined()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

// NullFloat returns nil for an undefined value, for nullable SQL columns.
func (m Metric) NullFloat() interface{} {
	if !m.Defined() {
		return nil
	}
	return float64(m)
}
