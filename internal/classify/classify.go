// Package classify derives trend and severity for a sensor from its
// normalized latest/previous readings.
package classify

import (
	"fmt"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/sensor"
)

// Trend is the direction of change between the previous and latest value.
type Trend int

const (
	Stable Trend = iota
	Up
	Down
	// NotApplicable marks state sensors, for which direction means nothing.
	NotApplicable
)

func (t Trend) String() string {
	switch t {
	case Up:
		return "up"
	case Down:
		return "down"
	case NotApplicable:
		return "n/a"
	default:
		return "stable"
	}
}

// Severity grades the latest value against the sensor's limits.
type Severity int

const (
	Normal Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// State is the classified view of one sensor for one poll.
type State struct {
	ID          catalog.ID
	Latest      float64
	Previous    float64
	HasPrevious bool
	Timestamp   string // latest reading's timestamp
	Trend       Trend
	Severity    Severity
}

// InvalidReadingError reports a latest value that cannot be classified.
type InvalidReadingError struct {
	Sensor catalog.ID
	Err    error
}

func (e *InvalidReadingError) Error() string {
	return fmt.Sprintf("invalid reading for %s: %v", e.Sensor, e.Err)
}

func (e *InvalidReadingError) Unwrap() error { return e.Err }

// Classify computes trend and severity for one normalized entry. State
// sensors always get NotApplicable and Normal. A previous value that does
// not parse leaves the trend Stable.
func Classify(desc catalog.Descriptor, e sensor.Entry) (State, error) {
	latest, err := e.Latest.Number()
	if err != nil {
		return State{}, &InvalidReadingError{Sensor: desc.ID, Err: err}
	}

	st := State{
		ID:        desc.ID,
		Latest:    latest,
		Timestamp: e.Latest.Timestamp,
	}
	if e.HasPrevious {
		if prev, err := e.Previous.Number(); err == nil {
			st.Previous = prev
			st.HasPrevious = true
		}
	}

	if desc.IsBinary() {
		st.Trend = NotApplicable
		st.Severity = Normal
		return st, nil
	}

	st.Trend = trendOf(st)
	st.Severity = SeverityOf(desc, latest)
	return st, nil
}

func trendOf(st State) Trend {
	switch {
	case !st.HasPrevious:
		return Stable
	case st.Latest > st.Previous:
		return Up
	case st.Latest < st.Previous:
		return Down
	default:
		return Stable
	}
}

// SeverityOf grades v against the descriptor's limits, critical first.
// State sensors are always Normal.
func SeverityOf(desc catalog.Descriptor, v float64) Severity {
	if desc.IsBinary() {
		return Normal
	}
	switch {
	case desc.HasCritical && v >= desc.Critical:
		return Critical
	case desc.HasWarning && v >= desc.Warning:
		return Warning
	default:
		return Normal
	}
}

// Label renders a value for display: on/off labels for state sensors,
// the number with its unit otherwise.
func Label(desc catalog.Descriptor, v float64) string {
	if desc.IsBinary() {
		if v != 0 {
			return desc.OnLabel
		}
		return desc.OffLabel
	}
	s := fmt.Sprintf("%.1f", v)
	if desc.Unit != "" {
		s += " " + desc.Unit
	}
	return s
}
