// Package filter holds the sensor and date-time range the user picks on the
// detail page and validates it before it is committed.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/luki/sensordash/internal/catalog"
)

// Query parameter names understood by the range endpoint.
const (
	ParamStart = "fecha_inicio"
	ParamEnd   = "fecha_fin"
)

// Default clock values of the range form.
const (
	DefaultStartClock = "00:00"
	DefaultEndClock   = "23:59"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var (
	ErrMissingSensor = errors.New("no sensor selected")
	ErrMissingRange  = errors.New("no date range selected")
	ErrInvertedRange = errors.New("range start is after range end")
)

var messages = map[error]string{
	ErrMissingSensor: "Please select a sensor.",
	ErrMissingRange:  "Please select a valid date range.",
	ErrInvertedRange: "The start date cannot be after the end date.",
}

// Filter is a committed selection. The zero Filter is the cleared,
// disabled filter.
type Filter struct {
	Sensor catalog.ID
	Start  time.Time
	End    time.Time
}

// Enabled reports whether every field is present, i.e. whether a range
// query may be issued for f.
func (f Filter) Enabled() bool {
	return f.Sensor != "" && !f.Start.IsZero() && !f.End.IsZero()
}

// Params encodes f as range query parameters. A disabled filter encodes
// to nothing.
func (f Filter) Params() url.Values {
	v := url.Values{}
	if !f.Enabled() {
		return v
	}
	v.Set(ParamStart, FormatInstant(f.Start))
	v.Set(ParamEnd, FormatInstant(f.End))
	return v
}

func (f Filter) String() string {
	if !f.Enabled() {
		return "none"
	}
	return fmt.Sprintf("%s %s .. %s", f.Sensor, FormatInstant(f.Start), FormatInstant(f.End))
}

// FormatInstant renders t the way the backend expects: local time,
// minute precision, seconds always ":00".
func FormatInstant(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04") + ":00"
}

// ParseInstant combines a YYYY-MM-DD date and an HH:MM clock into a local
// instant. An empty clock is an error; callers supply the form default.
func ParseInstant(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, errors.New("empty date")
	}
	t, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q %q: %w", date, clock, err)
	}
	return t, nil
}

// State holds the candidate selection and the last committed filter.
type State struct {
	sensor catalog.ID
	start  time.Time
	end    time.Time

	committed Filter
	err       error
}

// SetSensor sets the candidate sensor; "" clears it.
func (s *State) SetSensor(id catalog.ID) {
	s.sensor = id
}

// SetStart sets the candidate range start; the zero time clears it.
func (s *State) SetStart(t time.Time) {
	s.start = t
	s.err = nil
}

// SetEnd sets the candidate range end; the zero time clears it.
func (s *State) SetEnd(t time.Time) {
	s.end = t
	s.err = nil
}

func (s *State) Sensor() catalog.ID { return s.sensor }
func (s *State) Start() time.Time   { return s.start }
func (s *State) End() time.Time     { return s.end }

// Committed returns the active filter.
func (s *State) Committed() Filter { return s.committed }

// Err returns the last validation error, if any.
func (s *State) Err() error { return s.err }

// Message returns the user-facing validation message, or "".
func (s *State) Message() string {
	if s.err == nil {
		return ""
	}
	if m, ok := messages[s.err]; ok {
		return m
	}
	return s.err.Error()
}

// Commit validates the candidate selection. On success the new filter
// becomes active and is returned. On failure the validation error is kept
// for display and the previously committed filter stays active.
func (s *State) Commit() (Filter, error) {
	switch {
	case s.sensor == "":
		s.err = ErrMissingSensor
	case s.start.IsZero() || s.end.IsZero():
		s.err = ErrMissingRange
	case s.start.After(s.end):
		s.err = ErrInvertedRange
	default:
		s.err = nil
	}
	if s.err != nil {
		return s.committed, s.err
	}

	s.committed = Filter{Sensor: s.sensor, Start: s.start, End: s.end}
	return s.committed, nil
}

// Clear resets the candidate selection and the committed filter and
// returns the disabled filter.
func (s *State) Clear() Filter {
	*s = State{}
	return s.committed
}
