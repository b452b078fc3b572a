// Package sensor decodes backend telemetry payloads into readings and
// normalizes live snapshots into latest/previous pairs per sensor.
package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// TimestampField is the reading field holding the sample time.
const TimestampField = "fecha_hora"

// localLayouts are the zone-less layouts the backend writes. They are read
// as local wall-clock time.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

var (
	// ErrNoValue is returned by Number when the reading has no value field.
	ErrNoValue = errors.New("reading has no value")
	// ErrNotNumeric is returned by Number for values that are not numbers.
	ErrNotNumeric = errors.New("reading value is not numeric")
)

// Reading is a single sample as delivered by the backend. The value is kept
// raw: numeric sensors send JSON numbers, state sensors may send 0/1,
// booleans or numeric strings.
type Reading struct {
	Timestamp string
	Value     json.RawMessage
}

// Number returns the reading value as a float. Booleans map to 1/0 and
// numeric strings are parsed. NaN and infinities are rejected.
func (r Reading) Number() (float64, error) {
	raw := strings.TrimSpace(string(r.Value))
	if raw == "" || raw == "null" {
		return 0, ErrNoValue
	}

	var v float64
	switch {
	case raw == "true":
		return 1, nil
	case raw == "false":
		return 0, nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNotNumeric, raw)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, s)
		}
		v = f
	default:
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNotNumeric, raw)
		}
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, v)
	}
	return v, nil
}

// Time parses the reading timestamp. Zone-less timestamps are local time;
// anything else is parsed as ISO-8601.
func (r Reading) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

// ParseTimestamp parses a backend timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}

// decodeReading picks the timestamp and the value field named after the
// sensor out of one reading object.
func decodeReading(id string, raw json.RawMessage) (Reading, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Reading{}, fmt.Errorf("reading is not an object: %w", err)
	}
	if obj == nil {
		return Reading{}, errors.New("reading is null")
	}

	var r Reading
	if ts, ok := obj[TimestampField]; ok {
		if err := json.Unmarshal(ts, &r.Timestamp); err != nil {
			return Reading{}, fmt.Errorf("%s is not a string: %w", TimestampField, err)
		}
	}
	r.Value = obj[id]
	return r, nil
}
