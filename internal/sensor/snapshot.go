package sensor

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/luki/sensordash/internal/catalog"
)

// Snapshot maps each sensor to its recent readings, newest first as the
// backend delivers them. A snapshot is replaced wholesale on every poll.
type Snapshot map[catalog.ID][]Reading

// Entry is the normalized view of one sensor: the latest reading and, when
// the sequence holds two or more, the one before it.
type Entry struct {
	Latest      Reading
	Previous    Reading
	HasPrevious bool
}

// MalformedSnapshotError reports a payload that is not a mapping of sensor
// ids to reading sequences.
type MalformedSnapshotError struct {
	Sensor catalog.ID // empty when the top-level shape is wrong
	Err    error
}

func (e *MalformedSnapshotError) Error() string {
	if e.Sensor == "" {
		return fmt.Sprintf("malformed snapshot: %v", e.Err)
	}
	return fmt.Sprintf("malformed snapshot for %s: %v", e.Sensor, e.Err)
}

func (e *MalformedSnapshotError) Unwrap() error { return e.Err }

// ParseSnapshot decodes a live snapshot payload.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &MalformedSnapshotError{Err: err}
	}
	if top == nil {
		return nil, &MalformedSnapshotError{Err: fmt.Errorf("payload is null")}
	}

	snap := make(Snapshot, len(top))
	for key, body := range top {
		id := catalog.ID(key)
		readings, err := parseSequence(key, body)
		if err != nil {
			return nil, &MalformedSnapshotError{Sensor: id, Err: err}
		}
		snap[id] = readings
	}
	return snap, nil
}

// ParseReadings decodes a reading array for one sensor, as returned by the
// range endpoint.
func ParseReadings(id catalog.ID, raw []byte) ([]Reading, error) {
	readings, err := parseSequence(string(id), raw)
	if err != nil {
		return nil, &MalformedSnapshotError{Sensor: id, Err: err}
	}
	return readings, nil
}

// ParseReading decodes a single reading object for one sensor.
func ParseReading(id catalog.ID, raw []byte) (Reading, error) {
	r, err := decodeReading(string(id), raw)
	if err != nil {
		return Reading{}, &MalformedSnapshotError{Sensor: id, Err: err}
	}
	return r, nil
}

func parseSequence(id string, raw json.RawMessage) ([]Reading, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected an array of readings: %w", err)
	}
	readings := make([]Reading, 0, len(items))
	for i, item := range items {
		r, err := decodeReading(id, item)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Normalize extracts the latest and previous reading of every sensor in the
// snapshot. Sensors with no readings are left out. Element 0 is taken as the
// latest reading; newest-first ordering is a backend guarantee.
func Normalize(s Snapshot) map[catalog.ID]Entry {
	out := make(map[catalog.ID]Entry, len(s))
	for id, readings := range s {
		if len(readings) == 0 {
			continue
		}
		e := Entry{Latest: readings[0]}
		if len(readings) > 1 {
			e.Previous = readings[1]
			e.HasPrevious = true
		}
		out[id] = e
	}
	return out
}

// IDs returns the snapshot's sensor ids in display order: catalogued
// sensors first, unknown ids after them alphabetically.
func (s Snapshot) IDs() []catalog.ID {
	ids := make([]catalog.ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// SortIDs sorts ids in display order.
func SortIDs(ids []catalog.ID) {
	sort.Slice(ids, func(i, j int) bool {
		ri, _ := catalog.Rank(ids[i])
		rj, _ := catalog.Rank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
}

// NewestFirst reports whether readings are ordered newest first. Pairs
// whose timestamps do not parse are not judged.
func NewestFirst(readings []Reading) bool {
	var prev time.Time
	for i, r := range readings {
		t, err := r.Time()
		if err != nil {
			prev = time.Time{}
			continue
		}
		if i > 0 && !prev.IsZero() && t.After(prev) {
			return false
		}
		prev = t
	}
	return true
}

// Chronological returns a copy of readings sorted oldest first. Readings
// whose timestamps do not parse sort before all others, keeping their order.
func Chronological(readings []Reading) []Reading {
	type keyed struct {
		r Reading
		t time.Time
	}
	ks := make([]keyed, len(readings))
	for i, r := range readings {
		t, _ := r.Time()
		ks[i] = keyed{r: r, t: t}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		return ks[i].t.Before(ks[j].t)
	})
	out := make([]Reading, len(ks))
	for i, k := range ks {
		out[i] = k.r
	}
	return out
}
