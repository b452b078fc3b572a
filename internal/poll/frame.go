package poll

import (
	"time"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/sensor"
)

// Frame is one fully derived poll result. Frames are never modified once
// published; every successful poll publishes a new one.
type Frame struct {
	Version   uint64
	FetchedAt time.Time

	Snapshot sensor.Snapshot
	Entries  map[catalog.ID]sensor.Entry
	States   map[catalog.ID]classify.State
	Invalid  map[catalog.ID]error // sensors whose latest value could not be classified

	// Order lists every sensor with at least one reading, valid or not,
	// in display order.
	Order []catalog.ID
	// OutOfOrder lists sensors whose readings were not newest first.
	OutOfOrder []catalog.ID
}

// BuildFrame normalizes and classifies a snapshot.
func BuildFrame(snap sensor.Snapshot, at time.Time) *Frame {
	entries := sensor.Normalize(snap)
	f := &Frame{
		FetchedAt: at,
		Snapshot:  snap,
		Entries:   entries,
		States:    make(map[catalog.ID]classify.State, len(entries)),
		Invalid:   make(map[catalog.ID]error),
	}

	for _, id := range snap.IDs() {
		e, ok := entries[id]
		if !ok {
			continue
		}
		f.Order = append(f.Order, id)

		st, err := classify.Classify(catalog.Describe(id), e)
		if err != nil {
			f.Invalid[id] = err
		} else {
			f.States[id] = st
		}

		if !sensor.NewestFirst(snap[id]) {
			f.OutOfOrder = append(f.OutOfOrder, id)
		}
	}
	return f
}

// State returns the classified state for id.
func (f *Frame) State(id catalog.ID) (classify.State, bool) {
	if f == nil {
		return classify.State{}, false
	}
	st, ok := f.States[id]
	return st, ok
}

// Series returns id's readings oldest first, for charting.
func (f *Frame) Series(id catalog.ID) []sensor.Reading {
	if f == nil {
		return nil
	}
	return sensor.Chronological(f.Snapshot[id])
}

// Has reports whether id had any reading in this frame.
func (f *Frame) Has(id catalog.ID) bool {
	if f == nil {
		return false
	}
	_, ok := f.Entries[id]
	return ok
}
