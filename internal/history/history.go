// Package history keeps a bounded per-sensor series of values seen across
// polls, with running low/peak/average statistics.
package history

import (
	"math"
	"time"

	"github.com/luki/sensordash/internal/catalog"
)

// Point is one recorded value at its reading time.
type Point struct {
	Value float64
	Time  time.Time
}

// Buffer is a ring buffer of points for one sensor.
type Buffer struct {
	Points []Point
	Max    int // capacity
	Low    float64
	Peak   float64
}

// NewBuffer creates an empty buffer holding at most capacity points.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		Points: make([]Point, 0, capacity),
		Max:    capacity,
		Low:    math.MaxFloat64,
		Peak:   -math.MaxFloat64,
	}
}

// Push appends v, evicting the oldest point when full. A point whose time
// equals the newest point's time is the same reading polled twice and is
// ignored; Push reports whether v was stored.
func (b *Buffer) Push(v float64, t time.Time) bool {
	if n := len(b.Points); n > 0 && !t.IsZero() && b.Points[n-1].Time.Equal(t) {
		return false
	}

	p := Point{Value: v, Time: t}
	if len(b.Points) >= b.Max {
		copy(b.Points, b.Points[1:])
		b.Points[len(b.Points)-1] = p
	} else {
		b.Points = append(b.Points, p)
	}

	if v < b.Low {
		b.Low = v
	}
	if v > b.Peak {
		b.Peak = v
	}
	return true
}

// Len returns the number of stored points.
func (b *Buffer) Len() int { return len(b.Points) }

// Last returns the most recent value, or 0 if empty.
func (b *Buffer) Last() float64 {
	if len(b.Points) == 0 {
		return 0
	}
	return b.Points[len(b.Points)-1].Value
}

// Avg returns the mean of the stored points.
func (b *Buffer) Avg() float64 {
	if len(b.Points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range b.Points {
		sum += p.Value
	}
	return sum / float64(len(b.Points))
}

// LastN returns the last n values.
func (b *Buffer) LastN(n int) []float64 {
	pts := b.LastNPoints(n)
	if pts == nil {
		return nil
	}
	vals := make([]float64, len(pts))
	for i, p := range pts {
		vals[i] = p.Value
	}
	return vals
}

// LastNPoints returns a copy of the last n points.
func (b *Buffer) LastNPoints(n int) []Point {
	if n <= 0 || len(b.Points) == 0 {
		return nil
	}
	start := max(len(b.Points)-n, 0)
	out := make([]Point, len(b.Points[start:]))
	copy(out, b.Points[start:])
	return out
}

// Store manages buffers for all sensors.
type Store struct {
	Data     map[catalog.ID]*Buffer
	Capacity int
}

// NewStore creates a store with the given per-sensor capacity.
func NewStore(capacity int) *Store {
	return &Store{
		Data:     make(map[catalog.ID]*Buffer),
		Capacity: capacity,
	}
}

// Record adds a value for id and reports whether it was new.
func (s *Store) Record(id catalog.ID, v float64, t time.Time) bool {
	b, ok := s.Data[id]
	if !ok {
		b = NewBuffer(s.Capacity)
		s.Data[id] = b
	}
	return b.Push(v, t)
}

// Get returns the buffer for id, or nil.
func (s *Store) Get(id catalog.ID) *Buffer {
	return s.Data[id]
}
