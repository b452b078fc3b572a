package rangeq

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/filter"
	"github.com/luki/sensordash/internal/sensor"
)

type call struct {
	id     catalog.ID
	params url.Values
}

type fakeQuerier struct {
	mu    sync.Mutex
	rows  []sensor.Reading
	err   error
	calls []call
}

func (f *fakeQuerier) Range(ctx context.Context, id catalog.ID, params url.Values) ([]sensor.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{id, params})
	return f.rows, f.err
}

func committed(t *testing.T, id catalog.ID) filter.Filter {
	t.Helper()
	var st filter.State
	st.SetSensor(id)
	st.SetStart(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))
	st.SetEnd(time.Date(2024, 1, 1, 23, 59, 0, 0, time.Local))
	f, err := st.Commit()
	require.NoError(t, err)
	return f
}

func readings(t *testing.T) []sensor.Reading {
	t.Helper()
	rows, err := sensor.ParseReadings(catalog.Temperature, []byte(`[
		{"fecha_hora": "2024-01-01 12:00:00", "temperatura": 24},
		{"fecha_hora": "2024-01-01 11:00:00", "temperatura": 23}
	]`))
	require.NoError(t, err)
	return rows
}

func TestNoFilter(t *testing.T) {
	q := &fakeQuerier{}
	s := New(q)
	assert.Equal(t, NoFilter, s.Status())
	assert.Equal(t, "Select a sensor and a date range to see data.", s.Message())

	var st filter.State
	_, ok := s.Apply(st.Clear())
	assert.False(t, ok)
	assert.Equal(t, NoFilter, s.Status())
	assert.Empty(t, q.calls)
}

func TestReady(t *testing.T) {
	q := &fakeQuerier{rows: readings(t)}
	s := New(q)

	ticket, ok := s.Apply(committed(t, catalog.Temperature))
	require.True(t, ok)
	assert.Equal(t, Loading, s.Status())

	require.True(t, s.Resolve(s.Fetch(ticket)))
	assert.Equal(t, Ready, s.Status())
	require.Len(t, s.Rows(), 2)
	assert.Equal(t, "2024-01-01 12:00:00", s.Rows()[0].Timestamp)
	assert.Equal(t, "2024-01-01 11:00:00", s.Chronological()[0].Timestamp)

	require.Len(t, q.calls, 1)
	assert.Equal(t, catalog.Temperature, q.calls[0].id)
	assert.Equal(t, "2024-01-01 00:00:00", q.calls[0].params.Get("fecha_inicio"))
	assert.Equal(t, "2024-01-01 23:59:00", q.calls[0].params.Get("fecha_fin"))
	assert.False(t, q.calls[0].params.Has(ParamLimit))
}

func TestLimit(t *testing.T) {
	q := &fakeQuerier{rows: readings(t)}
	s := New(q, WithLimit(500))
	ticket, ok := s.Apply(committed(t, catalog.Temperature))
	require.True(t, ok)
	s.Fetch(ticket)
	assert.Equal(t, "500", q.calls[0].params.Get(ParamLimit))
}

func TestEmptyAndFailedAreDistinct(t *testing.T) {
	empty := New(&fakeQuerier{})
	ticket, _ := empty.Apply(committed(t, catalog.Humidity))
	require.True(t, empty.Resolve(empty.Fetch(ticket)))
	assert.Equal(t, Empty, empty.Status())
	assert.NoError(t, empty.Err())

	failed := New(&fakeQuerier{err: errors.New("connection refused")})
	ticket, _ = failed.Apply(committed(t, catalog.Humidity))
	require.True(t, failed.Resolve(failed.Fetch(ticket)))
	assert.Equal(t, Failed, failed.Status())

	var rqe *RangeQueryError
	require.ErrorAs(t, failed.Err(), &rqe)
	assert.Equal(t, catalog.Humidity, rqe.Sensor)

	assert.NotEqual(t, empty.Message(), failed.Message())
}

func TestStaleResultDiscarded(t *testing.T) {
	q := &fakeQuerier{rows: readings(t)}
	s := New(q)

	first, ok := s.Apply(committed(t, catalog.Temperature))
	require.True(t, ok)
	late := s.Fetch(first)

	second, ok := s.Apply(committed(t, catalog.Current))
	require.True(t, ok)

	assert.False(t, s.Resolve(late), "result for the previous filter must be dropped")
	assert.Equal(t, Loading, s.Status())

	q.rows = nil
	require.True(t, s.Resolve(s.Fetch(second)))
	assert.Equal(t, Empty, s.Status())
	assert.Equal(t, catalog.Current, s.Filter().Sensor)
}

func TestClearDropsInFlight(t *testing.T) {
	s := New(&fakeQuerier{rows: readings(t)})
	ticket, _ := s.Apply(committed(t, catalog.Temperature))
	late := s.Fetch(ticket)

	_, ok := s.Apply(filter.Filter{})
	assert.False(t, ok)
	assert.False(t, s.Resolve(late))
	assert.Equal(t, NoFilter, s.Status())
	assert.Empty(t, s.Rows())
}

func TestClose(t *testing.T) {
	s := New(&fakeQuerier{rows: readings(t)})
	ticket, _ := s.Apply(committed(t, catalog.Temperature))
	late := s.Fetch(ticket)
	s.Close()
	assert.False(t, s.Resolve(late))
	_, ok := s.Apply(committed(t, catalog.Temperature))
	assert.False(t, ok)
}
