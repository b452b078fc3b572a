package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luki/sensordash/internal/api"
	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/sensor"
)

type fakeFetcher struct {
	mu    sync.Mutex
	snaps []sensor.Snapshot
	errs  []error
	calls int
}

func (f *fakeFetcher) Live(ctx context.Context) (sensor.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.snaps) {
		return f.snaps[i], nil
	}
	return f.snaps[len(f.snaps)-1], nil
}

func tempSnapshot(t *testing.T, latest, previous string) sensor.Snapshot {
	t.Helper()
	snap, err := sensor.ParseSnapshot([]byte(`{"temperatura": [
		{"fecha_hora": "2024-01-01 10:00:02", "temperatura": ` + latest + `},
		{"fecha_hora": "2024-01-01 10:00:01", "temperatura": ` + previous + `}
	]}`))
	require.NoError(t, err)
	return snap
}

func poll(s *Session) bool {
	t, ok := s.Tick()
	if !ok {
		return false
	}
	return s.Apply(s.Fetch(t))
}

func TestReadyAfterFirstPoll(t *testing.T) {
	s := New(&fakeFetcher{snaps: []sensor.Snapshot{tempSnapshot(t, "36", "34")}})
	assert.Equal(t, Idle, s.View().Status)

	require.True(t, poll(s))

	v := s.View()
	assert.Equal(t, Ready, v.Status)
	assert.NoError(t, v.LastErr)
	require.NotNil(t, v.Frame)
	assert.Equal(t, uint64(1), v.Frame.Version)

	st, ok := v.Frame.State(catalog.Temperature)
	require.True(t, ok)
	assert.Equal(t, classify.Up, st.Trend)
	assert.Equal(t, classify.Critical, st.Severity)
}

func TestSkipIfBusy(t *testing.T) {
	s := New(&fakeFetcher{snaps: []sensor.Snapshot{tempSnapshot(t, "20", "20")}})

	first, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, Fetching, s.View().Status)

	_, ok = s.Tick()
	assert.False(t, ok, "second tick must be skipped while a fetch is in flight")
	_, ok = s.Tick()
	assert.False(t, ok)
	assert.Equal(t, uint64(2), s.View().Skipped)

	require.True(t, s.Apply(s.Fetch(first)))

	_, ok = s.Tick()
	assert.True(t, ok, "tick after completion starts a new fetch")
}

func TestFailureKeepsLastGoodFrame(t *testing.T) {
	down := &api.TransportError{Op: "live", URL: "http://backend/datos", Err: errors.New("connection refused")}
	f := &fakeFetcher{
		snaps: []sensor.Snapshot{tempSnapshot(t, "22", "21")},
		errs:  []error{nil, down},
	}
	s := New(f)

	require.True(t, poll(s))
	good := s.View().Frame

	require.True(t, poll(s))
	v := s.View()
	assert.Equal(t, Failed, v.Status)
	assert.True(t, v.Stale())
	assert.Same(t, good, v.Frame)

	var te *api.TransportError
	require.ErrorAs(t, v.LastErr, &te)

	st, ok := v.Frame.State(catalog.Temperature)
	require.True(t, ok)
	assert.Equal(t, 22.0, st.Latest)

	// Failed -> Fetching -> Ready clears the error.
	require.True(t, poll(s))
	v = s.View()
	assert.Equal(t, Ready, v.Status)
	assert.NoError(t, v.LastErr)
	assert.Equal(t, uint64(2), v.Frame.Version)
}

func TestMalformedSnapshotFailsPoll(t *testing.T) {
	_, perr := sensor.ParseSnapshot([]byte(`[1,2]`))
	require.Error(t, perr)

	s := New(&fakeFetcher{errs: []error{perr}, snaps: []sensor.Snapshot{{}}})
	require.True(t, poll(s))

	v := s.View()
	assert.Equal(t, Failed, v.Status)
	assert.Nil(t, v.Frame)
	var malformed *sensor.MalformedSnapshotError
	assert.ErrorAs(t, v.LastErr, &malformed)
}

func TestFramesAreReplacedNotMutated(t *testing.T) {
	f := &fakeFetcher{snaps: []sensor.Snapshot{
		tempSnapshot(t, "22", "21"),
		tempSnapshot(t, "25", "22"),
	}}
	s := New(f)

	require.True(t, poll(s))
	first := s.View().Frame
	require.True(t, poll(s))
	second := s.View().Frame

	assert.NotSame(t, first, second)
	st, _ := first.State(catalog.Temperature)
	assert.Equal(t, 22.0, st.Latest, "old frame must keep its values")
	st, _ = second.State(catalog.Temperature)
	assert.Equal(t, 25.0, st.Latest)
	assert.Greater(t, second.Version, first.Version)
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	s := New(&fakeFetcher{snaps: []sensor.Snapshot{tempSnapshot(t, "22", "21")}})

	ticket, ok := s.Tick()
	require.True(t, ok)
	result := s.Fetch(ticket)

	s.Close()
	assert.False(t, s.Apply(result), "result arriving after close must be ignored")
	assert.Nil(t, s.View().Frame)

	_, ok = s.Tick()
	assert.False(t, ok, "closed session never starts a fetch")
}

type blockingFetcher struct{ started chan struct{} }

func (b *blockingFetcher) Live(ctx context.Context) (sensor.Snapshot, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloseCancelsFetch(t *testing.T) {
	b := &blockingFetcher{started: make(chan struct{})}
	s := New(b)

	ticket, ok := s.Tick()
	require.True(t, ok)

	done := make(chan Result, 1)
	go func() { done <- s.Fetch(ticket) }()

	<-b.started
	s.Close()

	select {
	case r := <-done:
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.False(t, s.Apply(r))
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
}

func TestInvalidReadingIsPlaceholder(t *testing.T) {
	snap, err := sensor.ParseSnapshot([]byte(`{
		"temperatura": [{"fecha_hora": "2024-01-01 10:00:02", "temperatura": "NaN"}],
		"humedad": [{"fecha_hora": "2024-01-01 10:00:02", "humedad": 50}],
		"luz": []
	}`))
	require.NoError(t, err)

	f := BuildFrame(snap, time.Now())
	assert.Equal(t, []catalog.ID{catalog.Temperature, catalog.Humidity}, f.Order)
	assert.Contains(t, f.Invalid, catalog.Temperature)
	assert.Contains(t, f.States, catalog.Humidity)
	assert.False(t, f.Has(catalog.Light))
}

func TestFrameSeriesIsChronological(t *testing.T) {
	f := BuildFrame(tempSnapshot(t, "22", "21"), time.Now())
	series := f.Series(catalog.Temperature)
	require.Len(t, series, 2)
	assert.Equal(t, "2024-01-01 10:00:01", series[0].Timestamp)
	assert.Empty(t, f.OutOfOrder)
}

type countingObserver struct{ n atomic.Int32 }

func (c *countingObserver) Observe(View, Result) { c.n.Add(1) }

func TestRun(t *testing.T) {
	obs := &countingObserver{}
	s := New(&fakeFetcher{snaps: []sensor.Snapshot{tempSnapshot(t, "22", "21")}}, WithObserver(obs))
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var updates atomic.Int32
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, func(v View) {
			if v.Status == Ready && updates.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("Run did not stop")
	}
	assert.GreaterOrEqual(t, obs.n.Load(), int32(3))

	_, ok := s.Tick()
	assert.False(t, ok, "Run closes the session on exit")
}
