package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/poll"
	"github.com/luki/sensordash/internal/sensor"
)

type scriptFetcher struct {
	payloads []string
	errs     []error
	n        int
}

func (f *scriptFetcher) Live(context.Context) (sensor.Snapshot, error) {
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return sensor.ParseSnapshot([]byte(f.payloads[min(i, len(f.payloads)-1)]))
}

const payload = `{
	"temperatura": [
		{"fecha_hora": "2024-01-01 10:00:02", "temperatura": 36},
		{"fecha_hora": "2024-01-01 10:00:01", "temperatura": 34}
	],
	"puerta": [{"fecha_hora": "2024-01-01 10:00:02", "puerta": "1"}],
	"humedad": [{"fecha_hora": "2024-01-01 10:00:02", "humedad": "n/a"}]
}`

func step(s *poll.Session) {
	if t, ok := s.Tick(); ok {
		s.Apply(s.Fetch(t))
	}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealthBeforeFirstPoll(t *testing.T) {
	e := New(nil)
	code, _ := get(t, e.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := get(t, e.Handler(), "/api/state")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"idle"`)
}

func TestStateAndMetrics(t *testing.T) {
	e := New(nil)
	s := poll.New(&scriptFetcher{payloads: []string{payload}}, poll.WithObserver(e))
	step(s)

	h := e.Handler()

	code, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, h, "/api/state")
	require.Equal(t, http.StatusOK, code)
	var st State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, s.ID(), st.Session)
	assert.Equal(t, "ready", st.Status)
	assert.Equal(t, uint64(1), st.Version)
	require.Len(t, st.Sensors, 3)

	byID := map[catalog.ID]SensorState{}
	for _, ss := range st.Sensors {
		byID[ss.ID] = ss
	}
	temp := byID[catalog.Temperature]
	require.NotNil(t, temp.Latest)
	assert.Equal(t, 36.0, *temp.Latest)
	assert.Equal(t, "up", temp.Trend)
	assert.Equal(t, "critical", temp.Severity)
	assert.Equal(t, "Door open", byID[catalog.Door].Label)
	assert.Equal(t, "n/a", byID[catalog.Door].Trend)
	assert.NotEmpty(t, byID[catalog.Humidity].Error)
	assert.Nil(t, byID[catalog.Humidity].Latest)

	code, body = get(t, h, "/api/state/temperatura")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"severity":"critical"`)
	code, _ = get(t, h, "/api/state/distancia")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `sensordash_polls_total{result="success"} 1`)
	assert.Contains(t, body, `sensordash_sensor_value{sensor="temperatura"} 36`)
	assert.Contains(t, body, `sensordash_sensor_severity{sensor="temperatura"} 2`)
	assert.Contains(t, body, `sensordash_sensor_invalid{sensor="humedad"} 1`)
	assert.Contains(t, body, `sensordash_frame_version 1`)
}

func TestFailedPollIsStale(t *testing.T) {
	e := New(nil)
	f := &scriptFetcher{
		payloads: []string{payload},
		errs:     []error{nil, errors.New("connection refused")},
	}
	s := poll.New(f, poll.WithObserver(e))
	step(s)
	step(s)

	st := e.State()
	assert.Equal(t, "failed", st.Status)
	assert.True(t, st.Stale)
	assert.Contains(t, st.LastError, "connection refused")
	assert.Len(t, st.Sensors, 3, "last good frame is still served")

	code, _ := get(t, e.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body := get(t, e.Handler(), "/metrics")
	assert.Contains(t, body, `sensordash_polls_total{result="error"} 1`)
}

func TestServeStopsWithContext(t *testing.T) {
	e := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Serve(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-errc)
}
