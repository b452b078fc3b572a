package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/sensor"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /datos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temperatura": [{"fecha_hora": "2024-01-01 10:00:02", "temperatura": 22}]}`))
	})
	mux.HandleFunc("GET /datos/{sensor}/filtrado", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("sensor") != "humedad" {
			http.Error(w, `{"error": "Sensor no encontrado"}`, http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("fecha_inicio") != "2024-01-01 00:00:00" || q.Get("fecha_fin") != "2024-01-01 23:59:00" {
			http.Error(w, `{"error": "bad range"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"fecha_hora": "2024-01-01 00:00:00", "humedad": 40}, {"fecha_hora": "2024-01-01 00:01:00", "humedad": 41}]`))
	})
	mux.HandleFunc("GET /datos/{sensor}/ultimo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fecha_hora": "2024-01-01 10:00:02", "puerta": "1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLive(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL+"/", time.Second)

	snap, err := c.Live(context.Background())
	require.NoError(t, err)
	require.Len(t, snap[catalog.Temperature], 1)
	v, err := snap[catalog.Temperature][0].Number()
	require.NoError(t, err)
	assert.Equal(t, 22.0, v)
}

func TestRange(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL, time.Second)

	params := url.Values{}
	params.Set("fecha_inicio", "2024-01-01 00:00:00")
	params.Set("fecha_fin", "2024-01-01 23:59:00")

	rows, err := c.Range(context.Background(), catalog.Humidity, params)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-01 00:00:00", rows[0].Timestamp)

	_, err = c.Range(context.Background(), catalog.Light, params)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestLatest(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL, time.Second)

	r, err := c.Latest(context.Background(), catalog.Door)
	require.NoError(t, err)
	v, err := r.Number()
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(addr, time.Second)
	_, err := c.Live(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestMalformedLivePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["not", "a", "mapping"]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Live(context.Background())
	var malformed *sensor.MalformedSnapshotError
	assert.True(t, errors.As(err, &malformed), "got %v", err)
}

func TestContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, 5*time.Second).Live(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
