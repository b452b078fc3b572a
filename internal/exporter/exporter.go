// Package exporter publishes the polling session over HTTP for headless
// runs: Prometheus metrics, a health probe and a JSON view of the latest
// classified frame.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/poll"
)

const (
	metricPrefix = "sensordash_"

	resultSuccess = "success"
	resultError   = "error"
)

// SensorState is one sensor in the JSON state document.
type SensorState struct {
	ID        catalog.ID `json:"id"`
	Name      string     `json:"name"`
	Unit      string     `json:"unit,omitempty"`
	Latest    *float64   `json:"latest,omitempty"`
	Previous  *float64   `json:"previous,omitempty"`
	Label     string     `json:"label,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	Trend     string     `json:"trend,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// State is the JSON document served at /api/state.
type State struct {
	Session   string        `json:"session"`
	Status    string        `json:"status"`
	Version   uint64        `json:"version"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
	Stale     bool          `json:"stale"`
	LastError string        `json:"last_error,omitempty"`
	Sensors   []SensorState `json:"sensors"`
}

// Exporter observes a poll.Session. Observe runs on the session's owner
// goroutine; HTTP handlers only read the last published State.
type Exporter struct {
	logger   *slog.Logger
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollLatency  prometheus.Histogram
	skipped      prometheus.Gauge
	frameVersion prometheus.Gauge
	lastSuccess  prometheus.Gauge
	value        *prometheus.GaugeVec
	severity     *prometheus.GaugeVec
	invalid      *prometheus.GaugeVec

	state atomic.Pointer[State]
}

// New creates an exporter with its own metrics registry.
func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Exporter{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "polls_total",
				Help: "Completed polls by result",
			},
			[]string{"result"},
		),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_latency_seconds",
			Help:    "Live snapshot fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "poll_ticks_skipped",
			Help: "Ticks skipped because a fetch was still in flight",
		}),
		frameVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "frame_version",
			Help: "Version of the current snapshot frame",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}),
		value: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_value",
				Help: "Latest value per sensor",
			},
			[]string{"sensor"},
		),
		severity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_severity",
				Help: "Latest severity per sensor (0 normal, 1 warning, 2 critical)",
			},
			[]string{"sensor"},
		),
		invalid: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sensor_invalid",
				Help: "1 when the sensor's latest reading could not be classified",
			},
			[]string{"sensor"},
		),
	}
	e.registry.MustRegister(
		e.polls, e.pollLatency, e.skipped, e.frameVersion,
		e.lastSuccess, e.value, e.severity, e.invalid,
	)
	e.state.Store(&State{Status: poll.Idle.String(), Sensors: []SensorState{}})
	return e
}

// Registry exposes the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Observe implements poll.Observer.
func (e *Exporter) Observe(v poll.View, r poll.Result) {
	e.skipped.Set(float64(v.Skipped))
	if r.Err != nil {
		e.polls.WithLabelValues(resultError).Inc()
	} else {
		e.polls.WithLabelValues(resultSuccess).Inc()
		e.pollLatency.Observe(r.Took.Seconds())
		e.lastSuccess.Set(float64(r.At.Unix()))
		e.observeFrame(v.Frame)
	}
	e.state.Store(buildState(v))
}

func (e *Exporter) observeFrame(f *poll.Frame) {
	if f == nil {
		return
	}
	e.frameVersion.Set(float64(f.Version))
	for _, id := range f.Order {
		label := string(id)
		if st, ok := f.State(id); ok {
			e.value.WithLabelValues(label).Set(st.Latest)
			e.severity.WithLabelValues(label).Set(float64(st.Severity))
			e.invalid.WithLabelValues(label).Set(0)
			continue
		}
		e.value.DeleteLabelValues(label)
		e.severity.DeleteLabelValues(label)
		e.invalid.WithLabelValues(label).Set(1)
	}
}

func buildState(v poll.View) *State {
	s := &State{
		Session: v.ID,
		Status:  v.Status.String(),
		Stale:   v.Stale(),
		Sensors: []SensorState{},
	}
	if v.LastErr != nil {
		s.LastError = v.LastErr.Error()
	}
	f := v.Frame
	if f == nil {
		return s
	}
	s.Version = f.Version
	at := f.FetchedAt
	s.FetchedAt = &at

	for _, id := range f.Order {
		desc := catalog.Describe(id)
		ss := SensorState{ID: id, Name: desc.DisplayName, Unit: desc.Unit}
		if st, ok := f.State(id); ok {
			latest := st.Latest
			ss.Latest = &latest
			if st.HasPrevious {
				prev := st.Previous
				ss.Previous = &prev
			}
			ss.Label = classify.Label(desc, st.Latest)
			ss.Timestamp = st.Timestamp
			ss.Trend = st.Trend.String()
			ss.Severity = st.Severity.String()
		} else if err, ok := f.Invalid[id]; ok {
			ss.Error = err.Error()
			ss.Timestamp = f.Entries[id].Latest.Timestamp
		}
		s.Sensors = append(s.Sensors, ss)
	}
	return s
}

// State returns the last published state document.
func (e *Exporter) State() *State { return e.state.Load() }

// Handler returns the HTTP routes with access logging.
func (e *Exporter) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", e.health).Methods("GET")
	r.HandleFunc("/api/state", e.getState).Methods("GET")
	r.HandleFunc("/api/state/{sensor}", e.getSensor).Methods("GET")
	return handlers.CustomLoggingHandler(io.Discard, r, e.logRequest)
}

func (e *Exporter) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	e.logger.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
	)
}

// health reports 200 once a frame is available and the latest poll
// succeeded, 503 otherwise.
func (e *Exporter) health(w http.ResponseWriter, _ *http.Request) {
	s := e.State()
	code := http.StatusOK
	if s.Status != poll.Ready.String() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     s.Status,
		"version":    s.Version,
		"last_error": s.LastError,
	})
}

func (e *Exporter) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.State())
}

func (e *Exporter) getSensor(w http.ResponseWriter, r *http.Request) {
	id := catalog.ID(mux.Vars(r)["sensor"])
	for _, ss := range e.State().Sensors {
		if ss.ID == id {
			writeJSON(w, http.StatusOK, ss)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no data for sensor " + string(id)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	e.logger.Info("exporter listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
