// Package rangeq runs historical range queries for the committed filter and
// tracks their status for the detail page.
package rangeq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/filter"
	"github.com/luki/sensordash/internal/sensor"
)

// ParamLimit caps the number of rows the backend returns.
const ParamLimit = "limite"

// Querier retrieves one sensor's readings for the given query parameters.
type Querier interface {
	Range(ctx context.Context, id catalog.ID, params url.Values) ([]sensor.Reading, error)
}

type Status int

const (
	NoFilter Status = iota
	Loading
	Empty
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Empty:
		return "empty"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "no filter"
	}
}

// RangeQueryError is a failed range query.
type RangeQueryError struct {
	Sensor catalog.ID
	Err    error
}

func (e *RangeQueryError) Error() string {
	return fmt.Sprintf("range query %s: %v", e.Sensor, e.Err)
}

func (e *RangeQueryError) Unwrap() error { return e.Err }

// Ticket authorizes one query for a committed filter.
type Ticket struct {
	gen    uint64
	ctx    context.Context
	Filter filter.Filter
}

// Result is a finished query.
type Result struct {
	gen    uint64
	Filter filter.Filter
	Rows   []sensor.Reading
	Err    error
	Took   time.Duration
}

// Session holds the outcome of the most recent range query. Like the
// polling session it is owned by a single event loop; only Fetch may run
// elsewhere.
type Session struct {
	querier Querier
	limit   int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	gen    uint64
	closed bool
	status Status
	filter filter.Filter
	rows   []sensor.Reading
	err    error
}

type Option func(*Session)

// WithLimit sets the backend row cap; 0 sends no limit.
func WithLimit(n int) Option {
	return func(s *Session) { s.limit = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session with no filter applied.
func New(q Querier, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		querier: q,
		logger:  slog.New(slog.DiscardHandler),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply makes f the active filter. A disabled filter drops the current
// result and issues nothing. An enabled filter starts a new generation, so
// any query still in flight is discarded when it lands.
func (s *Session) Apply(f filter.Filter) (Ticket, bool) {
	if s.closed {
		return Ticket{}, false
	}
	s.gen++
	s.filter = f
	s.rows = nil
	s.err = nil
	if !f.Enabled() {
		s.status = NoFilter
		return Ticket{}, false
	}
	s.status = Loading
	s.logger.Debug("range query", "filter", f.String(), "gen", s.gen)
	return Ticket{gen: s.gen, ctx: s.ctx, Filter: f}, true
}

// Fetch runs the query for t.
func (s *Session) Fetch(t Ticket) Result {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	params := t.Filter.Params()
	if s.limit > 0 {
		params.Set(ParamLimit, strconv.Itoa(s.limit))
	}

	start := time.Now()
	rows, err := s.querier.Range(ctx, t.Filter.Sensor, params)
	r := Result{gen: t.gen, Filter: t.Filter, Took: time.Since(start)}
	if err != nil {
		r.Err = &RangeQueryError{Sensor: t.Filter.Sensor, Err: err}
		return r
	}
	r.Rows = rows
	return r
}

// Resolve commits r when it answers the current filter. It reports whether
// the session changed.
func (s *Session) Resolve(r Result) bool {
	if s.closed || r.gen != s.gen {
		s.logger.Debug("discarding stale range result", "gen", r.gen, "current", s.gen)
		return false
	}
	switch {
	case r.Err != nil:
		s.logger.Warn("range query failed", "err", r.Err)
		s.status = Failed
		s.err = r.Err
	case len(r.Rows) == 0:
		s.status = Empty
	default:
		s.status = Ready
		s.rows = r.Rows
	}
	s.logger.Debug("range query resolved", "status", s.status, "rows", len(r.Rows), "took", r.Took)
	return true
}

// Close cancels any in-flight query and discards late results.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.cancel()
}

func (s *Session) Status() Status        { return s.status }
func (s *Session) Filter() filter.Filter { return s.filter }
func (s *Session) Err() error            { return s.err }

// Rows returns the readings in backend order.
func (s *Session) Rows() []sensor.Reading { return s.rows }

// Chronological returns the readings oldest first.
func (s *Session) Chronological() []sensor.Reading {
	return sensor.Chronological(s.rows)
}

// Message describes the current status for display.
func (s *Session) Message() string {
	switch s.status {
	case Loading:
		return "Loading data..."
	case Empty:
		return "No data for the selected range."
	case Ready:
		return fmt.Sprintf("%d readings.", len(s.rows))
	case Failed:
		return "Could not load the data. Try again."
	default:
		return "Select a sensor and a date range to see data."
	}
}
