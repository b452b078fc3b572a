// Package poll keeps the live snapshot fresh: a fixed-interval poller with
// at most one fetch in flight, wholesale frame replacement on success, and
// stale-but-present data on failure.
package poll

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/luki/sensordash/internal/sensor"
)

// Interval is the fixed polling period.
const Interval = 1000 * time.Millisecond

// Fetcher retrieves the live snapshot.
type Fetcher interface {
	Live(ctx context.Context) (sensor.Snapshot, error)
}

// Status is the session's position in its state machine.
type Status int

const (
	Idle Status = iota
	Fetching
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Ticket authorizes one fetch. It carries the generation the result must
// match to be committed.
type Ticket struct {
	gen   uint64
	ctx   context.Context
	start time.Time
}

// Result is the outcome of one fetch, ready to be applied.
type Result struct {
	gen   uint64
	Frame *Frame
	Err   error
	At    time.Time
	Took  time.Duration
}

// View is a read-only picture of the session. Frame may be the last good
// frame while LastErr reports a newer failure.
type View struct {
	ID          string
	Status      Status
	Frame       *Frame
	LastErr     error
	LastAttempt time.Time
	Skipped     uint64
}

// Stale reports whether the displayed frame predates a failed poll.
func (v View) Stale() bool {
	return v.LastErr != nil && v.Frame != nil
}

// Observer is notified after every committed result.
type Observer interface {
	Observe(v View, r Result)
}

// Session owns the current frame. All methods except Fetch must be called
// from a single goroutine (the event loop); Fetch only reads immutable
// fields and may run anywhere.
type Session struct {
	id       string
	fetcher  Fetcher
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	gen         uint64
	inflight    bool
	closed      bool
	status      Status
	frame       *Frame
	version     uint64
	lastErr     error
	lastAttempt time.Time
	skipped     uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithObserver registers an observer for committed results.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an idle session.
func New(f Fetcher, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		fetcher:  f,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		interval: Interval,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Tick starts a fetch unless one is already in flight or the session is
// closed. A skipped tick is counted, not queued.
func (s *Session) Tick() (Ticket, bool) {
	if s.closed {
		return Ticket{}, false
	}
	if s.inflight {
		s.skipped++
		s.logger.Debug("tick skipped, fetch in flight", "skipped", s.skipped)
		return Ticket{}, false
	}
	s.inflight = true
	s.gen++
	s.status = Fetching
	s.lastAttempt = s.now()
	return Ticket{gen: s.gen, ctx: s.ctx, start: s.lastAttempt}, true
}

// Fetch performs the network call for t and derives the next frame.
func (s *Session) Fetch(t Ticket) Result {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	snap, err := s.fetcher.Live(ctx)
	r := Result{gen: t.gen, At: s.now()}
	r.Took = r.At.Sub(t.start)
	if err != nil {
		r.Err = err
		return r
	}
	r.Frame = BuildFrame(snap, r.At)
	return r
}

// Apply commits r if it belongs to the current generation of an open
// session. It reports whether the view changed.
func (s *Session) Apply(r Result) bool {
	if s.closed || r.gen != s.gen {
		s.logger.Debug("discarding stale poll result", "gen", r.gen, "current", s.gen, "closed", s.closed)
		return false
	}
	s.inflight = false

	if r.Err != nil {
		if s.lastErr == nil {
			s.logger.Warn("poll failed", "err", r.Err, "stale", s.frame != nil)
		} else {
			s.logger.Debug("poll failed", "err", r.Err)
		}
		s.status = Failed
		s.lastErr = r.Err
		s.notify(r)
		return true
	}

	if s.lastErr != nil {
		s.logger.Info("poll recovered", "after", s.lastErr)
	}
	s.logFrameIssues(r.Frame)

	s.version++
	r.Frame.Version = s.version
	s.frame = r.Frame
	s.status = Ready
	s.lastErr = nil
	s.notify(r)
	return true
}

func (s *Session) logFrameIssues(next *Frame) {
	for id, err := range next.Invalid {
		if s.frame != nil {
			if _, seen := s.frame.Invalid[id]; seen {
				continue
			}
		}
		s.logger.Warn("invalid reading", "sensor", id, "err", err)
	}
	for _, id := range next.OutOfOrder {
		if s.frame != nil && slices.Contains(s.frame.OutOfOrder, id) {
			continue
		}
		s.logger.Warn("readings not newest first", "sensor", id)
	}
}

func (s *Session) notify(r Result) {
	if s.observer != nil {
		s.observer.Observe(s.View(), r)
	}
}

// View returns the current read-only view.
func (s *Session) View() View {
	return View{
		ID:          s.id,
		Status:      s.status,
		Frame:       s.frame,
		LastErr:     s.lastErr,
		LastAttempt: s.lastAttempt,
		Skipped:     s.skipped,
	}
}

// Close stops the session. The in-flight fetch is cancelled and its result
// will be discarded on arrival.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.inflight = false
	s.cancel()
	s.logger.Debug("session closed")
}

// Run drives the session on its own ticker until ctx is done. onChange is
// called from Run's goroutine after every committed result.
func (s *Session) Run(ctx context.Context, onChange func(View)) error {
	defer s.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One slot is enough: at most one fetch is ever in flight.
	results := make(chan Result, 1)
	start := func() {
		t, ok := s.Tick()
		if !ok {
			return
		}
		go func() { results <- s.Fetch(t) }()
	}

	start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start()
		case r := <-results:
			if s.Apply(r) && onChange != nil {
				onChange(s.View())
			}
		}
	}
}
