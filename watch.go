package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/luki/sensordash/internal/api"
	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/config"
	"github.com/luki/sensordash/internal/exporter"
	"github.com/luki/sensordash/internal/poll"
	"github.com/luki/sensordash/internal/store"
)

// observers fans one committed result out to several observers.
type observers []poll.Observer

func (o observers) Observe(v poll.View, r poll.Result) {
	for _, obs := range o {
		obs.Observe(v, r)
	}
}

// transitions logs status and severity changes between polls.
type transitions struct {
	logger   *slog.Logger
	status   poll.Status
	severity map[catalog.ID]classify.Severity
}

func newTransitions(l *slog.Logger) *transitions {
	return &transitions{logger: l, severity: make(map[catalog.ID]classify.Severity)}
}

func (t *transitions) Observe(v poll.View, r poll.Result) {
	if v.Status != t.status {
		t.logger.Info("status changed", "from", t.status, "to", v.Status)
		t.status = v.Status
	}
	if r.Err != nil || v.Frame == nil {
		return
	}
	for _, id := range v.Frame.Order {
		st, ok := v.Frame.State(id)
		if !ok {
			continue
		}
		prev, seen := t.severity[id]
		t.severity[id] = st.Severity
		if seen && prev == st.Severity {
			continue
		}
		attrs := []any{
			"sensor", id,
			"value", classify.Label(catalog.Describe(id), st.Latest),
			"severity", st.Severity,
		}
		switch st.Severity {
		case classify.Critical:
			t.logger.Error("sensor critical", attrs...)
		case classify.Warning:
			t.logger.Warn("sensor warning", attrs...)
		default:
			if seen {
				t.logger.Info("sensor back to normal", attrs...)
			}
		}
	}
}

// recorder writes each new frame to the CSV store.
type recorder struct {
	store  *store.DiskStore
	logger *slog.Logger
}

func (rec recorder) Observe(v poll.View, r poll.Result) {
	if r.Err != nil || r.Frame == nil {
		return
	}
	states := make([]classify.State, 0, len(r.Frame.Order))
	for _, id := range r.Frame.Order {
		if st, ok := r.Frame.State(id); ok {
			states = append(states, st)
		}
	}
	if _, err := rec.store.Write(states, r.Frame.FetchedAt); err != nil {
		rec.logger.Error("recording failed", "err", err)
	}
}

// runWatch polls without a UI, logging transitions and serving metrics
// until ctx is done.
func runWatch(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	client := api.New(cfg.APIURL, cfg.HTTPTimeout, api.WithLogger(logger))
	exp := exporter.New(logger)

	obs := observers{exp, newTransitions(logger)}
	if cfg.Record {
		ds, err := store.New(cfg.DataDir)
		if err != nil {
			return err
		}
		defer ds.Close()
		obs = append(obs, recorder{store: ds, logger: logger})
	}

	session := poll.New(client, poll.WithLogger(logger), poll.WithObserver(obs))
	logger.Info("watching", "api", cfg.APIURL, "session", session.ID(), "metrics", cfg.MetricsAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx, nil)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return exp.Serve(ctx, cfg.MetricsAddr)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		logger.Info("watch stopped")
		return nil
	}
	return err
}
